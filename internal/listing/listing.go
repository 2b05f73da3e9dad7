// Package listing caches per-category directory scans.
//
// A cached listing is only ever replaced by a non-empty scan: when a refresh fails or
// finds nothing, the previous listing keeps being served. Scan errors never leave
// this package.
package listing

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/hfi/randmedia/internal/metrics"
)

// DefaultRefresh is the age after which a listing is rescanned
const DefaultRefresh = 5 * time.Minute

// UnknownExt is the extension recorded for files without a suffix
const UnknownExt = "unknown"

// File is one servable entry of a category directory
type File struct {
	Name string
	Ext  string
	Size int64
}

type entry struct {
	files       []File
	refreshedAt time.Time
}

// Cache maps a category name to its last good listing.
// It is not safe for concurrent use; state.Shared guards it.
type Cache struct {
	fs      afero.Fs
	refresh time.Duration
	now     func() time.Time
	logger  zerolog.Logger
	entries map[string]*entry
}

// Option configures a Cache
type Option func(*Cache)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger used for absorbed scan failures
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates a listing cache over fs
func New(fs afero.Fs, refresh time.Duration, opts ...Option) *Cache {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}

	c := &Cache{
		fs:      fs,
		refresh: refresh,
		now:     time.Now,
		logger:  zerolog.Nop(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Files returns the listing for the category directory at categoryPath.
// The cache key is the final path segment. The returned slice must not be modified.
func (c *Cache) Files(categoryPath string) ([]File, bool) {
	name := filepath.Base(categoryPath)
	now := c.now()

	cached, ok := c.entries[name]
	if !ok || now.Sub(cached.refreshedAt) > c.refresh {
		files, err := c.scan(categoryPath)
		switch {
		case err != nil:
			metrics.RecordListingScan("failed")
			c.logger.Debug().Err(err).Str("category", name).Msg("listing scan failed, keeping cached entry")
		case len(files) == 0:
			metrics.RecordListingScan("empty")
		default:
			metrics.RecordListingScan("refreshed")
			cached = &entry{files: files, refreshedAt: now}
			c.entries[name] = cached
			ok = true
		}
	}

	if !ok || len(cached.files) == 0 {
		return nil, false
	}
	return cached.files, true
}

// Invalidate makes the next Files call for category rescan.
// The current listing stays in place until a non-empty scan replaces it.
func (c *Cache) Invalidate(category string) {
	if cached, ok := c.entries[category]; ok {
		cached.refreshedAt = time.Time{}
	}
}

// Len returns the number of cached categories
func (c *Cache) Len() int {
	return len(c.entries)
}

func (c *Cache) scan(dir string) ([]File, error) {
	infos, err := afero.ReadDir(c.fs, dir)
	if err != nil {
		return nil, err
	}

	files := make([]File, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || info.Size() == 0 {
			continue
		}
		files = append(files, File{
			Name: info.Name(),
			Ext:  Extension(info.Name()),
			Size: info.Size(),
		})
	}
	return files, nil
}

// Extension returns the lowercased suffix of name without the dot, or UnknownExt.
// A leading dot alone (".hidden") is not an extension.
func Extension(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || ext == "." || ext == name {
		return UnknownExt
	}
	return strings.ToLower(ext[1:])
}
