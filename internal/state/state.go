// Package state owns every piece of mutable core state behind a single lock.
//
// Shared holds the token store and the directory listings. Selection and token
// issuance run under the exclusive lock, so all picks are serialized process-wide;
// lookups take the read lock. The stores themselves do no locking.
package state

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/hfi/randmedia/internal/apperr"
	"github.com/hfi/randmedia/internal/listing"
	"github.com/hfi/randmedia/internal/metrics"
	"github.com/hfi/randmedia/internal/selector"
	"github.com/hfi/randmedia/internal/storage"
)

// Pick is a selected asset together with the token issued for it
type Pick struct {
	selector.Asset
	Token string
}

// Stats is a point-in-time view of state sizes
type Stats struct {
	Tokens   int
	Listings int
}

// Shared is the single owner of the token store and listing caches
type Shared struct {
	mu       sync.RWMutex
	tokens   storage.MappingStore
	listings map[string]*listing.Cache // per base directory

	fs       afero.Fs
	selector *selector.Selector
	refresh  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// Option configures Shared
type Option func(*Shared)

// WithLogger sets the logger handed to listing caches
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Shared) {
		s.logger = logger
	}
}

// WithSelector replaces the default selector
func WithSelector(sel *selector.Selector) Option {
	return func(s *Shared) {
		s.selector = sel
	}
}

// WithListingRefresh sets the listing refresh interval
func WithListingRefresh(d time.Duration) Option {
	return func(s *Shared) {
		s.refresh = d
	}
}

// WithClock overrides the time source of listing caches
func WithClock(now func() time.Time) Option {
	return func(s *Shared) {
		s.now = now
	}
}

// New creates the shared state over fs with the given token store
func New(fs afero.Fs, tokens storage.MappingStore, opts ...Option) *Shared {
	s := &Shared{
		tokens:   tokens,
		listings: make(map[string]*listing.Cache),
		fs:       fs,
		refresh:  listing.DefaultRefresh,
		now:      time.Now,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.selector == nil {
		s.selector = selector.New(fs)
	}
	return s
}

// Pick selects a random asset below baseDir (optionally within category) and issues
// a token for it. The whole sequence holds the exclusive lock.
func (s *Shared) Pick(baseDir, category string) (Pick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cache := s.cacheFor(baseDir)
	asset, ok := s.selector.Select(cache, baseDir, category)
	if !ok {
		return Pick{}, apperr.NotFound("no asset available")
	}

	tok, err := s.tokens.Add(asset.Path)
	if err != nil {
		return Pick{}, apperr.Wrap(apperr.CodeInternal, "failed to issue token", err)
	}

	metrics.TokensIssuedTotal.Inc()
	metrics.SetListingCacheSize(s.listingCount())

	return Pick{Asset: asset, Token: tok}, nil
}

// Resolve returns the live mapping for tok
func (s *Shared) Resolve(tok string) (storage.Mapping, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mapping, ok := s.tokens.Resolve(tok)
	metrics.RecordTokenResolution(ok)
	return mapping, ok
}

// Sweep prunes expired tokens outside of an insertion
func (s *Shared) Sweep() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.tokens.Prune()
	metrics.SetStoreSizes(s.tokens.Size(), s.listingCount())
	return removed, err
}

// Invalidate marks the listing of category below baseDir for rescan
func (s *Shared) Invalidate(baseDir, category string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cache, ok := s.listings[filepath.Clean(baseDir)]; ok {
		cache.Invalidate(category)
	}
}

// Categories lists category directories below baseDir
func (s *Shared) Categories(baseDir string) []string {
	return s.selector.Categories(baseDir)
}

// Files returns the cached listing of one category, refreshing it if due
func (s *Shared) Files(baseDir, category string) ([]listing.File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, ok := s.cacheFor(baseDir).Files(filepath.Join(baseDir, category))
	if !ok {
		return nil, false
	}
	return append([]listing.File(nil), files...), true
}

// Stats reports current sizes and publishes them as gauges.
// Token store sizes may cost a backend round-trip per key page, so this stays off the
// selection path.
func (s *Shared) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Tokens:   s.tokens.Size(),
		Listings: s.listingCount(),
	}
	metrics.SetStoreSizes(stats.Tokens, stats.Listings)
	return stats
}

// Ping checks the token store backend
func (s *Shared) Ping() error {
	return s.tokens.Ping()
}

// cacheFor must be called with the exclusive lock held
func (s *Shared) cacheFor(baseDir string) *listing.Cache {
	key := filepath.Clean(baseDir)
	cache, ok := s.listings[key]
	if !ok {
		cache = listing.New(s.fs, s.refresh,
			listing.WithClock(s.now),
			listing.WithLogger(s.logger.With().Str("base_dir", key).Logger()),
		)
		s.listings[key] = cache
	}
	return cache
}

func (s *Shared) listingCount() int {
	n := 0
	for _, cache := range s.listings {
		n += cache.Len()
	}
	return n
}
