// Package selector picks a random asset from a group directory.
package selector

import (
	"math/rand/v2"
	"path/filepath"
	"slices"

	"github.com/spf13/afero"

	"github.com/hfi/randmedia/internal/listing"
)

// Asset is a selected file and the category it came from
type Asset struct {
	Filename string
	Ext      string
	Category string
	// Path is the real filesystem path; it never leaves the process
	Path string
	Size int64
}

// Selector chooses categories and files uniformly at random
type Selector struct {
	fs   afero.Fs
	intn func(n int) int
}

// Option configures a Selector
type Option func(*Selector)

// WithRand makes selection draw from r
func WithRand(r *rand.Rand) Option {
	return func(s *Selector) {
		s.intn = r.IntN
	}
}

// New creates a selector reading category directories from fs
func New(fs afero.Fs, opts ...Option) *Selector {
	s := &Selector{
		fs:   fs,
		intn: rand.IntN,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Categories lists the immediate subdirectories of baseDir.
// An unreadable baseDir has no categories.
func (s *Selector) Categories(baseDir string) []string {
	infos, err := afero.ReadDir(s.fs, baseDir)
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() {
			names = append(names, info.Name())
		}
	}
	return names
}

// Select picks a file from category below baseDir, or from a random category when
// category is empty. A named category that does not exist yields nothing.
func (s *Selector) Select(cache *listing.Cache, baseDir, category string) (Asset, bool) {
	candidates := s.Categories(baseDir)
	if len(candidates) == 0 {
		return Asset{}, false
	}

	if category != "" {
		if !slices.Contains(candidates, category) {
			return Asset{}, false
		}
	} else {
		category = candidates[s.intn(len(candidates))]
	}

	dir := filepath.Join(baseDir, category)
	files, ok := cache.Files(dir)
	if !ok || len(files) == 0 {
		return Asset{}, false
	}

	file := files[s.intn(len(files))]
	return Asset{
		Filename: file.Name,
		Ext:      file.Ext,
		Category: category,
		Path:     filepath.Join(dir, file.Name),
		Size:     file.Size,
	}, true
}
