// Package storage holds the token-to-path mappings that back public asset URLs.
package storage

import (
	"time"

	"github.com/hfi/randmedia/pkg/token"
)

// DefaultTTL is how long an issued token stays resolvable
const DefaultTTL = time.Hour

// Mapping is the real path behind a token and the instant it stops resolving
type Mapping struct {
	Path      string
	ExpiresAt time.Time
}

// Valid reports whether the mapping still resolves at now
func (m Mapping) Valid(now time.Time) bool {
	return now.Before(m.ExpiresAt)
}

// MappingStore defines the interface for storing token mappings.
//
// Implementations do no locking of their own unless stated; the owner serializes access.
type MappingStore interface {
	// Add prunes expired mappings, then issues a token for path.
	// A token that collides with an existing one replaces it.
	Add(path string) (string, error)

	// Resolve returns the mapping for a token that has not expired. It never prunes.
	Resolve(tok string) (Mapping, bool)

	// Prune removes expired mappings and reports how many were dropped
	Prune() (int, error)

	// Size returns the number of resident mappings, expired ones included
	Size() int

	// Ping checks the backend is reachable
	Ping() error

	// Close releases any resources
	Close() error
}

// Generator derives a token from a path and an instant
type Generator func(path string, at time.Time) string

type options struct {
	now      func() time.Time
	generate Generator
}

// Option configures a store
type Option func(*options)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithGenerator overrides token derivation
func WithGenerator(g Generator) Option {
	return func(o *options) {
		o.generate = g
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:      time.Now,
		generate: token.Generate,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
