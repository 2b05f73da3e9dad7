package storage

import (
	"time"

	"github.com/hfi/randmedia/internal/metrics"
)

// MemoryStore is an in-memory implementation of MappingStore.
// It is not safe for concurrent use; state.Shared guards it.
type MemoryStore struct {
	mappings map[string]Mapping // keyed by token
	ttl      time.Duration
	now      func() time.Time
	generate Generator
}

// NewMemoryStore creates a new in-memory mapping store
func NewMemoryStore(ttl time.Duration, opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &MemoryStore{
		mappings: make(map[string]Mapping),
		ttl:      ttl,
		now:      o.now,
		generate: o.generate,
	}
}

// Add prunes expired mappings and stores a fresh token for path
func (m *MemoryStore) Add(path string) (string, error) {
	now := m.now()
	m.prune(now)

	tok := m.generate(path, now)
	m.mappings[tok] = Mapping{
		Path:      path,
		ExpiresAt: now.Add(m.ttl),
	}

	return tok, nil
}

// Resolve retrieves the mapping for a live token
func (m *MemoryStore) Resolve(tok string) (Mapping, bool) {
	mapping, ok := m.mappings[tok]
	if !ok || !mapping.Valid(m.now()) {
		return Mapping{}, false
	}
	return mapping, true
}

// Prune removes expired mappings
func (m *MemoryStore) Prune() (int, error) {
	return m.prune(m.now()), nil
}

func (m *MemoryStore) prune(now time.Time) int {
	removed := 0
	for tok, mapping := range m.mappings {
		if !mapping.Valid(now) {
			delete(m.mappings, tok)
			removed++
		}
	}
	metrics.TokensPrunedTotal.Add(float64(removed))
	return removed
}

// Size returns the number of resident mappings
func (m *MemoryStore) Size() int {
	return len(m.mappings)
}

// Ping always succeeds for the in-memory store
func (m *MemoryStore) Ping() error {
	return nil
}

// Close is a no-op
func (m *MemoryStore) Close() error {
	return nil
}
