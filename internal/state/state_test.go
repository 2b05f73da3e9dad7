package state

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hfi/randmedia/internal/apperr"
	"github.com/hfi/randmedia/internal/storage"
)

// failingStore is a MappingStore whose Add always fails
type failingStore struct {
	storage.MemoryStore
	err error
}

func (f *failingStore) Add(string) (string, error) {
	return "", f.err
}

// sizeCountingStore records how often Size is called
type sizeCountingStore struct {
	*storage.MemoryStore
	sizeCalls atomic.Int32
}

func (c *sizeCountingStore) Size() int {
	c.sizeCalls.Add(1)
	return c.MemoryStore.Size()
}

func fixture(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]int{
		"/media/avatars/cats/a.PNG":    10,
		"/media/avatars/cats/b.png":    0,
		"/media/avatars/dogs/rex.jpg":  4,
		"/media/banners/space/sky.gif": 7,
	}
	for path, size := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, afero.WriteFile(fs, path, make([]byte, size), 0o644))
	}
	require.NoError(t, fs.MkdirAll("/media/avatars/cats/nested", 0o755))
	return fs
}

func TestShared_PickIssuesResolvableToken(t *testing.T) {
	fs := fixture(t)
	s := New(fs, storage.NewMemoryStore(time.Hour))

	pick, err := s.Pick("/media/avatars", "cats")
	require.NoError(t, err)
	assert.Equal(t, "a.PNG", pick.Filename)
	assert.Equal(t, "png", pick.Ext)
	assert.Equal(t, "cats", pick.Category)
	assert.Len(t, pick.Token, 8)

	mapping, ok := s.Resolve(pick.Token)
	require.True(t, ok)
	assert.Equal(t, "/media/avatars/cats/a.PNG", mapping.Path)
}

func TestShared_PickLeavesStoreSizeAlone(t *testing.T) {
	store := &sizeCountingStore{MemoryStore: storage.NewMemoryStore(time.Hour)}
	s := New(fixture(t), store)

	for i := 0; i < 5; i++ {
		_, err := s.Pick("/media/avatars", "")
		require.NoError(t, err)
	}
	assert.Zero(t, store.sizeCalls.Load(), "selection must not count the token store")

	_, err := s.Sweep()
	require.NoError(t, err)
	assert.Equal(t, int32(1), store.sizeCalls.Load())

	assert.NotZero(t, s.Stats().Tokens)
	assert.Equal(t, int32(2), store.sizeCalls.Load())
}

func TestShared_PickNotFound(t *testing.T) {
	fs := fixture(t)
	s := New(fs, storage.NewMemoryStore(time.Hour))

	tests := []struct {
		name     string
		baseDir  string
		category string
	}{
		{"unknown category", "/media/avatars", "doesNotExist"},
		{"missing base", "/media/nothing", ""},
		{"category from other group", "/media/banners", "cats"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Pick(tt.baseDir, tt.category)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.CodeNotFound))
		})
	}
	assert.Equal(t, 0, s.Stats().Tokens)
}

func TestShared_PickStoreFailure(t *testing.T) {
	fs := fixture(t)
	boom := errors.New("backend down")
	s := New(fs, &failingStore{MemoryStore: *storage.NewMemoryStore(time.Hour), err: boom})

	_, err := s.Pick("/media/avatars", "cats")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))
}

func TestShared_ListingsAreSeparatePerBaseDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/media/avatars/shared", 0o755))
	require.NoError(t, fs.MkdirAll("/media/banners/shared", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/media/avatars/shared/avatar.png", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/media/banners/shared/banner.png", []byte("b"), 0o644))
	s := New(fs, storage.NewMemoryStore(time.Hour))

	avatar, err := s.Pick("/media/avatars", "shared")
	require.NoError(t, err)
	banner, err := s.Pick("/media/banners", "shared")
	require.NoError(t, err)

	assert.Equal(t, "avatar.png", avatar.Filename)
	assert.Equal(t, "banner.png", banner.Filename)
	assert.Equal(t, 2, s.Stats().Listings)
}

func TestShared_SweepAndLazyPrune(t *testing.T) {
	fs := fixture(t)
	clock := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	s := New(fs, storage.NewMemoryStore(time.Hour, storage.WithClock(now)))

	first, err := s.Pick("/media/avatars", "cats")
	require.NoError(t, err)

	clock = clock.Add(time.Hour)
	_, ok := s.Resolve(first.Token)
	assert.False(t, ok, "token must not resolve at insertion + TTL")
	assert.Equal(t, 1, s.Stats().Tokens, "lookups never prune")

	_, err = s.Pick("/media/avatars", "dogs")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Stats().Tokens, "insertion prunes the expired entry")

	clock = clock.Add(time.Hour)
	removed, err := s.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, s.Stats().Tokens)
}

func TestShared_Invalidate(t *testing.T) {
	fs := fixture(t)
	s := New(fs, storage.NewMemoryStore(time.Hour), WithListingRefresh(time.Hour))

	files, ok := s.Files("/media/avatars", "dogs")
	require.True(t, ok)
	require.Len(t, files, 1)

	require.NoError(t, afero.WriteFile(fs, "/media/avatars/dogs/fido.jpg", []byte("woof"), 0o644))
	files, _ = s.Files("/media/avatars", "dogs")
	assert.Len(t, files, 1, "cached listing within refresh interval")

	s.Invalidate("/media/avatars", "dogs")
	files, _ = s.Files("/media/avatars", "dogs")
	assert.Len(t, files, 2)
}

func TestShared_Categories(t *testing.T) {
	s := New(fixture(t), storage.NewMemoryStore(time.Hour))
	assert.Equal(t, []string{"cats", "dogs"}, s.Categories("/media/avatars"))
}

func TestShared_Concurrency(t *testing.T) {
	fs := fixture(t)
	s := New(fs, storage.NewMemoryStore(time.Hour))

	var wg sync.WaitGroup
	tokens := make(chan string, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			category := "cats"
			if id%2 == 0 {
				category = ""
			}
			pick, err := s.Pick("/media/avatars", category)
			if err != nil {
				t.Errorf("Pick() error: %v", err)
				return
			}
			s.Resolve(pick.Token)
			s.Stats()
			tokens <- pick.Token
		}(i)
	}

	wg.Wait()
	close(tokens)

	for tok := range tokens {
		if _, ok := s.Resolve(tok); !ok {
			// a truncated-hash collision can replace an earlier token; it must still resolve
			t.Errorf("token %q does not resolve", tok)
		}
	}
}

func TestSweeper_InvalidSchedule(t *testing.T) {
	s := New(afero.NewMemMapFs(), storage.NewMemoryStore(time.Hour))
	_, err := NewSweeper(s, "not a schedule", zerolog.Nop())
	assert.Error(t, err)
}

func TestSweeper_Runs(t *testing.T) {
	s := New(afero.NewMemMapFs(), storage.NewMemoryStore(time.Hour))
	sw, err := NewSweeper(s, "@every 1h", zerolog.Nop())
	require.NoError(t, err)

	sw.run()
	sw.Start()
	require.NoError(t, sw.Stop(t.Context()))
}

func TestSweeper_ReportsRemoved(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	fs := fixture(t)
	s := New(fs, storage.NewMemoryStore(time.Minute, storage.WithClock(clock)), WithClock(clock))
	_, err := s.Pick("/media/avatars", "cats")
	require.NoError(t, err)
	_, err = s.Pick("/media/avatars", "dogs")
	require.NoError(t, err)

	sw, err := NewSweeper(s, "@every 1h", zerolog.Nop())
	require.NoError(t, err)

	var reported []int
	sw.OnSwept(func(removed int) { reported = append(reported, removed) })

	sw.run()
	assert.Empty(t, reported, "nothing expired yet")

	now = now.Add(time.Minute)
	sw.run()
	assert.Equal(t, []int{2}, reported)
	assert.Equal(t, 0, s.Stats().Tokens)
}
