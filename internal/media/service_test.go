package media

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hfi/randmedia/internal/apperr"
	"github.com/hfi/randmedia/internal/audit"
	"github.com/hfi/randmedia/internal/state"
	"github.com/hfi/randmedia/internal/storage"
	"github.com/hfi/randmedia/pkg/token"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

// recorder keeps the event types it was asked to log
type recorder struct {
	audit.NopLogger
	events []audit.EventType
}

func (r *recorder) LogAssetSelected(_, _, _, _, _, _ string) {
	r.events = append(r.events, audit.EventAssetSelected)
}

func (r *recorder) LogSelectionMissed(_, _, _, _ string) {
	r.events = append(r.events, audit.EventSelectionMissed)
}

func (r *recorder) LogTokenResolved(_, _, _ string) {
	r.events = append(r.events, audit.EventTokenResolved)
}

func (r *recorder) LogTokenRejected(_, _, _ string) {
	r.events = append(r.events, audit.EventTokenRejected)
}

func (r *recorder) LogError(eventType audit.EventType, _, _, _ string) {
	r.events = append(r.events, eventType)
}

// brokenFs fails every open while still answering Stat
type brokenFs struct {
	afero.Fs
}

func (b brokenFs) Open(string) (afero.File, error) {
	return nil, errors.New("device not ready")
}

type harness struct {
	fs     afero.Fs
	svc    *Service
	rec    *recorder
	clock  time.Time
	tokens *storage.MemoryStore
}

func newHarness(t *testing.T, fs afero.Fs) *harness {
	t.Helper()

	h := &harness{
		fs:    fs,
		rec:   &recorder{},
		clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return h.clock }

	h.tokens = storage.NewMemoryStore(time.Hour, storage.WithClock(now))
	shared := state.New(fs, h.tokens, state.WithClock(now))
	h.svc = NewService(shared, fs, Config{
		BaseDir:     "/media",
		Groups:      []string{"avatars", "banners"},
		PublicURL:   "https://cdn.example.com/",
		AssetPrefix: "/assets",
	}, WithAuditor(h.rec))
	return h
}

func fixture(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string][]byte{
		"/media/avatars/cats/a.PNG":      pngHeader,
		"/media/avatars/cats/b.png":      {},
		"/media/banners/space/sky":       []byte("GIF89a......"),
		"/media/banners/notes/read.txt":  []byte("hello"),
		"/media/avatars/accents/pic.jpé": []byte("accent"),
	}
	for path, data := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, afero.WriteFile(fs, path, data, 0o644))
	}
	return fs
}

func tokenFromURL(t *testing.T, rawURL string) string {
	t.Helper()
	resource, err := url.PathUnescape(rawURL[strings.LastIndex(rawURL, "/")+1:])
	require.NoError(t, err)
	tok, _, ok := token.ParseResource(resource)
	require.True(t, ok, "url %q has no resource segment", rawURL)
	return tok
}

func TestService_RandomInCategory(t *testing.T) {
	h := newHarness(t, fixture(t))

	res, err := h.svc.RandomInCategory(context.Background(), "avatars", "cats")
	require.NoError(t, err)

	assert.Equal(t, "a.PNG", res.Filename)
	assert.Equal(t, "png", res.Format)
	assert.Equal(t, "cats", res.Category)
	assert.True(t, strings.HasPrefix(res.URL, "https://cdn.example.com/assets/"), res.URL)
	assert.True(t, strings.HasSuffix(res.URL, ".png"), res.URL)
	assert.NotContains(t, res.URL, "a.PNG")
	assert.Equal(t, []audit.EventType{audit.EventAssetSelected}, h.rec.events)
}

func TestService_RandomInGroup(t *testing.T) {
	h := newHarness(t, fixture(t))

	for i := 0; i < 20; i++ {
		res, err := h.svc.RandomInGroup(context.Background(), "banners")
		require.NoError(t, err)
		assert.Contains(t, []string{"space", "notes"}, res.Category)
	}
}

func TestService_RandomNotFound(t *testing.T) {
	h := newHarness(t, fixture(t))
	ctx := context.Background()

	_, err := h.svc.RandomInGroup(ctx, "wallpapers")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound), "unknown group")

	_, err = h.svc.RandomInCategory(ctx, "avatars", "doesNotExist")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound), "unknown category")

	_, err = h.svc.RandomInCategory(ctx, "avatars", "space")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound), "category of another group")

	assert.Equal(t, []audit.EventType{audit.EventSelectionMissed, audit.EventSelectionMissed}, h.rec.events)
}

func TestService_RandomCancelled(t *testing.T) {
	h := newHarness(t, fixture(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.svc.RandomInGroup(ctx, "avatars")
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, apperr.Is(err, apperr.CodeCanceled))

	_, err = h.svc.Fetch(ctx, "deadbeef.png")
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, apperr.Is(err, apperr.CodeCanceled))
}

func TestService_Fetch(t *testing.T) {
	h := newHarness(t, fixture(t))
	ctx := context.Background()

	res, err := h.svc.RandomInCategory(ctx, "avatars", "cats")
	require.NoError(t, err)
	tok := tokenFromURL(t, res.URL)

	content, err := h.svc.Fetch(ctx, token.ResourceName(tok, "png"))
	require.NoError(t, err)
	assert.Equal(t, pngHeader, content.Data)
	assert.Equal(t, "image/png", content.ContentType)
	assert.Equal(t, "a.PNG", content.Name)
	assert.Equal(t, h.clock.Add(time.Hour), content.ExpiresAt)

	// the extension in the request is not checked against the file
	content, err = h.svc.Fetch(ctx, token.ResourceName(tok, "jpg"))
	require.NoError(t, err)
	assert.Equal(t, "image/png", content.ContentType)
}

func TestService_FetchSniffsUnknownExtension(t *testing.T) {
	h := newHarness(t, fixture(t))
	ctx := context.Background()

	res, err := h.svc.RandomInCategory(ctx, "banners", "space")
	require.NoError(t, err)
	assert.Equal(t, "unknown", res.Format)

	content, err := h.svc.Fetch(ctx, token.ResourceName(tokenFromURL(t, res.URL), "unknown"))
	require.NoError(t, err)
	assert.Equal(t, "image/gif", content.ContentType)
}

func TestService_FetchNotFound(t *testing.T) {
	h := newHarness(t, fixture(t))
	ctx := context.Background()

	res, err := h.svc.RandomInCategory(ctx, "avatars", "cats")
	require.NoError(t, err)
	tok := tokenFromURL(t, res.URL)

	tests := []struct {
		name     string
		resource string
		setup    func()
	}{
		{"malformed", "../../etc/passwd", nil},
		{"unknown token", "00000000.png", nil},
		{"expired token", tok + ".png", func() { h.clock = h.clock.Add(time.Hour) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			_, err := h.svc.Fetch(ctx, tt.resource)
			assert.True(t, apperr.Is(err, apperr.CodeNotFound), "got %v", err)
		})
	}
}

func TestService_FetchDeletedFile(t *testing.T) {
	h := newHarness(t, fixture(t))
	ctx := context.Background()

	res, err := h.svc.RandomInCategory(ctx, "avatars", "cats")
	require.NoError(t, err)
	require.NoError(t, h.fs.Remove("/media/avatars/cats/a.PNG"))

	_, err = h.svc.Fetch(ctx, token.ResourceName(tokenFromURL(t, res.URL), "png"))
	assert.True(t, apperr.Is(err, apperr.CodeNotFound), "got %v", err)
}

func TestService_FetchReadFailure(t *testing.T) {
	fs := fixture(t)
	h := newHarness(t, fs)
	ctx := context.Background()

	res, err := h.svc.RandomInCategory(ctx, "avatars", "cats")
	require.NoError(t, err)

	h.svc.fs = brokenFs{Fs: fs}
	_, err = h.svc.Fetch(ctx, token.ResourceName(tokenFromURL(t, res.URL), "png"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeIOFailure), "got %v", err)
	assert.False(t, errors.Is(err, os.ErrNotExist))
	assert.Contains(t, h.rec.events, audit.EventAssetReadFailed)
}

func TestContentType(t *testing.T) {
	tests := []struct {
		ext  string
		data []byte
		want string
	}{
		{"png", nil, "image/png"},
		{"gif", nil, "image/gif"},
		{"unknown", pngHeader, "image/png"},
		{"unknown", []byte("plain words"), "text/plain; charset=utf-8"},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			assert.Equal(t, tt.want, contentType(tt.ext, tt.data))
		})
	}
}

func TestRequestInfo(t *testing.T) {
	assert.Equal(t, RequestInfo{}, RequestFrom(context.Background()))

	ctx := WithRequest(context.Background(), RequestInfo{ID: "req-1", ClientIP: "10.0.0.1"})
	assert.Equal(t, "req-1", RequestFrom(ctx).ID)
	assert.Equal(t, "10.0.0.1", RequestFrom(ctx).ClientIP)
}

func TestService_NonASCIIExtensionRoundTrip(t *testing.T) {
	h := newHarness(t, fixture(t))
	ctx := context.Background()

	res, err := h.svc.RandomInCategory(ctx, "avatars", "accents")
	require.NoError(t, err)
	assert.Equal(t, "jpé", res.Format)
	assert.True(t, strings.HasSuffix(res.URL, ".jp%C3%A9"), res.URL)

	resource, err := url.PathUnescape(res.URL[strings.LastIndex(res.URL, "/")+1:])
	require.NoError(t, err)

	content, err := h.svc.Fetch(ctx, resource)
	require.NoError(t, err)
	assert.Equal(t, []byte("accent"), content.Data)
}
