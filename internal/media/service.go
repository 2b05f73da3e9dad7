// Package media exposes the three public operations: pick a random asset in a
// category, pick one anywhere in a group, and fetch an asset by token.
package media

import (
	"context"
	"errors"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/hfi/randmedia/internal/apperr"
	"github.com/hfi/randmedia/internal/audit"
	"github.com/hfi/randmedia/internal/listing"
	"github.com/hfi/randmedia/internal/metrics"
	"github.com/hfi/randmedia/internal/state"
	"github.com/hfi/randmedia/pkg/token"
)

// Result is what a selection returns to the caller
type Result struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Format   string `json:"format"`
	Category string `json:"category"`
}

// Content is a fetched asset
type Content struct {
	Data        []byte
	ContentType string
	Name        string
	ModTime     time.Time
	ExpiresAt   time.Time
}

// Config describes where assets live and how their URLs look
type Config struct {
	BaseDir     string
	Groups      []string
	PublicURL   string
	AssetPrefix string
}

// Service coordinates selection, token issuance and fetches
type Service struct {
	shared  *state.Shared
	fs      afero.Fs
	cfg     Config
	auditor audit.Auditor
	logger  zerolog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithAuditor sets the audit sink
func WithAuditor(a audit.Auditor) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

// WithLogger sets the service logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a new media service
func NewService(shared *state.Shared, fs afero.Fs, cfg Config, opts ...Option) *Service {
	s := &Service{
		shared:  shared,
		fs:      fs,
		cfg:     cfg,
		auditor: audit.NewNopLogger(),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RandomInCategory picks a random asset from one category of group
func (s *Service) RandomInCategory(ctx context.Context, group, category string) (*Result, error) {
	return s.random(ctx, group, category)
}

// RandomInGroup picks a random asset from a random category of group
func (s *Service) RandomInGroup(ctx context.Context, group string) (*Result, error) {
	return s.random(ctx, group, "")
}

func (s *Service) random(ctx context.Context, group, category string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Canceled(err)
	}
	info := RequestFrom(ctx)

	if !slices.Contains(s.cfg.Groups, group) {
		metrics.CountSelection("unknown", "unknown_group")
		return nil, apperr.NotFound("unknown group")
	}

	start := time.Now()
	pick, err := s.shared.Pick(s.groupDir(group), category)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			metrics.RecordSelection(group, "miss", elapsed)
			s.auditor.LogSelectionMissed(info.ID, info.ClientIP, group, category)
		} else {
			metrics.RecordSelection(group, "error", elapsed)
			s.logger.Error().Err(err).Str("group", group).Msg("selection failed")
		}
		return nil, err
	}
	metrics.RecordSelection(group, "hit", elapsed)

	s.auditor.LogAssetSelected(info.ID, info.ClientIP, group, pick.Category, pick.Filename, pick.Token)
	s.logger.Debug().
		Str("group", group).
		Str("category", pick.Category).
		Str("token", pick.Token).
		Msg("asset selected")

	return &Result{
		URL:      s.assetURL(pick.Token, pick.Ext),
		Filename: pick.Filename,
		Format:   pick.Ext,
		Category: pick.Category,
	}, nil
}

// Fetch returns the bytes behind a "<token>.<ext>" resource name.
// The extension is not checked against the mapped file.
func (s *Service) Fetch(ctx context.Context, resource string) (*Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Canceled(err)
	}
	info := RequestFrom(ctx)

	tok, _, ok := token.ParseResource(resource)
	if !ok {
		metrics.RecordFetch("invalid")
		s.auditor.LogTokenRejected(info.ID, info.ClientIP, "")
		return nil, apperr.NotFound("asset not found")
	}

	mapping, ok := s.shared.Resolve(tok)
	if !ok {
		metrics.RecordFetch("expired")
		s.auditor.LogTokenRejected(info.ID, info.ClientIP, tok)
		return nil, apperr.NotFound("asset not found")
	}

	data, modTime, err := s.read(mapping.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			metrics.RecordFetch("missing")
			return nil, apperr.NotFound("asset not found")
		}
		metrics.RecordFetch("error")
		s.auditor.LogError(audit.EventAssetReadFailed, info.ID, info.ClientIP, err.Error())
		s.logger.Error().Err(err).Str("token", tok).Msg("failed to read asset")
		return nil, apperr.IOFailure("failed to read asset", err)
	}

	metrics.RecordFetch("ok")
	s.auditor.LogTokenResolved(info.ID, info.ClientIP, tok)

	name := filepath.Base(mapping.Path)
	return &Content{
		Data:        data,
		ContentType: contentType(listing.Extension(name), data),
		Name:        name,
		ModTime:     modTime,
		ExpiresAt:   mapping.ExpiresAt,
	}, nil
}

func (s *Service) read(path string) ([]byte, time.Time, error) {
	fi, err := s.fs.Stat(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	if fi.IsDir() {
		return nil, time.Time{}, os.ErrNotExist
	}
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, fi.ModTime(), nil
}

func (s *Service) groupDir(group string) string {
	return filepath.Join(s.cfg.BaseDir, group)
}

func (s *Service) assetURL(tok, ext string) string {
	prefix := "/" + strings.Trim(s.cfg.AssetPrefix, "/")
	return strings.TrimRight(s.cfg.PublicURL, "/") + prefix + "/" + url.PathEscape(token.ResourceName(tok, ext))
}

// contentType prefers the registered type for ext and sniffs data otherwise
func contentType(ext string, data []byte) string {
	if ext != listing.UnknownExt {
		if ct := mime.TypeByExtension("." + ext); ct != "" {
			return ct
		}
	}
	return mimetype.Detect(data).String()
}
