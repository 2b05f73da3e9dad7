package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/hfi/randmedia/internal/api"
	"github.com/hfi/randmedia/internal/audit"
	"github.com/hfi/randmedia/internal/config"
	"github.com/hfi/randmedia/internal/logging"
	"github.com/hfi/randmedia/internal/media"
	"github.com/hfi/randmedia/internal/ratelimit"
	"github.com/hfi/randmedia/internal/server"
	"github.com/hfi/randmedia/internal/state"
	"github.com/hfi/randmedia/internal/storage"
	"github.com/hfi/randmedia/internal/watch"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the media server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	logger.Info().
		Str("version", Version).
		Str("listen", cfg.Server.Listen).
		Str("base_dir", cfg.Assets.BaseDir).
		Msg("randmedia starting")

	fs := afero.NewOsFs()
	for _, group := range cfg.Assets.Groups {
		if err := fs.MkdirAll(cfg.GroupDir(group), 0o755); err != nil {
			return fmt.Errorf("failed to create group directory: %w", err)
		}
	}

	tokens, err := newTokenStore(cfg)
	if err != nil {
		return err
	}
	defer tokens.Close()

	auditor, err := newAuditor(cfg)
	if err != nil {
		return err
	}
	defer auditor.Close()

	shared := state.New(fs, tokens,
		state.WithLogger(logger),
		state.WithListingRefresh(cfg.Storage.ListingRefresh),
	)

	svc := media.NewService(shared, fs, media.Config{
		BaseDir:     cfg.Assets.BaseDir,
		Groups:      cfg.Assets.Groups,
		PublicURL:   cfg.Server.PublicURL,
		AssetPrefix: cfg.Server.AssetPrefix,
	}, media.WithAuditor(auditor), media.WithLogger(logger))

	if cfg.Server.APIKey == "" {
		logger.Warn().Msg("server.api_key is empty; selection endpoints will reject every request")
	}

	gin.SetMode(cfg.Server.Mode)
	router := api.NewRouter(api.Config{
		AssetPrefix: cfg.Server.AssetPrefix,
		APIKey:      cfg.Server.APIKey,
	}, svc, logger, auditor, ratelimit.New(cfg.Server.RateLimitQPS))

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("media server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("media server: %w", err)
		}
	}()

	var mgmt *server.Server
	if cfg.Metrics.Enabled {
		mgmt = server.New(&server.Config{
			Addr:        cfg.Metrics.Listen,
			MetricsPath: cfg.Metrics.Path,
			HealthPath:  "/health",
			ReadyPath:   "/ready",
			LivePath:    "/live",
			Version:     Version,
		}, logger)
		mgmt.RegisterHealthCheck("media_dir", server.DirReadable(fs, cfg.Assets.BaseDir))
		mgmt.RegisterHealthCheck("token_store", server.Reachable(shared))
		mgmt.SetStatsProvider(func() map[string]int {
			stats := shared.Stats()
			return map[string]int{"tokens": stats.Tokens, "listings": stats.Listings}
		})

		go func() {
			if err := mgmt.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("management server: %w", err)
			}
		}()
	}

	var sweeper *state.Sweeper
	if cfg.Storage.SweepSchedule != "" {
		sweeper, err = state.NewSweeper(shared, cfg.Storage.SweepSchedule, logger)
		if err != nil {
			return err
		}
		sweeper.OnSwept(auditor.LogTokensSwept)
		sweeper.Start()
	}

	var watcher *watch.Watcher
	if cfg.Assets.Watch {
		dirs := make([]string, 0, len(cfg.Assets.Groups))
		for _, group := range cfg.Assets.Groups {
			dirs = append(dirs, cfg.GroupDir(group))
		}
		watcher, err = watch.New(shared, dirs, watch.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to start media watcher: %w", err)
		}
		watcher.Start()
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err = <-errCh:
		logger.Error().Err(err).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdown(shutdownCtx, logger, httpServer, mgmt, sweeper, watcher)

	logger.Info().Msg("randmedia stopped")
	return err
}

func shutdown(ctx context.Context, logger zerolog.Logger, httpServer *http.Server, mgmt *server.Server, sweeper *state.Sweeper, watcher *watch.Watcher) {
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("media server shutdown failed")
	}
	if mgmt != nil {
		if err := mgmt.Stop(ctx); err != nil {
			logger.Error().Err(err).Msg("management server shutdown failed")
		}
	}
	if sweeper != nil {
		if err := sweeper.Stop(ctx); err != nil {
			logger.Error().Err(err).Msg("sweeper shutdown failed")
		}
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("watcher shutdown failed")
		}
	}
}

func newTokenStore(cfg *config.Config) (storage.MappingStore, error) {
	switch cfg.Storage.Type {
	case "redis":
		store, err := storage.NewRedisStore(storage.RedisOptions{
			Address:  cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.Prefix,
		}, cfg.Storage.TokenTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect token store: %w", err)
		}
		return store, nil
	default:
		return storage.NewMemoryStore(cfg.Storage.TokenTTL), nil
	}
}

func newAuditor(cfg *config.Config) (audit.Auditor, error) {
	if !cfg.Audit.Enabled {
		return audit.NewNopLogger(), nil
	}
	logger, err := audit.NewLogger(&audit.Config{
		Enabled:         true,
		Level:           cfg.Audit.Level,
		Output:          cfg.Audit.Output,
		Format:          cfg.Logging.Format,
		IncludeClientIP: cfg.Audit.IncludeClientIP,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return logger, nil
}
