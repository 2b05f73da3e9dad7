// Package server provides the management listener: Prometheus metrics plus health,
// readiness and liveness endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// checkTimeout bounds a single health check
const checkTimeout = 2 * time.Second

// HealthStatus represents the health status of the server
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Uptime    string            `json:"uptime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
	Stats     map[string]int    `json:"stats,omitempty"`
}

// StatsFunc reports named counters for the health payload
type StatsFunc func() map[string]int

// Check reports a component as healthy by returning nil
type Check func(ctx context.Context) error

// Server provides HTTP endpoints for metrics and health
type Server struct {
	mu        sync.RWMutex
	server    *http.Server
	mux       *http.ServeMux
	checks    map[string]Check
	stats     StatsFunc
	startTime time.Time
	version   string
	logger    zerolog.Logger
}

// Config holds management server configuration
type Config struct {
	// Addr is the address to listen on (e.g., ":9090")
	Addr string

	// MetricsPath is the path for Prometheus metrics
	MetricsPath string

	HealthPath string
	ReadyPath  string
	LivePath   string

	// Version is reported by the health endpoint
	Version string
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:        ":9090",
		MetricsPath: "/metrics",
		HealthPath:  "/health",
		ReadyPath:   "/ready",
		LivePath:    "/live",
		Version:     "dev",
	}
}

// New creates a new management server
func New(cfg *Config, logger zerolog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		mux:       http.NewServeMux(),
		checks:    make(map[string]Check),
		startTime: time.Now(),
		version:   cfg.Version,
		logger:    logger,
	}

	s.mux.Handle(cfg.MetricsPath, promhttp.Handler())
	s.mux.HandleFunc(cfg.HealthPath, s.healthHandler)
	s.mux.HandleFunc(cfg.ReadyPath, s.readyHandler)
	s.mux.HandleFunc(cfg.LivePath, s.liveHandler)

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	return s
}

// RegisterHealthCheck registers a named check
func (s *Server) RegisterHealthCheck(name string, check Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// SetStatsProvider sets the counters reported by the health endpoint
func (s *Server) SetStatsProvider(fn StatsFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = fn
}

// Start serves until Stop is called; it returns http.ErrServerClosed after a clean stop
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("management server listening")
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// run executes every check and returns failures by name
func (s *Server) run(ctx context.Context) (names []string, failures map[string]error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	failures = make(map[string]error)
	for name, check := range s.checks {
		names = append(names, name)

		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := check(cctx)
		cancel()

		if err != nil {
			failures[name] = err
		}
	}
	slices.Sort(names)
	return names, failures
}

// healthHandler returns detailed health status
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	names, failures := s.run(r.Context())

	status := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Checks:    make(map[string]string, len(names)),
	}

	for _, name := range names {
		if err, failed := failures[name]; failed {
			status.Checks[name] = err.Error()
			s.logger.Warn().Err(err).Str("check", name).Msg("health check failed")
			continue
		}
		status.Checks[name] = "ok"
	}

	s.mu.RLock()
	stats := s.stats
	s.mu.RUnlock()
	if stats != nil {
		status.Stats = stats()
	}

	code := http.StatusOK
	if len(failures) > 0 {
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write health status")
	}
}

// readyHandler indicates if the service is ready to receive traffic
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	names, failures := s.run(r.Context())

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, name := range names {
		if _, failed := failures[name]; failed {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "not ready: %s check failed", name)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// liveHandler answers as long as the process can serve requests
func (s *Server) liveHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr returns the server address
func (s *Server) Addr() string {
	return s.server.Addr
}
