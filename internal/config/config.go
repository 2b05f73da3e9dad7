// Package config provides configuration management for the randmedia server.
//
// Values are layered: built-in defaults, then a YAML file, then RANDMEDIA_* environment
// variables. Nested keys in env names are separated by a double underscore, e.g.
// RANDMEDIA_STORAGE__TOKEN_TTL=30m.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides
const EnvPrefix = "RANDMEDIA_"

// DefaultConfigFile is read when no path is given; its absence is not an error
const DefaultConfigFile = "config.yaml"

// Config represents the main configuration structure
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Assets  AssetsConfig  `yaml:"assets"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Audit   AuditConfig   `yaml:"audit"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig contains public API settings
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	Mode         string        `yaml:"mode"`       // "release" or "debug"
	PublicURL    string        `yaml:"public_url"` // scheme and host used in issued URLs
	AssetPrefix  string        `yaml:"asset_prefix"`
	APIKey       string        `yaml:"api_key"` //#nosec G117 -- shared secret for listing endpoints
	RateLimitQPS int           `yaml:"rate_limit_qps"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AssetsConfig describes the media tree
type AssetsConfig struct {
	BaseDir string   `yaml:"base_dir"`
	Groups  []string `yaml:"groups"`
	Watch   bool     `yaml:"watch"`
}

// StorageConfig contains token and listing settings
type StorageConfig struct {
	Type           string        `yaml:"type"` // "memory" or "redis"
	TokenTTL       time.Duration `yaml:"token_ttl"`
	ListingRefresh time.Duration `yaml:"listing_refresh"`
	SweepSchedule  string        `yaml:"sweep_schedule"` // cron spec, empty disables
	Redis          RedisConfig   `yaml:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"` //#nosec G117 -- Password field is intentional for Redis auth config
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LoggingConfig contains application log settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "json" or "console"
	Output     string `yaml:"output"` // "stdout", "stderr" or a file path
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AuditConfig contains audit logging settings
type AuditConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Level           string `yaml:"level"`  // "minimal", "standard" or "verbose"
	Output          string `yaml:"output"` // "stdout", "stderr" or a file path
	IncludeClientIP bool   `yaml:"include_client_ip"`
}

// MetricsConfig contains management server settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       ":8080",
			Mode:         "release",
			PublicURL:    "http://localhost:8080",
			AssetPrefix:  "/assets",
			RateLimitQPS: 0,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Assets: AssetsConfig{
			BaseDir: "./media",
			Groups:  []string{"avatars", "banners"},
			Watch:   false,
		},
		Storage: StorageConfig{
			Type:           "memory",
			TokenTTL:       time.Hour,
			ListingRefresh: 5 * time.Minute,
			Redis: RedisConfig{
				Address: "localhost:6379",
				DB:      0,
				Prefix:  "randmedia:",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Audit: AuditConfig{
			Enabled: false,
			Level:   "standard",
			Output:  "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9090",
			Path:    "/metrics",
		},
	}
}

// Load builds the configuration from defaults, the file at path and the environment.
// An empty path falls back to CONFIG_PATH, then to DefaultConfigFile. Only an
// explicitly named file must exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := true
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultConfigFile
		explicit = false
	}

	// Relative paths may not escape the working directory; absolute ones are the
	// operator's explicit choice
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		if path, err = sanitizeConfigPath(path, wd); err != nil {
			return nil, err
		}
	}

	k := koanf.New(".")

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "yaml",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           cfg,
			WeaklyTypedInput: true,
			TagName:          "yaml",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return cfg, nil
}

// envKey maps RANDMEDIA_STORAGE__TOKEN_TTL to storage.token_ttl
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks the configuration for values the server cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen must be set"))
	}
	if !validAssetPrefix(c.Server.AssetPrefix) {
		errs = append(errs, fmt.Errorf("server.asset_prefix %q must start with / and not collide with /api", c.Server.AssetPrefix))
	}
	if c.Server.RateLimitQPS < 0 {
		errs = append(errs, errors.New("server.rate_limit_qps must not be negative"))
	}
	if c.Assets.BaseDir == "" {
		errs = append(errs, errors.New("assets.base_dir must be set"))
	}
	if len(c.Assets.Groups) == 0 {
		errs = append(errs, errors.New("assets.groups must not be empty"))
	}
	for _, g := range c.Assets.Groups {
		if g == "" || g == "." || g == ".." || strings.ContainsAny(g, `/\`) {
			errs = append(errs, fmt.Errorf("assets.groups: %q is not a plain directory name", g))
		}
	}
	switch c.Storage.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("storage.type %q must be memory or redis", c.Storage.Type))
	}
	if c.Storage.TokenTTL <= 0 {
		errs = append(errs, errors.New("storage.token_ttl must be positive"))
	}
	if c.Storage.ListingRefresh <= 0 {
		errs = append(errs, errors.New("storage.listing_refresh must be positive"))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or console", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// validAssetPrefix compares by first path segment, so "/apix" is allowed and "/api/files" is not
func validAssetPrefix(prefix string) bool {
	if !strings.HasPrefix(prefix, "/") {
		return false
	}
	trimmed := strings.Trim(prefix, "/")
	if trimmed == "" {
		return false
	}
	first, _, _ := strings.Cut(trimmed, "/")
	return first != "api"
}

// GroupDir returns the directory of a configured group
func (c *Config) GroupDir(group string) string {
	return filepath.Join(c.Assets.BaseDir, group)
}

// YAML renders the configuration with secrets masked
func (c *Config) YAML() ([]byte, error) {
	masked := *c
	if masked.Server.APIKey != "" {
		masked.Server.APIKey = "********"
	}
	if masked.Storage.Redis.Password != "" {
		masked.Storage.Redis.Password = "********"
	}
	return yamlv3.Marshal(&masked)
}

// sanitizeConfigPath resolves path against baseDir and rejects results outside it
func sanitizeConfigPath(path, baseDir string) (string, error) {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("invalid base directory: %w", err)
	}

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(absBase, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(absBase, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %q escapes %q", path, absBase)
	}

	return candidate, nil
}
