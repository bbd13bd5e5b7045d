// Package config loads Vellum's preferences file: defaults, overlaid by the
// TOML preferences file, overlaid by CLI flag overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vellum-gemini/vellum/internal/logging"
)

// Config holds Vellum's process-wide preferences.
type Config struct {
	// DataDir is the root directory for all persistent state (bookmarks,
	// trust store, identities, visit log, feeds, site specs, font packs).
	DataDir string `toml:"data_dir"`

	// Logging controls the root logger.
	Logging LoggingConfig `toml:"logging"`

	// Network controls request-pipeline dialing behavior.
	Network NetworkConfig `toml:"network"`

	// Feeds controls the feed aggregator's scheduling.
	Feeds FeedsConfig `toml:"feeds"`

	// Cache controls the response cache driver.
	Cache CacheConfig `toml:"cache"`

	// Bookmarks controls ordering defaults for new bookmarks.
	Bookmarks BookmarksConfig `toml:"bookmarks"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level"`
}

// NetworkConfig holds dialing and proxy settings.
type NetworkConfig struct {
	// DNSServer is the DNS server internal/services.DialerFor resolves
	// through. Empty uses the system resolver. Requests submitted through
	// internal/request do not dial via DialerFor and use the system resolver.
	DNSServer string `toml:"dns_server"`

	// ProxyForScheme maps a scheme name to a "host:port" SOCKS5 proxy that
	// internal/services.DialerFor routes that scheme's dials through.
	// Requests submitted through internal/request do not dial via
	// DialerFor, so this setting does not affect them.
	ProxyForScheme map[string]string `toml:"proxy_for_scheme"`

	// DialTimeout bounds TCP/TLS connection setup.
	DialTimeout time.Duration `toml:"dial_timeout"`
}

// FeedsConfig holds feed aggregator scheduling.
type FeedsConfig struct {
	// RefreshInterval is the repeating poll period. Default 4h.
	RefreshInterval time.Duration `toml:"refresh_interval"`

	// MaxConcurrent bounds in-flight feed requests. Default 4.
	MaxConcurrent int `toml:"max_concurrent"`

	// MaxAge is the entry/visit retention window. Default 180 days.
	MaxAge time.Duration `toml:"max_age"`
}

// CacheConfig holds response cache driver settings (teacher's Reva-style
// driver + per-driver config map shape).
type CacheConfig struct {
	// Driver is the cache driver name: "memory" (default) or "redis".
	Driver string `toml:"driver"`

	// Drivers holds per-driver configuration.
	Drivers map[string]map[string]any `toml:"drivers"`
}

// BookmarksConfig holds bookmark-store ordering defaults.
type BookmarksConfig struct {
	// PrependNew controls whether new bookmarks are inserted before or
	// after existing siblings.
	PrependNew bool `toml:"prepend_new"`
}

// Default returns Vellum's built-in defaults, applied before the TOML file
// and flag overrides.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Logging: LoggingConfig{Level: "info"},
		Network: NetworkConfig{
			ProxyForScheme: map[string]string{},
			DialTimeout:    20 * time.Second,
		},
		Feeds: FeedsConfig{
			RefreshInterval: 4 * time.Hour,
			MaxConcurrent:   4,
			MaxAge:          180 * 24 * time.Hour,
		},
		Cache: CacheConfig{
			Driver:  "memory",
			Drivers: map[string]map[string]any{},
		},
		Bookmarks: BookmarksConfig{PrependNew: false},
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.config/vellum"
	}
	return ".vellum"
}

// FlagOverrides holds CLI flag values that, when non-nil/non-empty, take
// precedence over both defaults and the TOML file.
type FlagOverrides struct {
	DataDir         *string
	LoggingLevel    *string
	FeedsRefresh    *string
	FeedsMaxWorkers *int
	CacheDriver     *string
}

// LoaderOptions controls Load.
type LoaderOptions struct {
	ConfigPath    string
	FlagOverrides FlagOverrides
	Logger        *slog.Logger
}

// Load builds a Config by layering defaults, an optional TOML file, and CLI
// flag overrides, in that precedence order (teacher's
// internal/platform/config.Load layering).
func Load(opts LoaderOptions) (*Config, error) {
	logger := logging.NoopIfNil(opts.Logger)
	cfg := Default()

	if opts.ConfigPath != "" {
		if _, err := toml.DecodeFile(opts.ConfigPath, cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", opts.ConfigPath, err)
		}
		logger.Debug("loaded preferences file", "path", opts.ConfigPath)
	}

	applyFlagOverrides(cfg, opts.FlagOverrides)

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("config: data_dir must not be empty")
	}
	if cfg.Feeds.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("config: feeds.max_concurrent must be positive")
	}
	return cfg, nil
}

func applyFlagOverrides(cfg *Config, f FlagOverrides) {
	if f.DataDir != nil && *f.DataDir != "" {
		cfg.DataDir = *f.DataDir
	}
	if f.LoggingLevel != nil && *f.LoggingLevel != "" {
		cfg.Logging.Level = *f.LoggingLevel
	}
	if f.FeedsRefresh != nil && *f.FeedsRefresh != "" {
		if d, err := time.ParseDuration(*f.FeedsRefresh); err == nil {
			cfg.Feeds.RefreshInterval = d
		}
	}
	if f.FeedsMaxWorkers != nil && *f.FeedsMaxWorkers > 0 {
		cfg.Feeds.MaxConcurrent = *f.FeedsMaxWorkers
	}
	if f.CacheDriver != nil && *f.CacheDriver != "" {
		cfg.Cache.Driver = *f.CacheDriver
	}
}
