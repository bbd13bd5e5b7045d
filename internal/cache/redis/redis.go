// Package redis provides an optional shared response cache driver using
// valkey-go, so a feed-aggregator worker pool and an interactive Vellum
// process can share completed response bodies. Fail-fast: if cache.driver
// = "redis" is configured and the server is unreachable, startup fails
// rather than silently falling back to memory.
package redis

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/vellum-gemini/vellum/internal/cache"
)

func init() {
	cache.RegisterDriver("redis", func(config map[string]any) cache.Cache {
		cfg := DefaultConfig()
		if config != nil {
			if v, ok := config["addr"].(string); ok && v != "" {
				cfg.Addr = v
			}
			if v, ok := config["password"].(string); ok {
				cfg.Password = v
			}
			if v, ok := config["db"]; ok {
				if db, ok := toInt(v); ok {
					cfg.DB = db
				}
			}
			if v, ok := config["dial_timeout_ms"]; ok {
				if ms, ok := toInt(v); ok && ms > 0 {
					cfg.DialTimeout = time.Duration(ms) * time.Millisecond
				}
			}
			if v, ok := config["default_ttl_seconds"]; ok {
				if secs, ok := toInt(v); ok && secs > 0 {
					cfg.DefaultTTL = time.Duration(secs) * time.Second
				}
			}
		}

		c, err := New(cfg)
		if err != nil {
			panic(fmt.Sprintf("redis response cache driver failed to initialize: %v", err))
		}
		return c
	})
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// Config holds Redis/Valkey connection settings.
type Config struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
	DefaultTTL  time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:        "localhost:6379",
		DialTimeout: 5 * time.Second,
		DefaultTTL:  cache.DefaultTTL,
	}
}

// Cache implements cache.Cache using Redis/Valkey.
type Cache struct {
	client     valkey.Client
	defaultTTL time.Duration
}

// New connects to Redis/Valkey and verifies reachability before returning.
func New(cfg *Config) (*Cache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{cfg.Addr},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
		Dialer: net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		},
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("cache/redis: create client: %w", err)
	}

	c := &Cache{client: client, defaultTTL: cfg.DefaultTTL}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if resp := client.Do(ctx, client.B().Ping().Build()); resp.Error() != nil {
		client.Close()
		return nil, fmt.Errorf("cache/redis: health check: %w", resp.Error())
	}
	return c, nil
}

// Get retrieves a value by key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, cache.ErrNotFound
		}
		return nil, err
	}
	return resp.AsBytes()
}

// Set stores a value with the given TTL (0 uses the driver's default).
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	resp := c.client.Do(ctx, c.client.B().Set().Key(key).Value(string(value)).Px(ttl).Build())
	return resp.Error()
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	resp := c.client.Do(ctx, c.client.B().Del().Key(key).Build())
	return resp.Error()
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	c.client.Close()
	return nil
}

var _ cache.Cache = (*Cache)(nil)
