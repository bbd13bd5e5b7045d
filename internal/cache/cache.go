// Package cache implements Vellum's response cache driver registry: the
// "Response cache + progress" component from spec.md's system overview.
// A response cache holds streamed, completed response bodies keyed by
// canonical URL so repeated navigations (and the feed aggregator's worker
// pool, which shares completed bodies with any interested reader) avoid a
// redundant fetch within the cache's TTL.
//
// Grounded on the teacher's Reva-style driver registry
// (internal/platform/cache): drivers self-register via init(), callers
// obtain an instance through NewFromConfig. Adapted here from generic
// key/value caching to response caching specifically.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// DriverFactory creates a new cache instance from driver-specific config
// (the map under [cache.drivers.<name>] in vellum.toml).
type DriverFactory func(config map[string]any) Cache

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
)

// RegisterDriver registers a cache driver by name. Called from a driver
// package's init().
func RegisterDriver(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = factory
}

// NewFromConfig returns a cache for the named driver, defaulting to
// "memory" when driver is empty. Returns an error for an unknown driver.
func NewFromConfig(driver string, driversConfig map[string]map[string]any) (Cache, error) {
	if driver == "" {
		driver = "memory"
	}
	driversMu.RLock()
	factory, ok := drivers[driver]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("cache: unknown driver %q (forgot to blank-import its package?)", driver)
	}
	return factory(driversConfig[driver]), nil
}

// Cache provides TTL-based response body storage keyed by canonical URL.
type Cache interface {
	// Get retrieves a value by key. Returns ErrNotFound if absent/expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. ttl == 0 uses the driver's
	// default TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the driver.
	Close() error
}

// Default TTL applied when a caller passes ttl == 0.
const DefaultTTL = 15 * time.Minute
