// Package mlcache provides a concurrency-safe lazy loader for expensive
// model and preprocessor artifacts.
//
// Loading is single-flight per key: the first caller triggers the load and
// all concurrent callers for the same key share that one attempt's outcome.
// Failures are surfaced to every waiter but never cached, so the next
// request retries a transiently failing load. Successful handles are cached
// for the process lifetime and returned with only a read-lock check.
// Independent keys load in parallel.
package mlcache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/voyagekit/lifeboat/pkg/apierr"
)

// DefaultLoadTimeout bounds a single artifact load attempt.
const DefaultLoadTimeout = 10 * time.Second

// LoadFunc produces the in-memory handle for one artifact key.
type LoadFunc func(ctx context.Context) (any, error)

// Cache lazily loads and retains one handle per registered key.
type Cache struct {
	loaders     map[string]LoadFunc
	loadTimeout time.Duration
	logger      *slog.Logger

	group singleflight.Group

	mu     sync.RWMutex
	loaded map[string]any

	// OnLoad, if set, observes every completed load attempt. Used to feed
	// metrics without coupling the cache to a metrics registry.
	OnLoad func(key string, duration time.Duration, err error)
}

// New creates a cache over the given key → loader table.
func New(loaders map[string]LoadFunc, loadTimeout time.Duration, logger *slog.Logger) *Cache {
	if loadTimeout <= 0 {
		loadTimeout = DefaultLoadTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		loaders:     loaders,
		loadTimeout: loadTimeout,
		logger:      logger,
		loaded:      make(map[string]any, len(loaders)),
	}
}

// Get returns the handle for key, loading it on first use.
//
// A caller whose context is canceled while waiting gets its context error,
// but the in-flight load keeps running under a detached bounded context and
// its result is cached for subsequent callers.
func (c *Cache) Get(ctx context.Context, key string) (any, error) {
	c.mu.RLock()
	handle, ok := c.loaded[key]
	c.mu.RUnlock()
	if ok {
		return handle, nil
	}

	loader, registered := c.loaders[key]
	if !registered {
		return nil, fmt.Errorf("mlcache: unknown artifact key %q", key)
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// Re-check under the flight: a previous flight may have finished
		// between the fast path and DoChan.
		c.mu.RLock()
		cached, done := c.loaded[key]
		c.mu.RUnlock()
		if done {
			return cached, nil
		}

		start := time.Now()
		loadCtx, cancel := context.WithTimeout(context.Background(), c.loadTimeout)
		defer cancel()

		h, err := loader(loadCtx)
		elapsed := time.Since(start)

		if c.OnLoad != nil {
			c.OnLoad(key, elapsed, err)
		}

		if err != nil {
			c.logger.Error("artifact load failed",
				"key", key,
				"duration_ms", elapsed.Milliseconds(),
				"error", err,
			)
			return nil, err
		}

		c.mu.Lock()
		c.loaded[key] = h
		c.mu.Unlock()

		c.logger.Info("artifact loaded",
			"key", key,
			"duration_ms", elapsed.Milliseconds(),
		)
		return h, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, &apierr.ModelUnavailableError{Key: key, Err: res.Err}
		}
		return res.Val, nil
	case <-ctx.Done():
		// The flight continues for the remaining waiters.
		return nil, ctx.Err()
	}
}

// Peek reports whether the key is currently loaded without triggering a
// load. Health and info endpoints use this.
func (c *Cache) Peek(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.loaded[key]
	return ok
}

// Keys returns all registered artifact keys in sorted order.
func (c *Cache) Keys() []string {
	keys := make([]string, 0, len(c.loaders))
	for k := range c.loaders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
