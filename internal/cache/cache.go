// Package cache provides a generic key/value cache whose entries expire a
// fixed duration after insertion.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/italolelis/assetflow/internal/telemetry"
)

// Loader fetches the value of a key missing from the cache. An error means
// nothing is cached.
type Loader[K comparable, V any] func(ctx context.Context, key K) (V, error)

// Cache is safe for concurrent use. Every entry has exactly one pending
// expiry: Put on an existing key restarts the full timeout, Get never
// extends it.
type Cache[K comparable, V any] struct {
	items *ttlcache.Cache[K, V]
	loads singleflight.Group

	name      string
	telemetry *telemetry.Telemetry
	onExpire  func(K, V)
}

type Option[K comparable, V any] func(*Cache[K, V])

// WithOnExpire registers a callback invoked with each entry removed by its
// timeout. Explicit removals and replacements don't trigger it.
func WithOnExpire[K comparable, V any](fn func(key K, value V)) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.onExpire = fn
	}
}

// WithTelemetry records hits, misses and expirations under the cache name.
func WithTelemetry[K comparable, V any](name string, tel *telemetry.Telemetry) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.name = name
		c.telemetry = tel
	}
}

// New creates a cache and starts its expiry loop. Call Stop to release it.
func New[K comparable, V any](ttl time.Duration, opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		items: ttlcache.New[K, V](
			ttlcache.WithTTL[K, V](ttl),
			ttlcache.WithDisableTouchOnHit[K, V](),
		),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.items.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[K, V]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}

		c.telemetry.RecordCacheExpiration(c.name)

		if c.onExpire != nil {
			c.onExpire(item.Key(), item.Value())
		}
	})

	go c.items.Start()

	return c
}

// Put stores the value, replacing any previous entry and its expiry.
func (c *Cache[K, V]) Put(key K, value V) {
	c.items.Set(key, value, ttlcache.DefaultTTL)
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.get(key)
	c.telemetry.RecordCacheLookup(c.name, ok)

	return v, ok
}

// GetOrLoad returns the cached value or loads, caches and returns it.
// Concurrent misses for the same key share one loader call, which runs
// detached from the cancellation of the caller that started it. Keys with
// equal %v formatting share that call too.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, load Loader[K, V]) (V, error) {
	if v, ok := c.get(key); ok {
		c.telemetry.RecordCacheLookup(c.name, true)

		return v, nil
	}

	c.telemetry.RecordCacheLookup(c.name, false)

	result, err, _ := c.loads.Do(fmt.Sprintf("%v", key), func() (any, error) {
		// A load that finished between the miss and this call already
		// populated the entry.
		if v, ok := c.get(key); ok {
			return v, nil
		}

		v, err := load(context.WithoutCancel(ctx), key)
		if err != nil {
			return nil, err
		}

		c.Put(key, v)

		return v, nil
	})
	if err != nil {
		var zero V

		return zero, err
	}

	v, _ := result.(V)

	return v, nil
}

// Remove deletes the entry and cancels its expiry.
func (c *Cache[K, V]) Remove(key K) {
	c.items.Delete(key)
}

func (c *Cache[K, V]) Len() int {
	return c.items.Len()
}

// Stop ends the expiry loop. Entries past their timeout are no longer
// returned but are not evicted either.
func (c *Cache[K, V]) Stop() {
	c.items.Stop()
}

func (c *Cache[K, V]) get(key K) (V, bool) {
	item := c.items.Get(key)
	if item == nil {
		var zero V

		return zero, false
	}

	return item.Value(), true
}
