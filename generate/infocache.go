package generate

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const infoCacheTTL = 10 * time.Minute

// InfoCache is a TTL cache of backend model metadata keyed by model name.
type InfoCache struct {
	cache *ttlcache.Cache[string, *ModelMeta]
}

// NewInfoCache creates an InfoCache with TTL-based expiration.
func NewInfoCache(ttl time.Duration) *InfoCache {
	if ttl <= 0 {
		ttl = infoCacheTTL
	}
	c := ttlcache.New[string, *ModelMeta](
		ttlcache.WithTTL[string, *ModelMeta](ttl),
		ttlcache.WithDisableTouchOnHit[string, *ModelMeta](),
	)
	go c.Start()
	return &InfoCache{cache: c}
}

// Close stops the cache expiration loop.
func (ic *InfoCache) Close() {
	ic.cache.Stop()
}

// Get returns the cached metadata for model, or nil if not cached/expired.
func (ic *InfoCache) Get(model string) *ModelMeta {
	item := ic.cache.Get(model)
	if item == nil {
		return nil
	}
	return item.Value()
}

// Put stores meta under its model name.
func (ic *InfoCache) Put(model string, meta *ModelMeta) {
	ic.cache.Set(model, meta, ttlcache.DefaultTTL)
}

// Fetch returns cached metadata or loads it from b and caches the result.
func (ic *InfoCache) Fetch(ctx context.Context, b Backend, model string) (*ModelMeta, error) {
	if meta := ic.Get(model); meta != nil {
		return meta, nil
	}
	meta, err := b.Load(ctx, model)
	if err != nil {
		return nil, err
	}
	ic.Put(model, meta)
	return meta, nil
}

// Clear drops every entry.
func (ic *InfoCache) Clear() {
	ic.cache.DeleteAll()
}

// Len returns the number of live entries.
func (ic *InfoCache) Len() int {
	return ic.cache.Len()
}
