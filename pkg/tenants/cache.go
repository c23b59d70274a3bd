// pkg/tenants/cache.go
package tenants

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// cachedRegistry wraps another Registry with a redis lookup cache keyed by
// slug and custom domain. Every mutation goes to the inner registry first and
// then tombstones the affected keys, including the pre-update domain when a
// domain moves, so a rotated key or settings change is visible on the very
// next lookup. Tombstones outlive any in-flight lookup, and the read-through
// path only fills absent keys, so a resolve racing a mutation cannot
// resurrect the record it read before the mutation landed.
type cachedRegistry struct {
	inner Registry
	rdb   *redis.Client
	ttl   time.Duration
	log   *zap.SugaredLogger
}

const (
	cacheTombstone    = "__tombstone__"
	cacheTombstoneTTL = 5 * time.Second
)

// NewCachedRegistry returns inner unchanged when rdb is nil.
func NewCachedRegistry(inner Registry, rdb *redis.Client, ttl time.Duration, log *zap.SugaredLogger) Registry {
	if rdb == nil {
		return inner
	}
	return &cachedRegistry{inner: inner, rdb: rdb, ttl: ttl, log: log}
}

func (c *cachedRegistry) cacheGet(ctx context.Context, key string) (Tenant, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil || string(raw) == cacheTombstone {
		return Tenant{}, false
	}
	var t Tenant
	if err := json.Unmarshal(raw, &t); err != nil {
		return Tenant{}, false
	}
	return t, true
}

// cacheSet fills only absent keys. A key tombstoned by a concurrent mutation
// rejects the write, so a lookup started before the mutation cannot re-store
// the record it read.
func (c *cachedRegistry) cacheSet(ctx context.Context, t Tenant) {
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := c.rdb.SetNX(ctx, "tenant:slug:"+t.Slug, raw, c.ttl).Err(); err != nil {
		c.log.Warnw("tenant cache set", "slug", t.Slug, "err", err)
		return
	}
	if t.CustomDomain != "" {
		_ = c.rdb.SetNX(ctx, "tenant:domain:"+t.CustomDomain, raw, c.ttl).Err()
	}
}

// invalidate tombstones the tenant's lookup keys plus any stale domains a
// mutation may have orphaned.
func (c *cachedRegistry) invalidate(ctx context.Context, t Tenant, staleDomains ...string) {
	keys := []string{"tenant:slug:" + t.Slug}
	if t.CustomDomain != "" {
		keys = append(keys, "tenant:domain:"+t.CustomDomain)
	}
	for _, d := range staleDomains {
		if d != "" && d != t.CustomDomain {
			keys = append(keys, "tenant:domain:"+d)
		}
	}
	pipe := c.rdb.Pipeline()
	for _, k := range keys {
		pipe.Set(ctx, k, cacheTombstone, cacheTombstoneTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warnw("tenant cache invalidate", "slug", t.Slug, "err", err)
	}
}

func (c *cachedRegistry) ResolveByDomain(ctx context.Context, domain string) (Tenant, error) {
	if t, ok := c.cacheGet(ctx, "tenant:domain:"+domain); ok {
		return t, nil
	}
	t, err := c.inner.ResolveByDomain(ctx, domain)
	if err != nil {
		return Tenant{}, err
	}
	c.cacheSet(ctx, t)
	return t, nil
}

func (c *cachedRegistry) ResolveBySlug(ctx context.Context, slug string) (Tenant, error) {
	if t, ok := c.cacheGet(ctx, "tenant:slug:"+slug); ok {
		return t, nil
	}
	t, err := c.inner.ResolveBySlug(ctx, slug)
	if err != nil {
		return Tenant{}, err
	}
	c.cacheSet(ctx, t)
	return t, nil
}

func (c *cachedRegistry) List(ctx context.Context) ([]Tenant, error) {
	return c.inner.List(ctx)
}

func (c *cachedRegistry) Create(ctx context.Context, t Tenant) (Tenant, error) {
	created, err := c.inner.Create(ctx, t)
	if err != nil {
		return Tenant{}, err
	}
	c.invalidate(ctx, created)
	return created, nil
}

func (c *cachedRegistry) UpdateSettings(ctx context.Context, slug string, s Settings) (Tenant, error) {
	// Snapshot the current domain so a move also kills the old domain's key.
	prev, _ := c.inner.ResolveBySlug(ctx, slug)
	updated, err := c.inner.UpdateSettings(ctx, slug, s)
	if err != nil {
		return Tenant{}, err
	}
	c.invalidate(ctx, updated, prev.CustomDomain)
	return updated, nil
}

func (c *cachedRegistry) RotateKey(ctx context.Context, slug string, kind KeyKind) (Tenant, error) {
	updated, err := c.inner.RotateKey(ctx, slug, kind)
	if err != nil {
		return Tenant{}, err
	}
	c.invalidate(ctx, updated)
	return updated, nil
}

func (c *cachedRegistry) BlockIP(ctx context.Context, slug, ip string) (Tenant, error) {
	updated, err := c.inner.BlockIP(ctx, slug, ip)
	if err != nil {
		return Tenant{}, err
	}
	c.invalidate(ctx, updated)
	return updated, nil
}

func (c *cachedRegistry) UnblockIP(ctx context.Context, slug, ip string) (Tenant, error) {
	updated, err := c.inner.UnblockIP(ctx, slug, ip)
	if err != nil {
		return Tenant{}, err
	}
	c.invalidate(ctx, updated)
	return updated, nil
}
