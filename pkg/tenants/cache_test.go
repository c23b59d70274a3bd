package tenants

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newCachedRegistry(t *testing.T) (Registry, Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	inner := NewMemoryRegistry()
	return NewCachedRegistry(inner, rdb, time.Minute, zap.NewNop().Sugar()), inner, mr
}

// seedPast creates a tenant and advances the clock past the creation
// tombstones so lookups can warm the cache.
func seedPast(t *testing.T, reg Registry, mr *miniredis.Miniredis, tn Tenant) Tenant {
	t.Helper()
	created, err := reg.Create(context.Background(), tn)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	mr.FastForward(cacheTombstoneTTL + time.Second)
	return created
}

func TestCachedRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("nil client degrades to the inner registry", func(t *testing.T) {
		inner := NewMemoryRegistry()
		if got := NewCachedRegistry(inner, nil, time.Minute, zap.NewNop().Sugar()); got != inner {
			t.Fatal("expected the inner registry back")
		}
	})

	t.Run("read-through serves the cached record", func(t *testing.T) {
		reg, inner, mr := newCachedRegistry(t)
		seedPast(t, reg, mr, Tenant{Slug: "acme", CustomDomain: "api.acme.com", ServiceKey: "sk"})
		if _, err := reg.ResolveBySlug(ctx, "acme"); err != nil {
			t.Fatalf("warm: %v", err)
		}
		if !mr.Exists("tenant:slug:acme") || !mr.Exists("tenant:domain:api.acme.com") {
			t.Fatalf("cache keys missing, have %v", mr.Keys())
		}
		// A rotation applied behind the wrapper's back proves the next
		// lookup comes from the cache, not the registry.
		if _, err := inner.RotateKey(ctx, "acme", KeyService); err != nil {
			t.Fatalf("inner rotate: %v", err)
		}
		got, err := reg.ResolveBySlug(ctx, "acme")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got.ServiceKey != "sk" {
			t.Fatal("lookup bypassed the cache")
		}
	})

	t.Run("key rotation is visible on the next lookup", func(t *testing.T) {
		reg, _, mr := newCachedRegistry(t)
		created := seedPast(t, reg, mr, Tenant{Slug: "acme", ServiceKey: "old-service"})
		_, _ = reg.ResolveBySlug(ctx, "acme")
		rotated, err := reg.RotateKey(ctx, "acme", KeyService)
		if err != nil {
			t.Fatalf("rotate: %v", err)
		}
		got, err := reg.ResolveBySlug(ctx, "acme")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got.ServiceKey == created.ServiceKey || got.ServiceKey != rotated.ServiceKey {
			t.Fatalf("stale service key served: %q", got.ServiceKey)
		}
	})

	t.Run("moving a domain kills the old domain's entry", func(t *testing.T) {
		reg, _, mr := newCachedRegistry(t)
		seedPast(t, reg, mr, Tenant{Slug: "acme", CustomDomain: "old.acme.com"})
		if _, err := reg.ResolveByDomain(ctx, "old.acme.com"); err != nil {
			t.Fatalf("warm: %v", err)
		}
		domain := "new.acme.com"
		if _, err := reg.UpdateSettings(ctx, "acme", Settings{CustomDomain: &domain}); err != nil {
			t.Fatalf("update: %v", err)
		}
		if _, err := reg.ResolveByDomain(ctx, "old.acme.com"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("old domain still resolves, err=%v", err)
		}
		got, err := reg.ResolveByDomain(ctx, "new.acme.com")
		if err != nil || got.Slug != "acme" {
			t.Fatalf("new domain: %v %+v", err, got)
		}
	})

	t.Run("clearing a domain kills its entry", func(t *testing.T) {
		reg, _, mr := newCachedRegistry(t)
		seedPast(t, reg, mr, Tenant{Slug: "acme", CustomDomain: "api.acme.com"})
		_, _ = reg.ResolveByDomain(ctx, "api.acme.com")
		empty := ""
		got, err := reg.UpdateSettings(ctx, "acme", Settings{CustomDomain: &empty})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if got.CustomDomain != "" {
			t.Fatalf("domain not cleared: %q", got.CustomDomain)
		}
		if _, err := reg.ResolveByDomain(ctx, "api.acme.com"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("cleared domain still resolves, err=%v", err)
		}
	})

	t.Run("a lookup racing a mutation cannot resurrect the old record", func(t *testing.T) {
		reg, _, mr := newCachedRegistry(t)
		created := seedPast(t, reg, mr, Tenant{Slug: "acme", ServiceKey: "old-service"})
		rotated, err := reg.RotateKey(ctx, "acme", KeyService)
		if err != nil {
			t.Fatalf("rotate: %v", err)
		}
		// A resolve that read the registry before the rotation finishes its
		// cache write only now.
		c := reg.(*cachedRegistry)
		c.cacheSet(ctx, created)
		got, err := reg.ResolveBySlug(ctx, "acme")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got.ServiceKey != rotated.ServiceKey {
			t.Fatalf("pre-rotation key resurrected: %q", got.ServiceKey)
		}
	})

	t.Run("blocklist changes are visible on the next lookup", func(t *testing.T) {
		reg, _, mr := newCachedRegistry(t)
		seedPast(t, reg, mr, Tenant{Slug: "acme"})
		_, _ = reg.ResolveBySlug(ctx, "acme")
		if _, err := reg.BlockIP(ctx, "acme", "203.0.113.9"); err != nil {
			t.Fatalf("block: %v", err)
		}
		got, err := reg.ResolveBySlug(ctx, "acme")
		if err != nil || !got.Blocked("203.0.113.9") {
			t.Fatalf("stale blocklist served: %v %v", err, got.Blocklist)
		}
	})
}
