// pkg/middleware/tenant.go
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"basehub/pkg/db"
	"basehub/pkg/tenants"
)

type ctxTenantKey struct{}
type ctxPoolKey struct{}

// DataPlanePrefix is the shared-host path prefix for tenant traffic.
const DataPlanePrefix = "/data/"

// SlugFromPath extracts the tenant slug from a data-plane path, or "".
func SlugFromPath(path string) string {
	if !strings.HasPrefix(path, DataPlanePrefix) {
		return ""
	}
	rest := path[len(DataPlanePrefix):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// WithTenant resolves the target tenant for a data-plane request: exact
// custom-domain match first, then the slug segment of the path. No match is
// a terminal 404 — data endpoints are never served without a tenant. On
// success the tenant and its database pool handle are bound to the request
// context.
func WithTenant(reg tenants.Registry, pools *db.PoolManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Health and metrics are served without tenant context.
			if !strings.HasPrefix(r.URL.Path, DataPlanePrefix) {
				next.ServeHTTP(w, r)
				return
			}
			host := r.Host
			if i := strings.Index(host, ":"); i > 0 {
				host = host[:i]
			}
			t, err := reg.ResolveByDomain(r.Context(), host)
			if err != nil {
				if slug := SlugFromPath(r.URL.Path); slug != "" {
					t, err = reg.ResolveBySlug(r.Context(), slug)
				}
			}
			if err != nil {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), ctxTenantKey{}, t)
			if pools != nil {
				pool, err := pools.Get(r.Context(), t.DBName)
				if err != nil {
					http.Error(w, "unavailable", http.StatusServiceUnavailable)
					return
				}
				ctx = context.WithValue(ctx, ctxPoolKey{}, pool)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantFrom returns the tenant bound by WithTenant, or a zero Tenant.
func TenantFrom(ctx context.Context) tenants.Tenant {
	if v := ctx.Value(ctxTenantKey{}); v != nil {
		return v.(tenants.Tenant)
	}
	return tenants.Tenant{}
}

// PoolFrom returns the tenant database pool bound by WithTenant.
func PoolFrom(ctx context.Context) *pgxpool.Pool {
	if v := ctx.Value(ctxPoolKey{}); v != nil {
		return v.(*pgxpool.Pool)
	}
	return nil
}
