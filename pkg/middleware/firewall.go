// pkg/middleware/firewall.go
package middleware

import (
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// ClientIP returns the caller's source IP: first X-Forwarded-For hop when
// present, else the RemoteAddr host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			xff = xff[:i]
		}
		return strings.TrimSpace(xff)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Firewall denies blocklisted source IPs for the resolved tenant. It runs
// after tenant resolution and before authentication, so a blocked caller is
// told nothing about whether its credentials would have been accepted.
// There is no self-block exemption: a tenant that blocks its own operator's
// IP is honored.
func Firewall(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, DataPlanePrefix) {
				next.ServeHTTP(w, r)
				return
			}
			t := TenantFrom(r.Context())
			ip := ClientIP(r)
			if t.Blocked(ip) {
				log.Warnw("blocked ip", "tenant", t.Slug, "ip", ip)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
