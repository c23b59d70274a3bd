package audit

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"basehub/pkg/metrics"
	"basehub/pkg/middleware"
)

const bodySnapshotLimit = 4 << 10

// statusWriter captures the final status code for the record.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Middleware records every completed data-plane request once the response
// status is finalized. It sits between tenant resolution and the firewall so
// denials are audited too. The internal flag compares the declared
// Referer/Origin host against the gateway's own host; it is advisory only.
func Middleware(rec *Recorder, m *metrics.GatewayMetrics, publicHost string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, middleware.DataPlanePrefix) {
				next.ServeHTTP(w, r)
				return
			}
			t := middleware.TenantFrom(r.Context())

			var body string
			if r.Body != nil && r.Method != http.MethodGet {
				orig := r.Body
				buf, _ := io.ReadAll(io.LimitReader(orig, bodySnapshotLimit))
				body = string(buf)
				r.Body = struct {
					io.Reader
					io.Closer
				}{io.MultiReader(bytes.NewReader(buf), orig), orig}
			}

			ctx, trust := middleware.TrackTrust(r.Context())
			sw := &statusWriter{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(sw, r.WithContext(ctx))
			elapsed := time.Since(start)

			if sw.status == 0 {
				sw.status = http.StatusOK
			}
			record := Record{
				TenantSlug: t.Slug,
				Method:     r.Method,
				Path:       r.URL.Path,
				Status:     sw.status,
				IP:         middleware.ClientIP(r),
				DurationMS: elapsed.Milliseconds(),
				Trust:      string(trust.Level),
				Body:       body,
				Headers:    headerSnapshot(r),
				UserAgent:  r.UserAgent(),
				Internal:   isInternal(r, publicHost),
				CreatedAt:  time.Now(),
			}
			rec.Enqueue(record)
			if m != nil {
				m.RequestsTotal.WithLabelValues(t.Slug, string(trust.Level), strconv.Itoa(sw.status)).Inc()
				m.RequestDuration.WithLabelValues(t.Slug).Observe(elapsed.Seconds())
			}
		})
	}
}

var snapshotHeaders = []string{"Content-Type", "Origin", "Referer", "X-Request-Id", "X-Forwarded-For"}

func headerSnapshot(r *http.Request) map[string]string {
	out := map[string]string{}
	for _, h := range snapshotHeaders {
		if v := r.Header.Get(h); v != "" {
			out[h] = v
		}
	}
	return out
}

// isInternal reports whether the request declared the gateway's own host as
// its origin, i.e. traffic from the management surface itself.
func isInternal(r *http.Request, publicHost string) bool {
	for _, raw := range []string{r.Header.Get("Origin"), r.Header.Get("Referer")} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Host == publicHost {
			return true
		}
	}
	return false
}
