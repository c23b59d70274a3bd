package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"basehub/pkg/tenants"
)

func discardLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// pipeline builds the gateway stages in production order over the memory
// registry, ending in a 200 handler.
func pipeline(reg tenants.Registry) http.Handler {
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
	h = Auth(controlSecret)(h)
	h = Firewall(discardLogger())(h)
	h = WithTenant(reg, nil)(h)
	return h
}

func TestFirewall(t *testing.T) {
	reg := seedRegistry(t)
	if _, err := reg.BlockIP(context.Background(), "acme", "203.0.113.9"); err != nil {
		t.Fatalf("block: %v", err)
	}
	h := pipeline(reg)

	t.Run("blocked ip with valid service key is still 403", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/data/acme/policies", nil)
		r.Header.Set("apikey", "service-key-acme")
		r.Header.Set("X-Forwarded-For", "203.0.113.9")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusForbidden {
			t.Fatalf("code=%d, want 403: the firewall must run before authentication", w.Code)
		}
	})

	t.Run("unblocked ip passes", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/data/acme/policies", nil)
		r.Header.Set("apikey", "service-key-acme")
		r.Header.Set("X-Forwarded-For", "198.51.100.7")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("code=%d, want 200", w.Code)
		}
	})

	t.Run("unblock restores access", func(t *testing.T) {
		if _, err := reg.UnblockIP(context.Background(), "acme", "203.0.113.9"); err != nil {
			t.Fatalf("unblock: %v", err)
		}
		r := httptest.NewRequest("GET", "/data/acme/policies", nil)
		r.Header.Set("apikey", "service-key-acme")
		r.Header.Set("X-Forwarded-For", "203.0.113.9")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("code=%d, want 200", w.Code)
		}
	})

	t.Run("no credential after firewall is 401", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/data/acme/policies", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("code=%d, want 401", w.Code)
		}
	})
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/data/acme/x", nil)
	r.RemoteAddr = "192.0.2.4:9999"
	if ip := ClientIP(r); ip != "192.0.2.4" {
		t.Fatalf("got %q", ip)
	}
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if ip := ClientIP(r); ip != "203.0.113.9" {
		t.Fatalf("got %q", ip)
	}
}
