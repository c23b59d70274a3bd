package audit

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"basehub/pkg/middleware"
	"basehub/pkg/tenants"
)

func gatewayChain(t *testing.T, sink *chanSink) (http.Handler, *Recorder) {
	t.Helper()
	log := zap.NewNop().Sugar()
	reg := tenants.NewMemoryRegistry()
	_, err := reg.Create(context.Background(), tenants.Tenant{
		Slug:       "acme",
		DBName:     "proj_x_acme",
		AnonKey:    "anon-key",
		ServiceKey: "service-key",
		JWTSecret:  "jwt-secret",
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	rec := NewRecorder(sink, log, 16, nil)

	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(r.URL.Path, "teapot") {
			w.WriteHeader(http.StatusTeapot)
		}
		_, _ = w.Write(body)
	})
	h = middleware.Auth(nil)(h)
	h = middleware.Firewall(log)(h)
	h = Middleware(rec, nil, "gw.example.com")(h)
	h = middleware.WithTenant(reg, nil)(h)
	return h, rec
}

func waitRecord(t *testing.T, sink *chanSink) Record {
	t.Helper()
	select {
	case r := <-sink.recv:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no audit record produced")
		return Record{}
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("captures trust level, status and body", func(t *testing.T) {
		sink := &chanSink{recv: make(chan Record, 1)}
		h, rec := gatewayChain(t, sink)
		defer rec.Close()

		r := httptest.NewRequest("POST", "/data/acme/rows", strings.NewReader(`{"v":1}`))
		r.Header.Set("apikey", "service-key")
		r.Header.Set("User-Agent", "basehub-test")
		r.Header.Set("X-Forwarded-For", "198.51.100.7")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		if w.Body.String() != `{"v":1}` {
			t.Fatalf("body not passed through: %q", w.Body.String())
		}
		got := waitRecord(t, sink)
		if got.TenantSlug != "acme" || got.Method != "POST" || got.Status != http.StatusOK {
			t.Fatalf("got %+v", got)
		}
		if got.Trust != "service" {
			t.Fatalf("trust %q, want service", got.Trust)
		}
		if got.Body != `{"v":1}` || got.IP != "198.51.100.7" || got.UserAgent != "basehub-test" {
			t.Fatalf("got %+v", got)
		}
	})

	t.Run("auth rejections are audited with no trust level", func(t *testing.T) {
		sink := &chanSink{recv: make(chan Record, 1)}
		h, rec := gatewayChain(t, sink)
		defer rec.Close()

		r := httptest.NewRequest("GET", "/data/acme/rows", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("code=%d", w.Code)
		}
		got := waitRecord(t, sink)
		if got.Status != http.StatusUnauthorized || got.Trust != "" {
			t.Fatalf("got %+v", got)
		}
	})

	t.Run("handler status is recorded", func(t *testing.T) {
		sink := &chanSink{recv: make(chan Record, 1)}
		h, rec := gatewayChain(t, sink)
		defer rec.Close()

		r := httptest.NewRequest("GET", "/data/acme/teapot", nil)
		r.Header.Set("apikey", "anon-key")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		got := waitRecord(t, sink)
		if got.Status != http.StatusTeapot || got.Trust != "anon" {
			t.Fatalf("got %+v", got)
		}
	})

	t.Run("internal flag follows declared origin", func(t *testing.T) {
		sink := &chanSink{recv: make(chan Record, 1)}
		h, rec := gatewayChain(t, sink)
		defer rec.Close()

		r := httptest.NewRequest("GET", "/data/acme/rows", nil)
		r.Header.Set("apikey", "anon-key")
		r.Header.Set("Origin", "https://gw.example.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if got := waitRecord(t, sink); !got.Internal {
			t.Fatal("expected internal classification")
		}

		r = httptest.NewRequest("GET", "/data/acme/rows", nil)
		r.Header.Set("apikey", "anon-key")
		r.Header.Set("Origin", "https://elsewhere.example.com")
		w = httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if got := waitRecord(t, sink); got.Internal {
			t.Fatal("expected external classification")
		}
	})

	t.Run("non-data paths are not audited", func(t *testing.T) {
		sink := &chanSink{recv: make(chan Record, 1)}
		h, rec := gatewayChain(t, sink)
		defer rec.Close()

		r := httptest.NewRequest("GET", "/healthz", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		select {
		case got := <-sink.recv:
			t.Fatalf("unexpected record %+v", got)
		case <-time.After(100 * time.Millisecond):
		}
	})
}
