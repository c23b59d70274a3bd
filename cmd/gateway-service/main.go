package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"basehub/internal/audit"
	"basehub/internal/policy"
	"basehub/pkg/config"
	"basehub/pkg/db"
	"basehub/pkg/logger"
	"basehub/pkg/metrics"
	"basehub/pkg/middleware"
	"basehub/pkg/tenants"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	defer log.Sync()

	pool := db.MustConnect(cfg, log)
	rdb := db.MustRedis(cfg, log)

	var reg tenants.Registry
	var sink audit.Sink
	if pool != nil {
		_ = tenants.EnsureSchema(context.Background(), pool)
		_ = audit.EnsureSchema(context.Background(), pool)
		reg = tenants.NewPostgresRegistry(pool, log)
		sink = audit.NewPostgresSink(pool)
	} else {
		reg = tenants.NewMemoryRegistry()
		sink = audit.NewNopSink()
	}
	reg = tenants.NewCachedRegistry(reg, rdb, cfg.TenantCacheTTL, log)

	var pools *db.PoolManager
	if cfg.AdminDSN != "" {
		pools = db.NewPoolManager(cfg.AdminDSN, log)
	}

	m := metrics.NewGatewayMetrics()
	recorder := audit.NewRecorder(sink, log, cfg.AuditQueueSize, m.AuditDropped)

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.Tracing("basehub-gateway"))
	r.Use(middleware.WithTenant(reg, pools))
	r.Use(audit.Middleware(recorder, m, cfg.PublicHost))
	r.Use(middleware.Firewall(log))
	r.Use(middleware.Auth([]byte(cfg.ControlSecret)))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Route("/data/{slug}", func(dr chi.Router) {
		policy.RegisterHTTP(dr, log)
	})

	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: r}
	go func() {
		log.Infow("gateway-service listening", "addr", cfg.GatewayAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	recorder.Close()
	fmt.Println("gateway-service stopped")
}
