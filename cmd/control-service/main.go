package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"basehub/internal/audit"
	"basehub/internal/controlapi"
	"basehub/internal/provision"
	"basehub/pkg/config"
	"basehub/pkg/db"
	"basehub/pkg/logger"
	"basehub/pkg/tenants"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	defer log.Sync()

	pool := db.MustConnect(cfg, log)
	adminPool := db.MustAdminConnect(cfg, log)
	rdb := db.MustRedis(cfg, log)

	var reg tenants.Registry
	if pool != nil {
		_ = tenants.EnsureSchema(context.Background(), pool)
		_ = audit.EnsureSchema(context.Background(), pool)
		reg = tenants.NewPostgresRegistry(pool, log)
	} else {
		reg = tenants.NewMemoryRegistry()
	}
	reg = tenants.NewCachedRegistry(reg, rdb, cfg.TenantCacheTTL, log)

	boot, err := provision.LoadBootstrap(cfg.BootstrapFile)
	if err != nil {
		log.Fatalw("bootstrap template", "err", err)
	}

	var pools *db.PoolManager
	if cfg.AdminDSN != "" {
		pools = db.NewPoolManager(cfg.AdminDSN, log)
	}
	getPool := func(ctx context.Context, dbName string) (provision.Execer, error) {
		if pools == nil {
			return nil, fmt.Errorf("no tenant pool manager configured")
		}
		return pools.Get(ctx, dbName)
	}

	var adminExec provision.Execer
	if adminPool != nil {
		adminExec = adminPool
	}
	prov := provision.New(reg, adminExec, getPool, boot, cfg.TenantDBPrefix, log)
	app := controlapi.New(log, pool, reg, prov, cfg)

	srv := &http.Server{Addr: cfg.ControlAddr, Handler: app.Handler()}
	go func() {
		log.Infow("control-service listening", "addr", cfg.ControlAddr)
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
	fmt.Println("control-service stopped")
}
