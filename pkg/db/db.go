// pkg/db/db.go
package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"basehub/pkg/config"
)

// MustConnect opens the control database pool or exits. Returns nil when no
// DATABASE_URL is configured (in-memory dev mode).
func MustConnect(cfg config.Config, log *zap.SugaredLogger) *pgxpool.Pool {
	if cfg.DatabaseURL == "" {
		return nil
	}
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("pg connect", "err", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		log.Fatalw("pg ping", "err", err)
	}
	log.Infow("control db ready", "host", redactDSN(cfg.DatabaseURL))
	return pool
}

// MustAdminConnect opens the server-level pool used for CREATE DATABASE
// during provisioning. Nil when no AdminDSN is configured.
func MustAdminConnect(cfg config.Config, log *zap.SugaredLogger) *pgxpool.Pool {
	if cfg.AdminDSN == "" {
		return nil
	}
	pool, err := pgxpool.New(context.Background(), cfg.AdminDSN)
	if err != nil {
		log.Fatalw("admin pg connect", "err", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		log.Fatalw("admin pg ping", "err", err)
	}
	log.Infow("admin db ready", "host", redactDSN(cfg.AdminDSN))
	return pool
}

// MustRedis opens the optional redis client used for tenant lookup caching.
func MustRedis(cfg config.Config, log *zap.SugaredLogger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalw("redis parse", "err", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(context.Background()).Err(); err != nil {
		log.Fatalw("redis ping", "err", err)
	}
	log.Infow("redis ready", "addr", opts.Addr)
	return cli
}

func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "@"); i > 0 {
		return "***@" + dsn[i+1:]
	}
	return dsn
}
