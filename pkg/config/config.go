// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	GatewayAddr string // gateway-service (data plane)
	ControlAddr string // control-service (admin plane)

	// Control database (tenant registry, admins, request logs)
	DatabaseURL string

	// Server-level DSN with CREATEDB privilege. Also used as the template
	// for per-tenant pools: the database component is swapped out.
	AdminDSN string

	// Secret used to sign administrator session tokens. Tokens signed with
	// it act as master credentials on any tenant's data plane.
	ControlSecret string

	// Prefix for generated tenant database names.
	TenantDBPrefix string

	// Host the gateway considers "its own" when classifying traffic origin.
	PublicHost string

	// Optional YAML file overriding the tenant bootstrap template.
	BootstrapFile string

	// Redis (optional tenant lookup cache)
	RedisURL       string
	TenantCacheTTL time.Duration

	SessionTTL time.Duration

	// Audit recorder
	AuditQueueSize int
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:            env("BASEHUB_ENV", "dev"),
		GatewayAddr:    env("BASEHUB_GATEWAY_ADDR", ":8080"),
		ControlAddr:    env("BASEHUB_CONTROL_ADDR", ":8082"),
		DatabaseURL:    env("DATABASE_URL", ""),
		AdminDSN:       env("ADMIN_DSN", ""),
		ControlSecret:  env("CONTROL_SECRET", ""),
		TenantDBPrefix: env("TENANT_DB_PREFIX", "proj"),
		PublicHost:     env("PUBLIC_HOST", "localhost:8080"),
		BootstrapFile:  env("BOOTSTRAP_FILE", ""),
		RedisURL:       env("REDIS_URL", ""),
		TenantCacheTTL: envDur("TENANT_CACHE_TTL_SEC", 60) * time.Second,
		SessionTTL:     envDur("SESSION_TTL_SEC", 43200) * time.Second,
		AuditQueueSize: envInt("AUDIT_QUEUE_SIZE", 1024),
	}
	if cfg.AdminDSN == "" {
		cfg.AdminDSN = cfg.DatabaseURL
	}
	if cfg.ControlSecret == "" {
		log.Println("[WARN] CONTROL_SECRET not set — administrator sessions cannot be issued or verified")
	}
	return cfg
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i)
		}
	}
	return time.Duration(def)
}
