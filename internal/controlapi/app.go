package controlapi

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"basehub/internal/provision"
	"basehub/pkg/config"
	"basehub/pkg/tenants"
)

// App is the control-plane application container: shared deps and config
// only, request-scoped work goes through context.
type App struct {
	log        *zap.SugaredLogger
	db         *pgxpool.Pool
	reg        tenants.Registry
	prov       *provision.Provisioner
	secret     []byte
	sessionTTL time.Duration
}

// New constructs App and performs one-time startup tasks (admin schema,
// operator seed).
func New(log *zap.SugaredLogger, db *pgxpool.Pool, reg tenants.Registry, prov *provision.Provisioner, cfg config.Config) *App {
	app := &App{
		log:        log,
		db:         db,
		reg:        reg,
		prov:       prov,
		sessionTTL: cfg.SessionTTL,
	}
	if cfg.ControlSecret != "" {
		app.secret = []byte(cfg.ControlSecret)
	}
	if db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := ensureAdminSchema(ctx, db); err != nil {
			log.Fatalw("ensure admin schema", "err", err)
		}
		if err := seedAdminFromEnv(ctx, db, log); err != nil {
			log.Warnw("admin seed", "err", err)
		}
	}
	return app
}
