// pkg/db/poolmanager.go
package db

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolManager owns one connection pool per tenant database. Pools are
// created lazily on first use and keyed by the immutable database name, so a
// handle can never be re-pointed at another tenant's data. Pools are never
// closed implicitly; Evict exists for explicit administrative teardown.
type PoolManager struct {
	mu      sync.Mutex
	pools   map[string]*poolEntry
	log     *zap.SugaredLogger
	connect func(ctx context.Context, dbName string) (*pgxpool.Pool, error)
}

type poolEntry struct {
	once sync.Once
	pool *pgxpool.Pool
	err  error
}

// NewPoolManager builds a manager whose pools are derived from adminDSN with
// the database component replaced.
func NewPoolManager(adminDSN string, log *zap.SugaredLogger) *PoolManager {
	return &PoolManager{
		pools: map[string]*poolEntry{},
		log:   log,
		connect: func(ctx context.Context, dbName string) (*pgxpool.Pool, error) {
			pc, err := pgxpool.ParseConfig(adminDSN)
			if err != nil {
				return nil, err
			}
			pc.ConnConfig.Database = dbName
			return pgxpool.NewWithConfig(ctx, pc)
		},
	}
}

// Get returns the pool for dbName, creating it on first call. Concurrent
// first callers share a single creation; they all receive the same pool.
func (m *PoolManager) Get(ctx context.Context, dbName string) (*pgxpool.Pool, error) {
	m.mu.Lock()
	e, ok := m.pools[dbName]
	if !ok {
		e = &poolEntry{}
		m.pools[dbName] = e
	}
	m.mu.Unlock()

	e.once.Do(func() {
		e.pool, e.err = m.connect(ctx, dbName)
		if e.err != nil {
			m.log.Warnw("tenant pool create", "db", dbName, "err", e.err)
		} else {
			m.log.Infow("tenant pool ready", "db", dbName)
		}
	})
	if e.err != nil {
		// Drop the failed entry so a later request can retry.
		m.mu.Lock()
		if m.pools[dbName] == e {
			delete(m.pools, dbName)
		}
		m.mu.Unlock()
		return nil, e.err
	}
	return e.pool, nil
}

// Evict closes and removes a pool. Not called by any request path.
func (m *PoolManager) Evict(dbName string) {
	m.mu.Lock()
	e, ok := m.pools[dbName]
	if ok {
		delete(m.pools, dbName)
	}
	m.mu.Unlock()
	if ok && e.pool != nil {
		e.pool.Close()
	}
}
