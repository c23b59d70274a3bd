package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Record is one completed data-plane request. Immutable once written; rows
// are only ever removed by retention pruning.
type Record struct {
	TenantSlug string
	Method     string
	Path       string
	Status     int
	IP         string
	DurationMS int64
	Trust      string
	Body       string
	Headers    map[string]string
	UserAgent  string
	Internal   bool
	CreatedAt  time.Time
}

// Sink persists audit records.
type Sink interface {
	Insert(ctx context.Context, rec Record) error
}

// Recorder decouples audit persistence from the response path: Enqueue never
// blocks and never fails the request. A full queue or failed insert is
// logged and counted, nothing more.
type Recorder struct {
	ch      chan Record
	done    chan struct{}
	sink    Sink
	log     *zap.SugaredLogger
	dropped prometheus.Counter
}

func NewRecorder(sink Sink, log *zap.SugaredLogger, queueSize int, dropped prometheus.Counter) *Recorder {
	if queueSize <= 0 {
		queueSize = 1024
	}
	r := &Recorder{
		ch:      make(chan Record, queueSize),
		done:    make(chan struct{}),
		sink:    sink,
		log:     log,
		dropped: dropped,
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.sink.Insert(ctx, rec); err != nil {
			r.log.Warnw("audit write failed", "tenant", rec.TenantSlug, "err", err)
		}
		cancel()
	}
}

// Enqueue hands a record to the background writer without blocking.
func (r *Recorder) Enqueue(rec Record) {
	select {
	case r.ch <- rec:
	default:
		if r.dropped != nil {
			r.dropped.Inc()
		}
		r.log.Warnw("audit queue full, dropping record", "tenant", rec.TenantSlug)
	}
}

// Close drains queued records and stops the writer.
func (r *Recorder) Close() {
	close(r.ch)
	<-r.done
}

// nopSink discards records. Used when no control database is configured.
type nopSink struct{}

func (nopSink) Insert(ctx context.Context, rec Record) error { return nil }

func NewNopSink() Sink { return nopSink{} }

// pgSink writes records to the control database.
type pgSink struct {
	dbPool *pgxpool.Pool
}

func NewPostgresSink(dbPool *pgxpool.Pool) Sink {
	return &pgSink{dbPool: dbPool}
}

// EnsureSchema creates the request log table. Idempotent.
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS request_logs (
  id BIGSERIAL PRIMARY KEY,
  tenant_slug text NOT NULL,
  method text NOT NULL,
  path text NOT NULL,
  status_code int NOT NULL,
  ip text,
  duration_ms bigint,
  trust_level text,
  body text,
  headers jsonb DEFAULT '{}'::jsonb,
  user_agent text,
  internal boolean NOT NULL DEFAULT false,
  created_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS request_logs_tenant_created_idx ON request_logs(tenant_slug, created_at);
`)
	return err
}

func (s *pgSink) Insert(ctx context.Context, rec Record) error {
	headers, _ := json.Marshal(rec.Headers)
	_, err := s.dbPool.Exec(ctx, `INSERT INTO request_logs(tenant_slug, method, path, status_code, ip, duration_ms, trust_level, body, headers, user_agent, internal, created_at)
	  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rec.TenantSlug, rec.Method, rec.Path, rec.Status, rec.IP, rec.DurationMS, rec.Trust, rec.Body, headers, rec.UserAgent, rec.Internal, rec.CreatedAt)
	return err
}

// Prune removes a tenant's records older than the given number of days and
// returns how many were deleted.
func Prune(ctx context.Context, dbPool *pgxpool.Pool, slug string, days int) (int64, error) {
	tag, err := dbPool.Exec(ctx, `DELETE FROM request_logs WHERE tenant_slug=$1 AND created_at < NOW() - ($2 * INTERVAL '1 day')`, slug, days)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
