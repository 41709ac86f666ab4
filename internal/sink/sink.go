// File: internal/sink/sink.go
// Description: The optional archival sink. The engine emits (phase, item)
// events fire-and-forget; this package's contract is to never block or fail
// the run. Record only enqueues: a single drain goroutine performs the
// database writes, and every error here is logged and dropped.
package sink

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// recordTimeout bounds every archival write so a stalled database cannot
// back the drain goroutine up forever.
const recordTimeout = 5 * time.Second

// queueDepth is the event buffer between the engine and the drain goroutine.
// A full queue drops events rather than blocking the caller.
const queueDepth = 256

// DBPool abstracts the pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type event struct {
	runID   string
	phase   schemas.Phase
	payload []byte
	at      time.Time
}

// Postgres archives run events into a single append-only table.
type Postgres struct {
	pool DBPool
	log  *zap.Logger

	queue     chan event
	drained   chan struct{}
	closeOnce sync.Once
}

// NewPostgres verifies the connection, starts the drain goroutine and returns
// the sink. Callers own Close.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	s := &Postgres{
		pool:    pool,
		log:     logger.Named("sink.postgres"),
		queue:   make(chan event, queueDepth),
		drained: make(chan struct{}),
	}
	go s.drain()
	return s, nil
}

// Record enqueues one phase item and returns immediately. Best effort: marshal
// failures and a full queue drop the item, per the ResultSink contract.
func (s *Postgres) Record(_ context.Context, runID string, phase schemas.Phase, item any) {
	payload, err := json.Marshal(item)
	if err != nil {
		s.log.Warn("Dropping unmarshalable sink item", zap.String("phase", string(phase)), zap.Error(err))
		return
	}

	select {
	case s.queue <- event{runID: runID, phase: phase, payload: payload, at: time.Now().UTC()}:
	default:
		s.log.Warn("Dropping sink item, queue is full",
			zap.String("run_id", runID),
			zap.String("phase", string(phase)),
		)
	}
}

// drain writes queued events until Close closes the queue. Writes run against
// a background context so run cancellation cannot cut the archive short.
func (s *Postgres) drain() {
	defer close(s.drained)
	for ev := range s.queue {
		s.write(ev)
	}
}

func (s *Postgres) write(ev event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	const sql = `
        INSERT INTO run_events (run_id, phase, payload, recorded_at)
        VALUES ($1, $2, $3, $4);
    `
	if _, err := s.pool.Exec(ctx, sql, ev.runID, string(ev.phase), ev.payload, ev.at); err != nil {
		s.log.Warn("Failed to archive sink item",
			zap.String("run_id", ev.runID),
			zap.String("phase", string(ev.phase)),
			zap.Error(err),
		)
	}
}

// Close stops intake and waits for queued events to flush, or for ctx. Safe to
// call more than once. The pool's lifecycle belongs to the caller.
func (s *Postgres) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.queue) })
	select {
	case <-s.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Noop discards every event. Used when archival is disabled.
type Noop struct{}

func (Noop) Record(context.Context, string, schemas.Phase, any) {}
func (Noop) Close(context.Context) error                       { return nil }
