package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/crucible/api/schemas"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()

	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestNewPostgresPingsTheDatabase(t *testing.T) {
	t.Parallel()

	t.Run("reachable", func(t *testing.T) {
		t.Parallel()
		mock := newMockPool(t)
		mock.ExpectPing()

		s, err := NewPostgres(context.Background(), mock, zap.NewNop())
		require.NoError(t, err)
		assert.NotNil(t, s)
		assert.NoError(t, s.Close(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unreachable", func(t *testing.T) {
		t.Parallel()
		mock := newMockPool(t)
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		_, err := NewPostgres(context.Background(), mock, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestPostgresRecord(t *testing.T) {
	t.Parallel()

	mock := newMockPool(t)
	mock.ExpectPing()
	mock.ExpectExec("INSERT INTO run_events").
		WithArgs("run-1", string(schemas.PhaseGeneration), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s, err := NewPostgres(context.Background(), mock, zap.NewNop())
	require.NoError(t, err)

	s.Record(context.Background(), "run-1", schemas.PhaseGeneration, schemas.Scenario{
		ID:             "d0:t0",
		DirectionIndex: 0,
		Content:        "scenario text",
	})

	// Close flushes the queue before the expectations are checked.
	require.NoError(t, s.Close(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Record must return immediately even while the database stalls; the write
// happens on the drain goroutine.
func TestPostgresRecordDoesNotBlockOnStalledDatabase(t *testing.T) {
	t.Parallel()

	mock := newMockPool(t)
	mock.ExpectPing()
	mock.ExpectExec("INSERT INTO run_events").
		WithArgs("run-1", string(schemas.PhaseGeneration), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillDelayFor(750 * time.Millisecond).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s, err := NewPostgres(context.Background(), mock, zap.NewNop())
	require.NoError(t, err)

	start := time.Now()
	s.Record(context.Background(), "run-1", schemas.PhaseGeneration, schemas.Scenario{ID: "d0:t0"})
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	require.NoError(t, s.Close(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Insert failures are logged and dropped; the sink contract forbids them from
// reaching the engine.
func TestPostgresRecordSwallowsInsertFailures(t *testing.T) {
	t.Parallel()

	mock := newMockPool(t)
	mock.ExpectPing()
	mock.ExpectExec("INSERT INTO run_events").
		WithArgs("run-1", string(schemas.PhaseTournament), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("table does not exist"))

	s, err := NewPostgres(context.Background(), mock, zap.NewNop())
	require.NoError(t, err)

	s.Record(context.Background(), "run-1", schemas.PhaseTournament, schemas.Comparison{
		Round:    1,
		WinnerID: "d0:t0",
	})
	require.NoError(t, s.Close(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	mock := newMockPool(t)
	mock.ExpectPing()

	s, err := NewPostgres(context.Background(), mock, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, s.Close(context.Background()))
	assert.NoError(t, s.Close(context.Background()))
}

func TestNoopSink(t *testing.T) {
	t.Parallel()

	var s Noop
	s.Record(context.Background(), "run-1", schemas.PhaseGeneration, "anything")
	assert.NoError(t, s.Close(context.Background()))
}
