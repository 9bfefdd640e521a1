package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"job-coordinator/pkg/job"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPostgresWithPool(mock), mock
}

func TestPostgresInsert(t *testing.T) {
	s, mock := newMockStore(t)
	j := pendingJob("8f14e45f-ceea-4c67-a0e2-6d8b1f0e0a11", time.Now())

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(j.ID, "echo", "pending", []byte(`{"x":1}`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Insert(context.Background(), j))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCompareAndSwapApplied(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	next := pendingJob("id-1", now)
	next.Status = job.StatusCompleted
	next.Result = json.RawMessage(`{"x":1}`)
	next.CompletedAt = &now

	mock.ExpectExec("UPDATE jobs").
		WithArgs("completed", []byte(`{"x":1}`), pgxmock.AnyArg(), pgxmock.AnyArg(), "id-1", "processing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := s.CompareAndSwap(context.Background(), job.StatusProcessing, next)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCompareAndSwapLost(t *testing.T) {
	s, mock := newMockStore(t)
	next := pendingJob("id-1", time.Now())
	next.Status = job.StatusProcessing

	mock.ExpectExec("UPDATE jobs").
		WithArgs("processing", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "id-1", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("id-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.CompareAndSwap(context.Background(), job.StatusPending, next)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCompareAndSwapMissing(t *testing.T) {
	s, mock := newMockStore(t)
	next := pendingJob("id-1", time.Now())
	next.Status = job.StatusProcessing

	mock.ExpectExec("UPDATE jobs").
		WithArgs("processing", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "id-1", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("id-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := s.CompareAndSwap(context.Background(), job.StatusPending, next)
	assert.ErrorIs(t, err, job.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, kind, status").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestPostgresGetPending(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Now().UTC().Truncate(time.Microsecond)

	rows := pgxmock.NewRows([]string{"id", "kind", "status", "payload", "result", "error", "created_at", "completed_at"}).
		AddRow("id-1", "echo", "pending", []byte(`{"x":1}`), nil, nil, created, nil)
	mock.ExpectQuery("SELECT id, kind, status").WithArgs("id-1").WillReturnRows(rows)

	j, err := s.Get(context.Background(), "id-1")
	require.NoError(t, err)
	assert.Equal(t, job.KindEcho, j.Kind)
	assert.Equal(t, job.StatusPending, j.Status)
	assert.JSONEq(t, `{"x":1}`, string(j.Payload))
	assert.Nil(t, j.Result)
	assert.Empty(t, j.Error)
	assert.Nil(t, j.CompletedAt)
	assert.True(t, created.Equal(j.CreatedAt))
}
