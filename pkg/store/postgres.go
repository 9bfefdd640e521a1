package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"job-coordinator/pkg/job"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPool is the subset of *pgxpool.Pool the store needs.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

type Postgres struct {
	pool pgxPool
}

// NewPostgres connects to the database at url. maxConns <= 0 keeps the pgx default.
func NewPostgres(ctx context.Context, url string, maxConns int32) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func newPostgresWithPool(pool pgxPool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// InitSchema creates the jobs table. Safe to run repeatedly.
func (p *Postgres) InitSchema(ctx context.Context) error {
	schema := `
    CREATE TABLE IF NOT EXISTS jobs (
        id UUID PRIMARY KEY,
        kind TEXT NOT NULL,
        status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
        payload JSONB NOT NULL,
        result JSONB,
        error TEXT,
        created_at TIMESTAMPTZ NOT NULL,
        completed_at TIMESTAMPTZ
    );
    CREATE INDEX IF NOT EXISTS idx_jobs_pending_created ON jobs (created_at) WHERE status = 'pending';
    `
	_, err := p.pool.Exec(ctx, schema)
	return err
}

func (p *Postgres) Insert(ctx context.Context, j *job.Job) error {
	query := `INSERT INTO jobs (id, kind, status, payload, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := p.pool.Exec(ctx, query, j.ID, string(j.Kind), string(j.Status), []byte(j.Payload), j.CreatedAt)
	return err
}

const selectJob = `SELECT id, kind, status, payload, result, error, created_at, completed_at FROM jobs`

func (p *Postgres) Get(ctx context.Context, id string) (*job.Job, error) {
	j, err := scanJob(p.pool.QueryRow(ctx, selectJob+` WHERE id = $1`, id))
	if err != nil {
		if isNotFound(err) {
			return nil, job.ErrNotFound
		}
		return nil, err
	}
	return j, nil
}

// CompareAndSwap is a conditional UPDATE: the row only changes while it still holds
// the expected status, so two writers racing from the same status cannot both succeed.
func (p *Postgres) CompareAndSwap(ctx context.Context, expected job.Status, next *job.Job) (bool, error) {
	query := `
        UPDATE jobs
        SET status = $1, result = $2, error = $3, completed_at = $4
        WHERE id = $5 AND status = $6
    `
	var result []byte
	if next.Result != nil {
		result = []byte(next.Result)
	}
	tag, err := p.pool.Exec(ctx, query,
		string(next.Status), result, nullString(next.Error), next.CompletedAt, next.ID, string(expected))
	if err != nil {
		if isNotFound(err) {
			return false, job.ErrNotFound
		}
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)`, next.ID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, job.ErrNotFound
	}
	return false, nil
}

func (p *Postgres) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]*job.Job, error) {
	query := selectJob + ` WHERE status = 'pending' AND created_at < $1 ORDER BY created_at LIMIT $2`
	rows, err := p.pool.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []*job.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		id, kind, status string
		payload, result  []byte
		lastError        sql.NullString
		createdAt        time.Time
		completedAt      sql.NullTime
	)
	if err := row.Scan(&id, &kind, &status, &payload, &result, &lastError, &createdAt, &completedAt); err != nil {
		return nil, err
	}
	j := &job.Job{
		ID:        id,
		Kind:      job.Kind(kind),
		Status:    job.Status(status),
		Payload:   payload,
		CreatedAt: createdAt,
	}
	if len(result) > 0 {
		j.Result = result
	}
	if lastError.Valid {
		j.Error = lastError.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return j, nil
}

// isNotFound treats a missing row and a malformed id alike.
func isNotFound(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
