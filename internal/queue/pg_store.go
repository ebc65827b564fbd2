package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ricirt/marketplace-realtime/internal/domain"
)

const jobColumns = `id, queue, name, payload, state, attempts, max_attempts, run_at,
	locked_by, locked_until, last_error, created_at, updated_at, finished_at`

// PgStore keeps jobs in PostgreSQL. Claims use FOR UPDATE SKIP LOCKED so
// concurrent workers across processes never pick the same row.
type PgStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ Store = (*PgStore)(nil)

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

func (s *PgStore) Enqueue(ctx context.Context, j *domain.Job) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, queue, name, payload, state, attempts, max_attempts, run_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,0,$6,$7,$8,$8)
		ON CONFLICT (id) DO NOTHING`,
		j.ID, j.Queue, j.Name, []byte(j.Payload), j.State, j.MaxAttempts, j.RunAt, j.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateJob
	}
	return nil
}

func (s *PgStore) Claim(ctx context.Context, queue, workerID string, lease time.Duration) (*domain.Job, error) {
	now := s.now()
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs
		SET state = 'active', attempts = attempts + 1,
		    locked_by = $2, locked_until = $3, updated_at = $4
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $1 AND state IN ('waiting', 'delayed') AND run_at <= $4
			ORDER BY run_at, created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		queue, workerID, now.Add(lease), now,
	)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

func (s *PgStore) Complete(ctx context.Context, id, workerID string) error {
	now := s.now()
	return s.release(ctx, `
		UPDATE jobs SET state = 'completed', locked_by = NULL, locked_until = NULL,
		       updated_at = $3, finished_at = $3
		WHERE id = $1 AND state = 'active' AND locked_by = $2`,
		id, workerID, now)
}

func (s *PgStore) Retry(ctx context.Context, id, workerID string, runAt time.Time, errMsg string) error {
	return s.release(ctx, `
		UPDATE jobs SET state = 'delayed', run_at = $3, last_error = $4,
		       locked_by = NULL, locked_until = NULL, updated_at = $5
		WHERE id = $1 AND state = 'active' AND locked_by = $2`,
		id, workerID, runAt, errMsg, s.now())
}

func (s *PgStore) Fail(ctx context.Context, id, workerID, errMsg string) error {
	now := s.now()
	return s.release(ctx, `
		UPDATE jobs SET state = 'failed', last_error = $3, locked_by = NULL, locked_until = NULL,
		       updated_at = $4, finished_at = $4
		WHERE id = $1 AND state = 'active' AND locked_by = $2`,
		id, workerID, errMsg, now)
}

func (s *PgStore) release(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (s *PgStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return j, err
}

func (s *PgStore) Depths(ctx context.Context, queue string) (domain.QueueDepth, error) {
	var d domain.QueueDepth
	rows, err := s.pool.Query(ctx, `SELECT state, COUNT(*) FROM jobs WHERE queue = $1 GROUP BY state`, queue)
	if err != nil {
		return d, fmt.Errorf("queue depths: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state domain.JobState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return d, err
		}
		d.Add(state, count)
	}
	return d, rows.Err()
}

func (s *PgStore) RequeueExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
		    state = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'waiting' END,
		    finished_at = CASE WHEN attempts >= max_attempts THEN $1 ELSE NULL END,
		    last_error = $2, run_at = $1, locked_by = NULL, locked_until = NULL, updated_at = $1
		WHERE state = 'active' AND locked_until < $1`,
		now, leaseExpiredMsg,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue expired jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var j domain.Job
	var payload []byte
	err := row.Scan(
		&j.ID, &j.Queue, &j.Name, &payload, &j.State, &j.Attempts, &j.MaxAttempts, &j.RunAt,
		&j.LockedBy, &j.LockedUntil, &j.LastError, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Payload = payload
	return &j, nil
}
