package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a new RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Record upserts the outcome of one session. A session recorded twice in the
// same run keeps the latest outcome.
func (s *RunStore) Record(ctx context.Context, rec domain.RunRecord) error {
	const query = `
		INSERT INTO replay_runs (
			run_id, session, source, status, started_at, finished_at,
			packets, messages, bbo_changes, gaps, error
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		) ON CONFLICT (run_id, session) DO UPDATE SET
			status      = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			packets     = EXCLUDED.packets,
			messages    = EXCLUDED.messages,
			bbo_changes = EXCLUDED.bbo_changes,
			gaps        = EXCLUDED.gaps,
			error       = EXCLUDED.error`

	if _, err := s.pool.Exec(ctx, query, runArgs(rec)...); err != nil {
		return fmt.Errorf("postgres: record run %s/%s: %w", rec.RunID, rec.Session, err)
	}
	return nil
}

func runArgs(rec domain.RunRecord) []any {
	var finished *time.Time
	if !rec.FinishedAt.IsZero() {
		finished = &rec.FinishedAt
	}
	return []any{
		rec.RunID, rec.Session, rec.Source, string(rec.Status), rec.StartedAt, finished,
		int64(rec.Packets), int64(rec.Messages), int64(rec.BBOChanges), rec.Gaps, rec.Error,
	}
}

// ListSession returns the most recent runs of session, newest first.
func (s *RunStore) ListSession(ctx context.Context, session string, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, session, source, status, started_at, finished_at,
			packets, messages, bbo_changes, gaps, error
		FROM replay_runs WHERE session = $1
		ORDER BY started_at DESC LIMIT $2`, session, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs %s: %w", session, err)
	}
	defer rows.Close()

	recs, err := scanRunRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan runs %s: %w", session, err)
	}
	return recs, nil
}

func scanRunRows(rows pgx.Rows) ([]domain.RunRecord, error) {
	var recs []domain.RunRecord
	for rows.Next() {
		var (
			r                      domain.RunRecord
			status                 string
			finished               *time.Time
			packets, msgs, changes int64
		)
		if err := rows.Scan(
			&r.RunID, &r.Session, &r.Source, &status, &r.StartedAt, &finished,
			&packets, &msgs, &changes, &r.Gaps, &r.Error,
		); err != nil {
			return nil, err
		}
		r.Status = domain.SessionStatus(status)
		if finished != nil {
			r.FinishedAt = *finished
		}
		r.Packets, r.Messages, r.BBOChanges = uint64(packets), uint64(msgs), uint64(changes)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Compile-time interface check.
var _ domain.RunStore = (*RunStore)(nil)
