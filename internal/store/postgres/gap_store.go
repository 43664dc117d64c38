package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

// GapStore implements domain.GapStore using PostgreSQL.
type GapStore struct {
	pool *pgxpool.Pool
}

// NewGapStore creates a new GapStore backed by the given connection pool.
func NewGapStore(pool *pgxpool.Pool) *GapStore {
	return &GapStore{pool: pool}
}

// InsertBatch inserts the gaps of one session using pgx Batch. Gaps already
// recorded for the run are silently skipped via ON CONFLICT DO NOTHING.
func (s *GapStore) InsertBatch(ctx context.Context, runID, session string, gaps []domain.Gap) error {
	if len(gaps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO sequence_gaps (run_id, session, expected, actual)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, session, expected, actual) DO NOTHING`

	for _, g := range gaps {
		batch.Queue(query, runID, session, int64(g.Expected), int64(g.Actual))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range gaps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert gap batch item %d: %w", i, err)
		}
	}
	return nil
}

// Compile-time interface check.
var _ domain.GapStore = (*GapStore)(nil)
