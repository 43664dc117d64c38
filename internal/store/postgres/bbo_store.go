package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

var bboColumns = []string{
	"session", "stamp", "at", "pkt_seq", "msg_seq", "tag", "symbol",
	"bid_price", "bid_qty", "ask_price", "ask_qty", "status",
}

// BBOStore implements domain.Publisher by bulk-copying BBO changes into
// bbo_events.
type BBOStore struct {
	pool *pgxpool.Pool
}

// NewBBOStore creates a new BBOStore backed by the given connection pool.
func NewBBOStore(pool *pgxpool.Pool) *BBOStore {
	return &BBOStore{pool: pool}
}

// Publish copies updates with the COPY protocol.
func (s *BBOStore) Publish(ctx context.Context, updates []domain.BBOUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{"bbo_events"}, bboColumns, pgx.CopyFromSlice(len(updates), func(i int) ([]any, error) {
		return bboRow(updates[i]), nil
	}))
	if err != nil {
		return fmt.Errorf("postgres: copy bbo events: %w", err)
	}
	if int(n) != len(updates) {
		return fmt.Errorf("postgres: copy bbo events: wrote %d of %d rows", n, len(updates))
	}
	return nil
}

func bboRow(u domain.BBOUpdate) []any {
	var at *time.Time
	if !u.At.IsZero() {
		at = &u.At
	}
	return []any{
		u.Session, u.Stamp, at, int64(u.PktSeq), int64(u.MsgSeq), u.Tag.String(), u.Symbol,
		int64(u.BidPrice), int64(u.BidQty), int64(u.AskPrice), int64(u.AskQty), u.Status.String(),
	}
}

// Compile-time interface check.
var _ domain.Publisher = (*BBOStore)(nil)
