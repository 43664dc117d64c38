package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

// BBOCache implements domain.BBOCache. The latest top of book of each symbol
// is kept in a hash and every change is also published for live consumers.
//
// Key schema:
//
//	bbo:{session}:{symbol}   - hash with bid, bid_qty, ask, ask_qty, status, ts, tag
//	{prefix}:bbo:{symbol}    - pub/sub channel carrying JSON updates
type BBOCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewBBOCache creates a BBOCache backed by the given Client. A ttl of zero
// keeps hashes forever.
func NewBBOCache(c *Client, prefix string, ttl time.Duration) *BBOCache {
	return &BBOCache{rdb: c.rdb, prefix: prefix, ttl: ttl}
}

func bboKey(session, symbol string) string { return "bbo:" + session + ":" + symbol }

// Channel returns the pub/sub channel updates for symbol are published on.
func (bc *BBOCache) Channel(symbol string) string { return bc.prefix + ":bbo:" + symbol }

// Publish writes every update in one transaction. Later updates of the same
// symbol overwrite earlier ones.
func (bc *BBOCache) Publish(ctx context.Context, updates []domain.BBOUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	pipe := bc.rdb.TxPipeline()
	for _, u := range updates {
		key := bboKey(u.Session, u.Symbol)
		pipe.HSet(ctx, key, map[string]any{
			"bid":     strconv.FormatInt(int64(u.BidPrice), 10),
			"bid_qty": strconv.FormatUint(u.BidQty, 10),
			"ask":     strconv.FormatInt(int64(u.AskPrice), 10),
			"ask_qty": strconv.FormatUint(u.AskQty, 10),
			"status":  u.Status.String(),
			"ts":      u.Stamp,
			"tag":     u.Tag.String(),
			"pkt_seq": strconv.FormatUint(u.PktSeq, 10),
			"msg_seq": strconv.FormatUint(u.MsgSeq, 10),
		})
		if bc.ttl > 0 {
			pipe.Expire(ctx, key, bc.ttl)
		}
		payload, err := json.Marshal(u)
		if err != nil {
			pipe.Discard()
			return fmt.Errorf("redis: marshal bbo %s: %w", u.Symbol, err)
		}
		pipe.Publish(ctx, bc.Channel(u.Symbol), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish bbo batch: %w", err)
	}
	return nil
}

// GetBBO returns the latest update stored for symbol in session. It returns
// domain.ErrNotFound when nothing has been stored.
func (bc *BBOCache) GetBBO(ctx context.Context, session, symbol string) (domain.BBOUpdate, error) {
	vals, err := bc.rdb.HGetAll(ctx, bboKey(session, symbol)).Result()
	if err != nil {
		return domain.BBOUpdate{}, fmt.Errorf("redis: get bbo %s/%s: %w", session, symbol, err)
	}
	if len(vals) == 0 {
		return domain.BBOUpdate{}, fmt.Errorf("redis: bbo %s/%s: %w", session, symbol, domain.ErrNotFound)
	}

	u := domain.BBOUpdate{Session: session, Symbol: symbol, Stamp: vals["ts"]}
	bid, _ := strconv.ParseInt(vals["bid"], 10, 64)
	ask, _ := strconv.ParseInt(vals["ask"], 10, 64)
	u.BidPrice = domain.Price(bid)
	u.AskPrice = domain.Price(ask)
	u.BidQty, _ = strconv.ParseUint(vals["bid_qty"], 10, 64)
	u.AskQty, _ = strconv.ParseUint(vals["ask_qty"], 10, 64)
	u.PktSeq, _ = strconv.ParseUint(vals["pkt_seq"], 10, 64)
	u.MsgSeq, _ = strconv.ParseUint(vals["msg_seq"], 10, 64)
	if s := vals["status"]; len(s) == 1 {
		u.Status = domain.TradingStatus(s[0])
	}
	if t := vals["tag"]; len(t) == 1 {
		u.Tag = domain.EventTag(t[0])
	}
	return u, nil
}

// Compile-time interface check.
var _ domain.BBOCache = (*BBOCache)(nil)
