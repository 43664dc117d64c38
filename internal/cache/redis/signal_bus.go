package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

// DefaultSubscriberBuffer is used when NewSignalBus is given a buffer < 1.
const DefaultSubscriberBuffer = 128

// SignalBus implements domain.SignalBus using Redis Pub/Sub. Session
// lifecycle events and BBO updates both travel over it.
//
// A subscriber that falls behind by more than the buffer loses the newest
// messages instead of stalling delivery to the others; Dropped counts them.
type SignalBus struct {
	rdb     *redis.Client
	buffer  int
	logger  *slog.Logger
	dropped atomic.Uint64
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client, buffer int, logger *slog.Logger) *SignalBus {
	if buffer < 1 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalBus{rdb: c.rdb, buffer: buffer, logger: logger}
}

// Dropped reports how many messages were discarded for slow subscribers.
func (sb *SignalBus) Dropped() uint64 { return sb.dropped.Load() }

// Publish sends a raw byte payload to a Redis Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published on channel. Channels
// containing glob characters are pattern subscriptions. The returned channel
// is closed once ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, sb.buffer)
	in := pubsub.Channel(redis.WithChannelSize(sb.buffer))
	go sb.relay(ctx, channel, pubsub, in, out)
	return out, nil
}

func (sb *SignalBus) relay(ctx context.Context, channel string, pubsub *redis.PubSub, in <-chan *redis.Message, out chan<- []byte) {
	defer close(out)
	defer pubsub.Close()

	var lost uint64
	for {
		select {
		case <-ctx.Done():
			if lost > 0 {
				sb.logger.Warn("redis: subscriber dropped messages",
					slog.String("channel", channel),
					slog.Uint64("dropped", lost),
				)
			}
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			default:
				lost++
				sb.dropped.Add(1)
			}
		}
	}
}

// hasPattern returns true when the Redis channel includes glob-style
// wildcards, in which case PSubscribe must be used instead of Subscribe.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

var _ domain.SignalBus = (*SignalBus)(nil)
