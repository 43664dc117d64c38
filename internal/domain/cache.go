package domain

import "context"

// BBOCache keeps the latest top of book per session and symbol.
type BBOCache interface {
	Publisher
	GetBBO(ctx context.Context, session, symbol string) (BBOUpdate, error)
}

// SignalBus provides ephemeral pub/sub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
