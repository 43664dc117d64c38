package domain

import (
	"context"
	"fmt"
	"time"
)

// TradingStatus is the per-instrument status code from the feed.
type TradingStatus byte

const (
	StatusSuspended TradingStatus = 'S'
	StatusQueuing   TradingStatus = 'Q'
	StatusTrading   TradingStatus = 'T'
)

func (s TradingStatus) String() string { return string(rune(s)) }

func (s TradingStatus) MarshalText() ([]byte, error) { return []byte{byte(s)}, nil }

func (s *TradingStatus) UnmarshalText(b []byte) error {
	if len(b) != 1 {
		return fmt.Errorf("trading status %q: want one byte", b)
	}
	*s = TradingStatus(b[0])
	return nil
}

// EventTag identifies the book mutation that produced a BBO change.
type EventTag byte

const (
	TagAdd     EventTag = 'A'
	TagDelete  EventTag = 'D'
	TagReduce  EventTag = 'R'
	TagModify  EventTag = 'M'
	TagExecute EventTag = 'E'
)

func (t EventTag) String() string { return string(rune(t)) }

func (t EventTag) MarshalText() ([]byte, error) { return []byte{byte(t)}, nil }

func (t *EventTag) UnmarshalText(b []byte) error {
	if len(b) != 1 {
		return fmt.Errorf("event tag %q: want one byte", b)
	}
	*t = EventTag(b[0])
	return nil
}

// BBO is the top of book. An empty side reports price 0 and quantity 0; the
// quantity is what distinguishes an empty side from a zero price.
type BBO struct {
	BidPrice Price  `json:"bid_price"`
	BidQty   uint64 `json:"bid_qty"`
	AskPrice Price  `json:"ask_price"`
	AskQty   uint64 `json:"ask_qty"`
}

// BBOSink receives top-of-book changes synchronously from the mutating book
// operation that caused them. It is called at most once per operation.
type BBOSink interface {
	OnBBOChange(tag EventTag, symbol Symbol, bbo BBO, status TradingStatus)
}

// BBOSinkFunc adapts a function to BBOSink.
type BBOSinkFunc func(tag EventTag, symbol Symbol, bbo BBO, status TradingStatus)

func (f BBOSinkFunc) OnBBOChange(tag EventTag, symbol Symbol, bbo BBO, status TradingStatus) {
	f(tag, symbol, bbo, status)
}

// BBOUpdate is a BBO change stamped with the feed position and time it was
// observed at, ready for export. In JSON, prices stay in hundredths.
type BBOUpdate struct {
	Session string    `json:"session"`
	Stamp   string    `json:"stamp"`
	At      time.Time `json:"at"`
	PktSeq  uint64    `json:"pkt_seq"`
	MsgSeq  uint64    `json:"msg_seq"`
	Tag     EventTag  `json:"tag"`
	Symbol  string    `json:"symbol"`
	BBO
	Status TradingStatus `json:"status"`
}

// UpdateWriter consumes stamped updates inside the session goroutine.
type UpdateWriter interface {
	Write(u BBOUpdate) error
}

// Publisher delivers batches of updates to an out-of-process consumer.
type Publisher interface {
	Publish(ctx context.Context, updates []BBOUpdate) error
}
