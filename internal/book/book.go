package book

import (
	"fmt"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

// Config controls book behaviour. It is fixed at construction time.
type Config struct {
	// EmitBBO enables BBO-change notifications to the sink.
	EmitBBO bool
}

// Book is the limit order book for one instrument. Bids are ordered by
// descending price and asks by ascending price; each level is a FIFO queue.
type Book struct {
	symbol       domain.Symbol
	contractSize uint16
	tickSize     domain.Price
	status       domain.TradingStatus

	bids ladder
	asks ladder

	store *Store
	sink  domain.BBOSink
	cfg   Config
}

// NewBook creates an empty book in Suspended status. sink may be nil.
func NewBook(symbol domain.Symbol, contractSize uint16, tickSize domain.Price, store *Store, sink domain.BBOSink, cfg Config) *Book {
	return &Book{
		symbol:       symbol,
		contractSize: contractSize,
		tickSize:     tickSize,
		status:       domain.StatusSuspended,
		bids:         newLadder(true),
		asks:         newLadder(false),
		store:        store,
		sink:         sink,
		cfg:          cfg,
	}
}

func (b *Book) Symbol() domain.Symbol               { return b.symbol }
func (b *Book) ContractSize() uint16                { return b.contractSize }
func (b *Book) TickSize() domain.Price              { return b.tickSize }
func (b *Book) TradingStatus() domain.TradingStatus { return b.status }

// UpdateTradingStatus records the status. It does not gate any mutation.
func (b *Book) UpdateTradingStatus(status domain.TradingStatus) {
	b.status = status
}

// AddOrder rests a new order at the tail of its price level.
func (b *Book) AddOrder(id domain.OrderID, price domain.Price, qty domain.Quantity, side domain.Side) error {
	if b.store.Contains(id) {
		return fmt.Errorf("book %s: add %d: %w", b.symbol, id, domain.ErrDuplicateOrder)
	}
	before := b.BBO()
	b.addInternal(id, price, qty, side)
	b.evaluate(domain.TagAdd, before)
	return nil
}

// CancelOrder removes an order from the book and the store.
func (b *Book) CancelOrder(id domain.OrderID) error {
	h, ok := b.store.handle(id)
	if !ok {
		return fmt.Errorf("book %s: cancel %d: %w", b.symbol, id, domain.ErrNotFound)
	}
	before := b.BBO()
	b.cancelInternal(id, h)
	b.evaluate(domain.TagDelete, before)
	return nil
}

// ReduceOrder takes cancelQty off a resting order without moving it.
func (b *Book) ReduceOrder(id domain.OrderID, cancelQty domain.Quantity) error {
	h, ok := b.store.handle(id)
	if !ok {
		return fmt.Errorf("book %s: reduce %d: %w", b.symbol, id, domain.ErrNotFound)
	}
	before := b.BBO()
	if err := b.reduceInternal(h, cancelQty); err != nil {
		return fmt.Errorf("book %s: reduce: %w", b.symbol, err)
	}
	b.evaluate(domain.TagReduce, before)
	return nil
}

// ModifyOrder applies a venue modify. Only a same-price strict size decrease
// keeps queue priority; anything else, including a modify that changes
// nothing, cancels and re-adds at the tail of the new level.
func (b *Book) ModifyOrder(id domain.OrderID, newPrice domain.Price, newQty domain.Quantity) error {
	h, ok := b.store.handle(id)
	if !ok {
		return fmt.Errorf("book %s: modify %d: %w", b.symbol, id, domain.ErrNotFound)
	}
	before := b.BBO()
	o := b.store.orderAt(h)
	if newPrice == o.Price && newQty < o.Remaining {
		if err := b.reduceInternal(h, o.Remaining-newQty); err != nil {
			return fmt.Errorf("book %s: modify: %w", b.symbol, err)
		}
	} else {
		side := o.Side
		b.cancelInternal(id, h)
		b.addInternal(id, newPrice, newQty, side)
	}
	b.evaluate(domain.TagModify, before)
	return nil
}

// ExecuteOrder applies an execution against a resting order. A full fill must
// hit the head of the queue; a partial fill keeps the order in place.
func (b *Book) ExecuteOrder(id domain.OrderID, execQty domain.Quantity) error {
	h, ok := b.store.handle(id)
	if !ok {
		return fmt.Errorf("book %s: execute %d: %w", b.symbol, id, domain.ErrNotFound)
	}
	before := b.BBO()
	o := b.store.orderAt(h)
	if execQty == o.Remaining {
		lv := b.side(o.Side).get(o.Price)
		if lv == nil || lv.head != h {
			return fmt.Errorf("book %s: execute %d at %d: %w", b.symbol, id, o.Price, domain.ErrFifoViolation)
		}
		b.cancelInternal(id, h)
	} else if err := b.reduceInternal(h, execQty); err != nil {
		return fmt.Errorf("book %s: execute: %w", b.symbol, err)
	}
	b.evaluate(domain.TagExecute, before)
	return nil
}

// BestBid returns the best bid price and aggregate quantity, or (0, 0).
func (b *Book) BestBid() (domain.Price, uint64) { return b.bids.top() }

// BestAsk returns the best ask price and aggregate quantity, or (0, 0).
func (b *Book) BestAsk() (domain.Price, uint64) { return b.asks.top() }

// BBO returns the current top of book.
func (b *Book) BBO() domain.BBO {
	var bbo domain.BBO
	bbo.BidPrice, bbo.BidQty = b.bids.top()
	bbo.AskPrice, bbo.AskQty = b.asks.top()
	return bbo
}

// Contains reports whether id rests in this book.
func (b *Book) Contains(id domain.OrderID) bool {
	o, err := b.store.Get(id)
	return err == nil && o.Symbol == b.symbol
}

// FindOrder returns a copy of a resting order.
func (b *Book) FindOrder(id domain.OrderID) (domain.Order, error) {
	o, err := b.store.Get(id)
	if err != nil || o.Symbol != b.symbol {
		return domain.Order{}, fmt.Errorf("book %s: order %d: %w", b.symbol, id, domain.ErrNotFound)
	}
	return *o, nil
}

// depth returns the number of price levels on each side.
func (b *Book) depth() (bids, asks int) { return b.bids.depth(), b.asks.depth() }

func (b *Book) side(s domain.Side) *ladder {
	if s == domain.SideBuy {
		return &b.bids
	}
	return &b.asks
}

func (b *Book) addInternal(id domain.OrderID, price domain.Price, qty domain.Quantity, side domain.Side) {
	h := b.store.Add(id, b.symbol, price, qty, side)
	b.side(side).getOrCreate(price).push(b.store, h)
}

func (b *Book) cancelInternal(id domain.OrderID, h Handle) {
	o := b.store.orderAt(h)
	l := b.side(o.Side)
	if lv := l.get(o.Price); lv != nil {
		lv.unlink(b.store, h)
		if lv.count == 0 {
			l.remove(o.Price)
		}
	}
	b.store.Erase(id)
}

func (b *Book) reduceInternal(h Handle, qty domain.Quantity) error {
	o := b.store.orderAt(h)
	if err := o.Fill(qty); err != nil {
		return err
	}
	if lv := b.side(o.Side).get(o.Price); lv != nil {
		lv.qty -= uint64(qty)
	}
	return nil
}

func (b *Book) evaluate(tag domain.EventTag, before domain.BBO) {
	if !b.cfg.EmitBBO || b.sink == nil {
		return
	}
	if after := b.BBO(); Changed(before, after) {
		b.sink.OnBBOChange(tag, b.symbol, after, b.status)
	}
}
