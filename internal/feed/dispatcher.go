package feed

import (
	"errors"
	"fmt"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

// DefaultUnit is the PITCH unit a session follows unless configured.
const DefaultUnit = 1

// Books is the set of book mutations the dispatcher drives.
type Books interface {
	AddOrderBook(symbol domain.Symbol, contractSize uint16, tickSize domain.Price) bool
	AddOrder(id domain.OrderID, symbol domain.Symbol, price domain.Price, qty domain.Quantity, side domain.Side) error
	CancelOrder(id domain.OrderID) error
	ModifyOrder(id domain.OrderID, price domain.Price, qty domain.Quantity) error
	ReduceOrder(id domain.OrderID, qty domain.Quantity) error
	ExecuteOrder(id domain.OrderID, qty domain.Quantity) error
	UpdateTradingStatus(symbol domain.Symbol, status domain.TradingStatus) error
}

// Cursor is the feed position and time context of the message being applied.
type Cursor struct {
	Midnight  uint32 // epoch seconds of the reference midnight
	TradeDate uint32 // YYYYMMDD
	Seconds   uint32 // seconds since midnight
	Offset    uint32 // nanoseconds within Seconds
	PktSeq    uint64
	MsgSeq    uint64
}

// Observer is told about cursor moves before the book mutation they precede,
// and about every instrument definition.
type Observer interface {
	OnCursor(c Cursor)
	OnInstrument(def InstrumentDefinition)
}

type nopObserver struct{}

func (nopObserver) OnCursor(Cursor)                   {}
func (nopObserver) OnInstrument(InstrumentDefinition) {}

type Config struct {
	Session string
	Unit    uint8
}

// Stats are running counters for one pass.
type Stats struct {
	Units    uint64
	Messages uint64
	// Skipped counts datagrams too short to hold a unit header.
	Skipped uint64
}

// Dispatcher applies sequenced units to a set of books, one message at a
// time. It is single-threaded and owns all of its state.
type Dispatcher struct {
	cfg     Config
	books   Books
	obs     Observer
	gaps    *GapTracker
	summary *Summary
	cursor  Cursor
	stats   Stats
}

// NewDispatcher creates a dispatcher over books. obs may be nil.
func NewDispatcher(books Books, obs Observer, cfg Config) *Dispatcher {
	if cfg.Unit == 0 {
		cfg.Unit = DefaultUnit
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Dispatcher{
		cfg:     cfg,
		books:   books,
		obs:     obs,
		gaps:    NewGapTracker(cfg.Unit),
		summary: NewSummary(),
	}
}

// HandleUnit decodes one transport unit payload and applies every message it
// carries. Filtered units and datagrams shorter than a unit header are
// skipped. Any other error is fatal for the session and is returned as a
// *domain.SessionError.
func (d *Dispatcher) HandleUnit(payload []byte) error {
	h, err := ParseUnitHeader(payload)
	if err != nil {
		d.stats.Skipped++
		return nil
	}
	if !d.gaps.Observe(h) {
		return nil
	}
	if n := int(h.Length); n >= UnitHeaderLen && n < len(payload) {
		payload = payload[:n]
	}
	d.stats.Units++

	pkt := uint64(h.Sequence)
	err = EachMessage(payload, int(h.Count), func(i int, raw []byte) error {
		msg := pkt + uint64(i)
		d.summary.Count(raw)
		d.stats.Messages++
		if err := d.Apply(pkt, msg, raw); err != nil {
			return d.fail(pkt, msg, raw[1], err)
		}
		return nil
	})
	if err != nil {
		var se *domain.SessionError
		if errors.As(err, &se) {
			return err
		}
		return d.fail(pkt, pkt, 0, err)
	}
	return nil
}

// Apply interprets a single message. Non-book messages other than the time
// messages are accepted and ignored; an unknown type is an error because
// later record boundaries cannot be trusted.
func (d *Dispatcher) Apply(pkt, msg uint64, raw []byte) error {
	switch t := TypeOf(raw); t {
	case MsgTime:
		m, err := DecodeTime(raw)
		if err != nil {
			return err
		}
		d.cursor.Seconds = m.Seconds
		d.cursor.Offset = 0
		d.obs.OnCursor(d.cursor)

	case MsgTimeReference:
		m, err := DecodeTimeReference(raw)
		if err != nil {
			return err
		}
		d.cursor.Midnight = m.Midnight
		d.cursor.TradeDate = m.TradeDate
		d.obs.OnCursor(d.cursor)

	case MsgInstrumentDefinition:
		m, err := DecodeInstrumentDefinition(raw)
		if err != nil {
			return err
		}
		d.books.AddOrderBook(m.Symbol, m.ContractSize, m.PriceIncrement)
		d.obs.OnInstrument(m)

	case MsgTradingStatus:
		m, err := DecodeTradingStatus(raw)
		if err != nil {
			return err
		}
		return d.books.UpdateTradingStatus(m.Symbol, m.Status)

	case MsgAddOrderLong, MsgAddOrderShort:
		m, err := DecodeAddOrder(raw)
		if err != nil {
			return err
		}
		d.position(pkt, msg, m.Offset)
		return d.books.AddOrder(m.ID, m.Symbol, m.Price, m.Qty, m.Side)

	case MsgOrderExecuted:
		m, err := DecodeOrderExecuted(raw)
		if err != nil {
			return err
		}
		d.position(pkt, msg, m.Offset)
		return d.books.ExecuteOrder(m.ID, m.Qty)

	case MsgReduceSizeLong, MsgReduceSizeShort:
		m, err := DecodeReduceSize(raw)
		if err != nil {
			return err
		}
		d.position(pkt, msg, m.Offset)
		return d.books.ReduceOrder(m.ID, m.Qty)

	case MsgModifyOrderLong, MsgModifyOrderShort:
		m, err := DecodeModifyOrder(raw)
		if err != nil {
			return err
		}
		d.position(pkt, msg, m.Offset)
		return d.books.ModifyOrder(m.ID, m.Price, m.Qty)

	case MsgDeleteOrder:
		m, err := DecodeDeleteOrder(raw)
		if err != nil {
			return err
		}
		d.position(pkt, msg, m.Offset)
		return d.books.CancelOrder(m.ID)

	default:
		if !t.Known() {
			return fmt.Errorf("type 0x%02X: %w", uint8(t), domain.ErrUnrecognizedEvent)
		}
	}
	return nil
}

func (d *Dispatcher) position(pkt, msg uint64, offset uint32) {
	d.cursor.PktSeq = pkt
	d.cursor.MsgSeq = msg
	d.cursor.Offset = offset
	d.obs.OnCursor(d.cursor)
}

func (d *Dispatcher) fail(pkt, msg uint64, t uint8, err error) error {
	return &domain.SessionError{Session: d.cfg.Session, PktSeq: pkt, MsgSeq: msg, MsgType: t, Err: err}
}

// Gaps returns the sequence gaps seen so far.
func (d *Dispatcher) Gaps() []domain.Gap { return d.gaps.Gaps() }

// NextExpected returns the next expected unit sequence number.
func (d *Dispatcher) NextExpected() uint32 { return d.gaps.Expected() }

func (d *Dispatcher) Summary() *Summary { return d.summary }

func (d *Dispatcher) Cursor() Cursor { return d.cursor }

func (d *Dispatcher) Stats() Stats { return d.stats }

// Reset clears all per-pass state. Books are not touched.
func (d *Dispatcher) Reset() {
	d.gaps.Reset()
	d.summary = NewSummary()
	d.cursor = Cursor{}
	d.stats = Stats{}
}
