package feed

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

var le = binary.LittleEndian

// Minimum encoded length per message type, header included.
var msgLen = map[MsgType]int{
	MsgTime:                 10,
	MsgTimeReference:        18,
	MsgAddOrderLong:         33,
	MsgAddOrderShort:        25,
	MsgOrderExecuted:        27,
	MsgReduceSizeLong:       18,
	MsgReduceSizeShort:      16,
	MsgModifyOrderLong:      26,
	MsgModifyOrderShort:     18,
	MsgDeleteOrder:          14,
	MsgTradingStatus:        15,
	MsgInstrumentDefinition: 38,
}

const legLen = 10

// ParseUnitHeader decodes the sequenced unit header at the start of payload.
func ParseUnitHeader(payload []byte) (UnitHeader, error) {
	if len(payload) < UnitHeaderLen {
		return UnitHeader{}, fmt.Errorf("unit header: %d bytes: %w", len(payload), domain.ErrTruncated)
	}
	return UnitHeader{
		Length:   le.Uint16(payload[0:]),
		Count:    payload[2],
		Unit:     payload[3],
		Sequence: le.Uint32(payload[4:]),
	}, nil
}

// EachMessage walks the count messages that follow the unit header and calls
// fn with each message's index and raw bytes, header included. Iteration
// stops at the first error.
func EachMessage(payload []byte, count int, fn func(i int, raw []byte) error) error {
	off := UnitHeaderLen
	for i := 0; i < count; i++ {
		if off+2 > len(payload) {
			return fmt.Errorf("message %d at %d: %w", i, off, domain.ErrTruncated)
		}
		n := int(payload[off])
		if n < 2 || off+n > len(payload) {
			return fmt.Errorf("message %d at %d: length %d: %w", i, off, n, domain.ErrTruncated)
		}
		if err := fn(i, payload[off:off+n]); err != nil {
			return err
		}
		off += n
	}
	return nil
}

// TypeOf returns the message type byte of raw.
func TypeOf(raw []byte) MsgType { return MsgType(raw[1]) }

func need(raw []byte) error {
	t := TypeOf(raw)
	if want, ok := msgLen[t]; ok && len(raw) < want {
		return fmt.Errorf("%s: %d of %d bytes: %w", t, len(raw), want, domain.ErrTruncated)
	}
	return nil
}

// narrow converts a long-form quantity to the book width.
func narrow(q uint32) (domain.Quantity, error) {
	if q > math.MaxUint16 {
		return 0, fmt.Errorf("quantity %d: %w", q, domain.ErrQuantityRange)
	}
	return domain.Quantity(q), nil
}

// longPrice converts a four-decimal price to book hundredths.
func longPrice(b []byte) domain.Price {
	return domain.Price(int64(le.Uint64(b)) / 100)
}

func shortPrice(b []byte) domain.Price {
	return domain.Price(int16(le.Uint16(b)))
}

func DecodeTime(raw []byte) (Time, error) {
	if err := need(raw); err != nil {
		return Time{}, err
	}
	return Time{Seconds: le.Uint32(raw[2:]), Epoch: le.Uint32(raw[6:])}, nil
}

func DecodeTimeReference(raw []byte) (TimeReference, error) {
	if err := need(raw); err != nil {
		return TimeReference{}, err
	}
	return TimeReference{
		Midnight:  le.Uint32(raw[2:]),
		Time:      le.Uint32(raw[6:]),
		Offset:    le.Uint32(raw[10:]),
		TradeDate: le.Uint32(raw[14:]),
	}, nil
}

// DecodeAddOrder decodes both add variants.
func DecodeAddOrder(raw []byte) (AddOrder, error) {
	if err := need(raw); err != nil {
		return AddOrder{}, err
	}
	m := AddOrder{
		Offset: le.Uint32(raw[2:]),
		ID:     domain.OrderID(le.Uint64(raw[6:])),
		Side:   domain.ParseSide(raw[14]),
	}
	switch TypeOf(raw) {
	case MsgAddOrderLong:
		q, err := narrow(le.Uint32(raw[15:]))
		if err != nil {
			return AddOrder{}, fmt.Errorf("add %d: %w", m.ID, err)
		}
		m.Qty = q
		m.Symbol = domain.SymbolFrom(raw[19:25])
		m.Price = longPrice(raw[25:])
	case MsgAddOrderShort:
		m.Qty = domain.Quantity(le.Uint16(raw[15:]))
		m.Symbol = domain.SymbolFrom(raw[17:23])
		m.Price = shortPrice(raw[23:])
	default:
		return AddOrder{}, fmt.Errorf("add: type 0x%02X: %w", uint8(TypeOf(raw)), domain.ErrUnrecognizedEvent)
	}
	return m, nil
}

func DecodeOrderExecuted(raw []byte) (OrderExecuted, error) {
	if err := need(raw); err != nil {
		return OrderExecuted{}, err
	}
	id := domain.OrderID(le.Uint64(raw[6:]))
	q, err := narrow(le.Uint32(raw[14:]))
	if err != nil {
		return OrderExecuted{}, fmt.Errorf("execute %d: %w", id, err)
	}
	return OrderExecuted{
		Offset:    le.Uint32(raw[2:]),
		ID:        id,
		Qty:       q,
		ExecID:    le.Uint64(raw[18:]),
		Condition: raw[26],
	}, nil
}

// DecodeReduceSize decodes both reduce variants.
func DecodeReduceSize(raw []byte) (ReduceSize, error) {
	if err := need(raw); err != nil {
		return ReduceSize{}, err
	}
	m := ReduceSize{Offset: le.Uint32(raw[2:]), ID: domain.OrderID(le.Uint64(raw[6:]))}
	switch TypeOf(raw) {
	case MsgReduceSizeLong:
		q, err := narrow(le.Uint32(raw[14:]))
		if err != nil {
			return ReduceSize{}, fmt.Errorf("reduce %d: %w", m.ID, err)
		}
		m.Qty = q
	case MsgReduceSizeShort:
		m.Qty = domain.Quantity(le.Uint16(raw[14:]))
	default:
		return ReduceSize{}, fmt.Errorf("reduce: type 0x%02X: %w", uint8(TypeOf(raw)), domain.ErrUnrecognizedEvent)
	}
	return m, nil
}

// DecodeModifyOrder decodes both modify variants.
func DecodeModifyOrder(raw []byte) (ModifyOrder, error) {
	if err := need(raw); err != nil {
		return ModifyOrder{}, err
	}
	m := ModifyOrder{Offset: le.Uint32(raw[2:]), ID: domain.OrderID(le.Uint64(raw[6:]))}
	switch TypeOf(raw) {
	case MsgModifyOrderLong:
		q, err := narrow(le.Uint32(raw[14:]))
		if err != nil {
			return ModifyOrder{}, fmt.Errorf("modify %d: %w", m.ID, err)
		}
		m.Qty = q
		m.Price = longPrice(raw[18:])
	case MsgModifyOrderShort:
		m.Qty = domain.Quantity(le.Uint16(raw[14:]))
		m.Price = shortPrice(raw[16:])
	default:
		return ModifyOrder{}, fmt.Errorf("modify: type 0x%02X: %w", uint8(TypeOf(raw)), domain.ErrUnrecognizedEvent)
	}
	return m, nil
}

func DecodeDeleteOrder(raw []byte) (DeleteOrder, error) {
	if err := need(raw); err != nil {
		return DeleteOrder{}, err
	}
	return DeleteOrder{Offset: le.Uint32(raw[2:]), ID: domain.OrderID(le.Uint64(raw[6:]))}, nil
}

func DecodeTradingStatus(raw []byte) (TradingStatus, error) {
	if err := need(raw); err != nil {
		return TradingStatus{}, err
	}
	return TradingStatus{
		Offset: le.Uint32(raw[2:]),
		Symbol: domain.SymbolFrom(raw[6:12]),
		Status: domain.TradingStatus(raw[14]),
	}, nil
}

// DecodeInstrumentDefinition decodes a futures instrument definition and its
// legs. Leg records start at the declared leg offset from the message start.
func DecodeInstrumentDefinition(raw []byte) (InstrumentDefinition, error) {
	if err := need(raw); err != nil {
		return InstrumentDefinition{}, err
	}
	m := InstrumentDefinition{
		Offset:       le.Uint32(raw[2:]),
		Unit:         raw[12],
		ListingState: raw[27],
		Instrument: domain.Instrument{
			Symbol:         domain.SymbolFrom(raw[6:12]),
			Expiration:     le.Uint32(raw[21:]),
			ContractSize:   le.Uint16(raw[25:]),
			PriceIncrement: longPrice(raw[28:]),
		},
	}
	copy(m.ReportSymbol[:], raw[14:20])

	count := int(raw[36])
	if count == 0 {
		return m, nil
	}
	base := int(raw[37])
	if base+count*legLen > len(raw) {
		return InstrumentDefinition{}, fmt.Errorf("instrument %s: %d legs at %d: %w", m.Symbol, count, base, domain.ErrTruncated)
	}
	m.Legs = make([]domain.Leg, count)
	for i := range m.Legs {
		leg := raw[base+i*legLen:]
		m.Legs[i] = domain.Leg{
			Ratio:  int32(le.Uint32(leg)),
			Symbol: domain.SymbolFrom(leg[4:10]),
		}
	}
	return m, nil
}
