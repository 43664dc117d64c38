// Package feed decodes CFE PITCH sequenced units and drives book mutations
// from them. It also keeps the per-session sequence and message statistics.
package feed

import (
	"fmt"
	"slices"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

// MsgType is the PITCH message type byte.
type MsgType uint8

const (
	MsgTime                 MsgType = 0x20
	MsgAddOrderLong         MsgType = 0x21
	MsgAddOrderShort        MsgType = 0x22
	MsgOrderExecuted        MsgType = 0x23
	MsgReduceSizeLong       MsgType = 0x25
	MsgReduceSizeShort      MsgType = 0x26
	MsgModifyOrderLong      MsgType = 0x27
	MsgModifyOrderShort     MsgType = 0x28
	MsgDeleteOrder          MsgType = 0x29
	MsgTradeLong            MsgType = 0x2A
	MsgTradeShort           MsgType = 0x2B
	MsgTradeBreak           MsgType = 0x2C
	MsgEndOfSession         MsgType = 0x2D
	MsgTradingStatus        MsgType = 0x31
	MsgUnitClear            MsgType = 0x97
	MsgTimeReference        MsgType = 0xB1
	MsgSettlement           MsgType = 0xB9
	MsgEndOfDaySummary      MsgType = 0xBA
	MsgInstrumentDefinition MsgType = 0xBB
	MsgTransactionBegin     MsgType = 0xBC
	MsgTransactionEnd       MsgType = 0xBD
	MsgPriceLimits          MsgType = 0xBE
	MsgOpenInterest         MsgType = 0xD3
)

var msgNames = map[MsgType]string{
	MsgTime:                 "Time",
	MsgAddOrderLong:         "AddOrderLong",
	MsgAddOrderShort:        "AddOrderShort",
	MsgOrderExecuted:        "OrderExecuted",
	MsgReduceSizeLong:       "ReduceSizeLong",
	MsgReduceSizeShort:      "ReduceSizeShort",
	MsgModifyOrderLong:      "ModifyOrderLong",
	MsgModifyOrderShort:     "ModifyOrderShort",
	MsgDeleteOrder:          "DeleteOrder",
	MsgTradeLong:            "TradeLong",
	MsgTradeShort:           "TradeShort",
	MsgTradeBreak:           "TradeBreak",
	MsgEndOfSession:         "EndOfSession",
	MsgTradingStatus:        "TradingStatus",
	MsgUnitClear:            "UnitClear",
	MsgTimeReference:        "TimeReference",
	MsgSettlement:           "Settlement",
	MsgEndOfDaySummary:      "EndOfDaySummary",
	MsgInstrumentDefinition: "FuturesInstrumentDefinition",
	MsgTransactionBegin:     "TransactionBegin",
	MsgTransactionEnd:       "TransactionEnd",
	MsgPriceLimits:          "PriceLimits",
	MsgOpenInterest:         "OpenInterest",
}

var knownTypes = func() []MsgType {
	out := make([]MsgType, 0, len(msgNames))
	for t := range msgNames {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}()

func (t MsgType) String() string {
	if n, ok := msgNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Unknown(0x%02X)", uint8(t))
}

// Known reports whether t is a defined PITCH message type.
func (t MsgType) Known() bool {
	_, ok := msgNames[t]
	return ok
}

// KnownTypes returns every defined message type in code order.
func KnownTypes() []MsgType { return slices.Clone(knownTypes) }

// UnitHeaderLen is the size of a sequenced unit header.
const UnitHeaderLen = 8

// UnitHeader prefixes every PITCH transport unit.
type UnitHeader struct {
	Length   uint16
	Count    uint8
	Unit     uint8
	Sequence uint32
}

// Accepted reports whether the unit carries sequenced messages for unit.
// Other units, unsequenced packets and heartbeats are dropped.
func (h UnitHeader) Accepted(unit uint8) bool {
	return h.Unit == unit && h.Sequence != 0 && h.Count != 0
}

// Time establishes the seconds part of subsequent time offsets.
type Time struct {
	Seconds uint32
	Epoch   uint32
}

// TimeReference provides the midnight reference for the unit.
type TimeReference struct {
	Midnight  uint32 // epoch seconds
	Time      uint32
	Offset    uint32
	TradeDate uint32 // YYYYMMDD
}

// AddOrder is the merged long and short add.
type AddOrder struct {
	Offset uint32
	ID     domain.OrderID
	Side   domain.Side
	Qty    domain.Quantity
	Symbol domain.Symbol
	Price  domain.Price
}

type OrderExecuted struct {
	Offset    uint32
	ID        domain.OrderID
	Qty       domain.Quantity
	ExecID    uint64
	Condition byte
}

// ReduceSize is the merged long and short reduce.
type ReduceSize struct {
	Offset uint32
	ID     domain.OrderID
	Qty    domain.Quantity
}

// ModifyOrder is the merged long and short modify.
type ModifyOrder struct {
	Offset uint32
	ID     domain.OrderID
	Qty    domain.Quantity
	Price  domain.Price
}

type DeleteOrder struct {
	Offset uint32
	ID     domain.OrderID
}

type TradingStatus struct {
	Offset uint32
	Symbol domain.Symbol
	Status domain.TradingStatus
}

// InstrumentDefinition carries the fields of a futures instrument
// definition the engine uses.
type InstrumentDefinition struct {
	Offset       uint32
	Unit         uint8
	ListingState byte
	domain.Instrument
}
