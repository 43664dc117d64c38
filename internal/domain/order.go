package domain

import "fmt"

// OrderID is the exchange-assigned day-specific order identifier. Ids are
// unique only among live orders and are re-issued after an order leaves the
// book.
type OrderID uint64

// Price is a fixed-point price in hundredths of the quoted unit.
type Price int64

// Quantity is a contract count.
type Quantity uint16

// Side is the wire side indicator.
type Side byte

const (
	SideBuy  Side = 'B'
	SideSell Side = 'S'
)

// ParseSide maps a wire side indicator. Anything other than 'B' is a sell,
// which is how the feed treats it.
func ParseSide(b byte) Side {
	if b == byte(SideBuy) {
		return SideBuy
	}
	return SideSell
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", byte(s))
	}
}

// Order is a single resting order. Remaining only ever decreases; Tradable is
// carried as received and is never recomputed.
type Order struct {
	ID        OrderID
	Symbol    Symbol
	Price     Price
	Side      Side
	Initial   Quantity
	Remaining Quantity
	Tradable  Quantity
}

// NewOrder returns an order with all three quantities set to qty.
func NewOrder(id OrderID, symbol Symbol, price Price, qty Quantity, side Side) Order {
	return Order{
		ID:        id,
		Symbol:    symbol,
		Price:     price,
		Side:      side,
		Initial:   qty,
		Remaining: qty,
		Tradable:  qty,
	}
}

// Fill removes qty from the remaining quantity.
func (o *Order) Fill(qty Quantity) error {
	if qty > o.Remaining {
		return fmt.Errorf("order %d: fill %d of %d: %w", o.ID, qty, o.Remaining, ErrOverFill)
	}
	o.Remaining -= qty
	return nil
}
