package book

import "github.com/alanyoungcy/cfebook/internal/domain"

// OrderView is a resting order as seen from its level queue.
type OrderView struct {
	ID        domain.OrderID
	Remaining domain.Quantity
}

// LevelView is a read-only copy of one price level. Orders are head first.
type LevelView struct {
	Price    domain.Price
	Quantity uint64
	Orders   []OrderView
}

// Snapshot is a point-in-time copy of both ladders, best level first.
type Snapshot struct {
	Symbol domain.Symbol
	Status domain.TradingStatus
	Bids   []LevelView
	Asks   []LevelView
}

// BBO derives the top of book from the snapshot.
func (s Snapshot) BBO() domain.BBO { return TopOfBook(s.Bids, s.Asks) }

// Snapshot copies up to depth levels per side. depth <= 0 copies every level.
func (b *Book) Snapshot(depth int) Snapshot {
	return Snapshot{
		Symbol: b.symbol,
		Status: b.status,
		Bids:   b.bids.views(b.store, depth),
		Asks:   b.asks.views(b.store, depth),
	}
}

func (l *ladder) views(s *Store, depth int) []LevelView {
	n := l.depth()
	if depth > 0 && depth < n {
		n = depth
	}
	out := make([]LevelView, 0, n)
	l.eachBestFirst(func(lv *level) bool {
		if len(out) == n {
			return false
		}
		v := LevelView{Price: lv.price, Quantity: lv.qty, Orders: make([]OrderView, 0, lv.count)}
		lv.each(s, func(o *domain.Order) {
			v.Orders = append(v.Orders, OrderView{ID: o.ID, Remaining: o.Remaining})
		})
		out = append(out, v)
		return true
	})
	return out
}
