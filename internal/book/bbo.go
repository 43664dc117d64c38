package book

import "github.com/alanyoungcy/cfebook/internal/domain"

// TopOfBook derives the BBO from best-first level views. An empty side
// yields (0, 0).
func TopOfBook(bids, asks []LevelView) domain.BBO {
	var bbo domain.BBO
	if len(bids) > 0 {
		bbo.BidPrice, bbo.BidQty = bids[0].Price, bids[0].Quantity
	}
	if len(asks) > 0 {
		bbo.AskPrice, bbo.AskQty = asks[0].Price, asks[0].Quantity
	}
	return bbo
}

// Changed reports whether a mutation moved the top of book. Both price and
// quantity on both sides take part in the comparison.
func Changed(before, after domain.BBO) bool {
	return before != after
}

func (l *ladder) top() (domain.Price, uint64) {
	if lv := l.best(); lv != nil {
		return lv.price, lv.qty
	}
	return 0, 0
}
