package book

import (
	"cmp"
	"slices"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

// level is one price on one side: the aggregate visible quantity and an
// intrusive FIFO of store handles.
type level struct {
	price domain.Price
	qty   uint64
	head  Handle
	tail  Handle
	count int
}

// ladder is one side of a book. prices is kept sorted worst to best so that
// activity near the top of book touches the tail of the slice.
type ladder struct {
	bid    bool
	prices []domain.Price
	levels map[domain.Price]*level
}

func newLadder(bid bool) ladder {
	return ladder{bid: bid, levels: make(map[domain.Price]*level)}
}

// worseFirst orders prices worst to best for this side.
func (l *ladder) worseFirst(a, b domain.Price) int {
	if l.bid {
		return cmp.Compare(a, b)
	}
	return cmp.Compare(b, a)
}

func (l *ladder) empty() bool { return len(l.prices) == 0 }

func (l *ladder) depth() int { return len(l.prices) }

// best returns the top level or nil.
func (l *ladder) best() *level {
	if len(l.prices) == 0 {
		return nil
	}
	return l.levels[l.prices[len(l.prices)-1]]
}

func (l *ladder) get(p domain.Price) *level { return l.levels[p] }

func (l *ladder) getOrCreate(p domain.Price) *level {
	if lv, ok := l.levels[p]; ok {
		return lv
	}
	lv := &level{price: p, head: nilHandle, tail: nilHandle}
	l.levels[p] = lv
	i, _ := slices.BinarySearchFunc(l.prices, p, l.worseFirst)
	l.prices = slices.Insert(l.prices, i, p)
	return lv
}

func (l *ladder) remove(p domain.Price) {
	if _, ok := l.levels[p]; !ok {
		return
	}
	delete(l.levels, p)
	if i, found := slices.BinarySearchFunc(l.prices, p, l.worseFirst); found {
		l.prices = slices.Delete(l.prices, i, i+1)
	}
}

// eachBestFirst visits levels from the top of book down.
func (l *ladder) eachBestFirst(fn func(*level) bool) {
	for i := len(l.prices) - 1; i >= 0; i-- {
		if !fn(l.levels[l.prices[i]]) {
			return
		}
	}
}

// push appends h at the tail of lv's queue.
func (lv *level) push(s *Store, h Handle) {
	sl := s.at(h)
	sl.prev = lv.tail
	sl.next = nilHandle
	if lv.tail != nilHandle {
		s.at(lv.tail).next = h
	} else {
		lv.head = h
	}
	lv.tail = h
	lv.qty += uint64(sl.order.Remaining)
	lv.count++
}

// unlink removes h from lv's queue and takes its remaining quantity out of
// the aggregate.
func (lv *level) unlink(s *Store, h Handle) {
	sl := s.at(h)
	if sl.prev != nilHandle {
		s.at(sl.prev).next = sl.next
	} else {
		lv.head = sl.next
	}
	if sl.next != nilHandle {
		s.at(sl.next).prev = sl.prev
	} else {
		lv.tail = sl.prev
	}
	sl.prev, sl.next = nilHandle, nilHandle
	lv.qty -= uint64(sl.order.Remaining)
	lv.count--
}

// each visits the queue head to tail.
func (lv *level) each(s *Store, fn func(*domain.Order)) {
	for h := lv.head; h != nilHandle; h = s.at(h).next {
		fn(s.orderAt(h))
	}
}
