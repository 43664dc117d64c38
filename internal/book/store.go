// Package book reconstructs per-instrument limit order books with exchange
// price-time priority. Orders live in a single arena owned by Store; books
// hold only handles into it.
package book

import (
	"fmt"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

// Handle is a stable slot index into a Store. It stays valid until the order
// it refers to is erased.
type Handle int32

const nilHandle Handle = -1

// slot carries the order plus its links in the owning price level's FIFO.
type slot struct {
	order domain.Order
	prev  Handle
	next  Handle
}

// Store is the exclusive owner of every live order in a session. It is the
// single place orders are constructed and destroyed. It is not safe for
// concurrent use; each session owns its own Store.
type Store struct {
	slots []slot
	free  []Handle
	index map[domain.OrderID]Handle
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{index: make(map[domain.OrderID]Handle)}
}

// Add constructs a new order and returns its handle. It does not reject an id
// that is already live; callers check Contains first.
func (s *Store) Add(id domain.OrderID, symbol domain.Symbol, price domain.Price, qty domain.Quantity, side domain.Side) Handle {
	sl := slot{
		order: domain.NewOrder(id, symbol, price, qty, side),
		prev:  nilHandle,
		next:  nilHandle,
	}

	var h Handle
	if n := len(s.free); n > 0 {
		h = s.free[n-1]
		s.free = s.free[:n-1]
		s.slots[h] = sl
	} else {
		h = Handle(len(s.slots))
		s.slots = append(s.slots, sl)
	}
	s.index[id] = h
	return h
}

// Get returns the live order for id. The pointer is valid until the next Add
// or Erase on the store.
func (s *Store) Get(id domain.OrderID) (*domain.Order, error) {
	h, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, domain.ErrNotFound)
	}
	return &s.slots[h].order, nil
}

// Erase destroys the order for id. Erasing an unknown id is a no-op.
func (s *Store) Erase(id domain.OrderID) {
	h, ok := s.index[id]
	if !ok {
		return
	}
	delete(s.index, id)
	s.slots[h] = slot{prev: nilHandle, next: nilHandle}
	s.free = append(s.free, h)
}

// Contains reports whether id is live.
func (s *Store) Contains(id domain.OrderID) bool {
	_, ok := s.index[id]
	return ok
}

// Len returns the number of live orders.
func (s *Store) Len() int { return len(s.index) }

func (s *Store) handle(id domain.OrderID) (Handle, bool) {
	h, ok := s.index[id]
	return h, ok
}

func (s *Store) at(h Handle) *slot { return &s.slots[h] }

func (s *Store) orderAt(h Handle) *domain.Order { return &s.slots[h].order }
