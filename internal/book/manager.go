package book

import (
	"fmt"
	"slices"
	"strings"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

// Manager owns every book of one session and routes feed operations to them.
// Id-addressed operations resolve the symbol through the shared store.
type Manager struct {
	store *Store
	sink  domain.BBOSink
	cfg   Config
	books map[domain.Symbol]*Book
}

// NewManager creates a manager over store. sink may be nil.
func NewManager(store *Store, sink domain.BBOSink, cfg Config) *Manager {
	return &Manager{
		store: store,
		sink:  sink,
		cfg:   cfg,
		books: make(map[domain.Symbol]*Book),
	}
}

// AddOrderBook registers a book for symbol. Registering an existing symbol is
// a no-op and reports false.
func (m *Manager) AddOrderBook(symbol domain.Symbol, contractSize uint16, tickSize domain.Price) bool {
	if _, ok := m.books[symbol]; ok {
		return false
	}
	m.books[symbol] = NewBook(symbol, contractSize, tickSize, m.store, m.sink, m.cfg)
	return true
}

// RemoveOrderBook drops the book for symbol and erases its resting orders
// from the store.
func (m *Manager) RemoveOrderBook(symbol domain.Symbol) error {
	b, ok := m.books[symbol]
	if !ok {
		return fmt.Errorf("remove book %s: %w", symbol, domain.ErrUnknownInstrument)
	}
	for _, l := range []*ladder{&b.bids, &b.asks} {
		l.eachBestFirst(func(lv *level) bool {
			var ids []domain.OrderID
			lv.each(m.store, func(o *domain.Order) { ids = append(ids, o.ID) })
			for _, id := range ids {
				m.store.Erase(id)
			}
			return true
		})
	}
	delete(m.books, symbol)
	return nil
}

func (m *Manager) AddOrder(id domain.OrderID, symbol domain.Symbol, price domain.Price, qty domain.Quantity, side domain.Side) error {
	b, ok := m.books[symbol]
	if !ok {
		return fmt.Errorf("add %d: book %s: %w", id, symbol, domain.ErrUnknownInstrument)
	}
	return b.AddOrder(id, price, qty, side)
}

func (m *Manager) CancelOrder(id domain.OrderID) error {
	b, err := m.resolve("cancel", id)
	if err != nil {
		return err
	}
	return b.CancelOrder(id)
}

func (m *Manager) ModifyOrder(id domain.OrderID, price domain.Price, qty domain.Quantity) error {
	b, err := m.resolve("modify", id)
	if err != nil {
		return err
	}
	return b.ModifyOrder(id, price, qty)
}

func (m *Manager) ReduceOrder(id domain.OrderID, qty domain.Quantity) error {
	b, err := m.resolve("reduce", id)
	if err != nil {
		return err
	}
	return b.ReduceOrder(id, qty)
}

func (m *Manager) ExecuteOrder(id domain.OrderID, qty domain.Quantity) error {
	b, err := m.resolve("execute", id)
	if err != nil {
		return err
	}
	return b.ExecuteOrder(id, qty)
}

// UpdateTradingStatus sets the status of symbol's book.
func (m *Manager) UpdateTradingStatus(symbol domain.Symbol, status domain.TradingStatus) error {
	b, ok := m.books[symbol]
	if !ok {
		return fmt.Errorf("status %s: %w", symbol, domain.ErrUnknownInstrument)
	}
	b.UpdateTradingStatus(status)
	return nil
}

// HasBook reports whether symbol is registered.
func (m *Manager) HasBook(symbol domain.Symbol) bool {
	_, ok := m.books[symbol]
	return ok
}

// Book returns the book for symbol.
func (m *Manager) Book(symbol domain.Symbol) (*Book, bool) {
	b, ok := m.books[symbol]
	return b, ok
}

// Contains reports whether id is live in any book.
func (m *Manager) Contains(id domain.OrderID) bool { return m.store.Contains(id) }

// FindOrder returns a copy of the live order for id.
func (m *Manager) FindOrder(id domain.OrderID) (domain.Order, error) {
	o, err := m.store.Get(id)
	if err != nil {
		return domain.Order{}, err
	}
	return *o, nil
}

// Symbols returns the registered symbols in byte order.
func (m *Manager) Symbols() []domain.Symbol {
	out := make([]domain.Symbol, 0, len(m.books))
	for s := range m.books {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b domain.Symbol) int { return strings.Compare(string(a[:]), string(b[:])) })
	return out
}

// Len returns the number of registered books.
func (m *Manager) Len() int { return len(m.books) }

func (m *Manager) resolve(op string, id domain.OrderID) (*Book, error) {
	o, err := m.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	b, ok := m.books[o.Symbol]
	if !ok {
		return nil, fmt.Errorf("%s %d: book %s: %w", op, id, o.Symbol, domain.ErrUnknownInstrument)
	}
	return b, nil
}
