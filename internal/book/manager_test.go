package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

func newTestManager(t *testing.T) (*Manager, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	m := NewManager(NewStore(), sink, Config{EmitBBO: true})
	require.True(t, m.AddOrderBook(testSym, 1000, 5))
	return m, sink
}

func TestManager_AddOrderBookIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.AddOrder(1, testSym, 100, 5, domain.SideBuy))

	assert.False(t, m.AddOrderBook(testSym, 1, 1))
	b, ok := m.Book(testSym)
	require.True(t, ok)
	assert.Equal(t, uint16(1000), b.ContractSize())
	assert.True(t, b.Contains(1), "re-adding must not reset the book")
	assert.Equal(t, 1, m.Len())
}

func TestManager_Routing(t *testing.T) {
	m, sink := newTestManager(t)
	other := domain.ParseSymbol("VXG4")
	require.True(t, m.AddOrderBook(other, 1000, 5))

	require.NoError(t, m.AddOrder(1, testSym, 100, 10, domain.SideBuy))
	require.NoError(t, m.AddOrder(2, other, 200, 4, domain.SideSell))

	require.NoError(t, m.ReduceOrder(1, 2))
	require.NoError(t, m.ModifyOrder(2, 199, 4))
	require.NoError(t, m.ExecuteOrder(1, 8))
	require.NoError(t, m.CancelOrder(2))

	assert.False(t, m.Contains(1))
	assert.False(t, m.Contains(2))

	var tags []domain.EventTag
	for _, e := range sink.events {
		tags = append(tags, e.tag)
	}
	assert.Equal(t, []domain.EventTag{domain.TagAdd, domain.TagAdd, domain.TagReduce, domain.TagModify, domain.TagExecute, domain.TagDelete}, tags)
	assert.Equal(t, other, sink.events[3].symbol)
}

func TestManager_Errors(t *testing.T) {
	m, _ := newTestManager(t)
	unknown := domain.ParseSymbol("ZZZ")

	require.ErrorIs(t, m.AddOrder(1, unknown, 100, 1, domain.SideBuy), domain.ErrUnknownInstrument)
	require.ErrorIs(t, m.CancelOrder(1), domain.ErrNotFound)
	require.ErrorIs(t, m.ModifyOrder(1, 1, 1), domain.ErrNotFound)
	require.ErrorIs(t, m.ReduceOrder(1, 1), domain.ErrNotFound)
	require.ErrorIs(t, m.ExecuteOrder(1, 1), domain.ErrNotFound)
	require.ErrorIs(t, m.UpdateTradingStatus(unknown, domain.StatusTrading), domain.ErrUnknownInstrument)

	// an order whose book has gone resolves to UnknownInstrument
	m.store.Add(9, unknown, 100, 1, domain.SideBuy)
	require.ErrorIs(t, m.CancelOrder(9), domain.ErrUnknownInstrument)
}

func TestManager_TradingStatus(t *testing.T) {
	m, sink := newTestManager(t)
	require.NoError(t, m.UpdateTradingStatus(testSym, domain.StatusQueuing))
	b, _ := m.Book(testSym)
	assert.Equal(t, domain.StatusQueuing, b.TradingStatus())

	require.NoError(t, m.AddOrder(1, testSym, 100, 1, domain.SideBuy))
	assert.Equal(t, domain.StatusQueuing, sink.events[0].status)
}

func TestManager_RemoveOrderBook(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.AddOrder(1, testSym, 100, 1, domain.SideBuy))
	require.NoError(t, m.AddOrder(2, testSym, 101, 1, domain.SideSell))

	require.NoError(t, m.RemoveOrderBook(testSym))
	assert.False(t, m.HasBook(testSym))
	assert.False(t, m.Contains(1))
	assert.False(t, m.Contains(2))
	require.ErrorIs(t, m.RemoveOrderBook(testSym), domain.ErrUnknownInstrument)
}

func TestManager_Symbols(t *testing.T) {
	m := NewManager(NewStore(), nil, Config{})
	m.AddOrderBook(domain.ParseSymbol("VXZ4"), 1, 1)
	m.AddOrderBook(domain.ParseSymbol("VXF5"), 1, 1)
	m.AddOrderBook(domain.ParseSymbol("VXG5"), 1, 1)

	var got []string
	for _, s := range m.Symbols() {
		got = append(got, s.String())
	}
	assert.Equal(t, []string{"VXF5", "VXG5", "VXZ4"}, got)
}

func TestManager_FindOrder(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.AddOrder(1, testSym, 100, 3, domain.SideSell))
	o, err := m.FindOrder(1)
	require.NoError(t, err)
	assert.Equal(t, testSym, o.Symbol)
	_, err = m.FindOrder(2)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
