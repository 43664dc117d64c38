package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

func TestStore_AddGetErase(t *testing.T) {
	s := NewStore()
	h := s.Add(1, testSym, 100, 5, domain.SideBuy)
	assert.Equal(t, Handle(0), h)
	assert.True(t, s.Contains(1))
	assert.Equal(t, 1, s.Len())

	o, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, domain.Quantity(5), o.Remaining)

	s.Erase(1)
	assert.False(t, s.Contains(1))
	_, err = s.Get(1)
	require.ErrorIs(t, err, domain.ErrNotFound)

	// erasing an unknown id is a no-op
	s.Erase(1)
	assert.Zero(t, s.Len())
}

func TestStore_ReusesFreedSlots(t *testing.T) {
	s := NewStore()
	s.Add(1, testSym, 100, 5, domain.SideBuy)
	h2 := s.Add(2, testSym, 101, 5, domain.SideBuy)
	s.Erase(2)

	h3 := s.Add(3, testSym, 102, 1, domain.SideSell)
	assert.Equal(t, h2, h3)
	o, err := s.Get(3)
	require.NoError(t, err)
	assert.Equal(t, domain.Price(102), o.Price)
	assert.Len(t, s.slots, 2)
}

func TestStore_GetIsMutable(t *testing.T) {
	s := NewStore()
	s.Add(1, testSym, 100, 5, domain.SideBuy)
	o, err := s.Get(1)
	require.NoError(t, err)
	require.NoError(t, o.Fill(2))

	again, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, domain.Quantity(3), again.Remaining)
}
