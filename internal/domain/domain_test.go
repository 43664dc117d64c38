package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbol(t *testing.T) {
	s := ParseSymbol("VXF4")
	assert.Equal(t, Symbol{'V', 'X', 'F', '4', ' ', ' '}, s)
	assert.Equal(t, "VXF4", s.String())
	assert.False(t, s.IsZero())
	assert.True(t, Symbol{}.IsZero())

	wire := SymbolFrom([]byte{'0', '1', 'A', 'B', 0, 0})
	assert.Equal(t, "01AB", wire.String())

	long := ParseSymbol("ABCDEFGH")
	assert.Equal(t, "ABCDEF", long.String())

	m := map[Symbol]int{ParseSymbol("VXF4"): 1}
	assert.Equal(t, 1, m[SymbolFrom([]byte("VXF4  "))])
}

func TestOrderFill(t *testing.T) {
	o := NewOrder(1, ParseSymbol("VXF4"), 1500, 10, SideBuy)
	require.NoError(t, o.Fill(4))
	assert.Equal(t, Quantity(6), o.Remaining)
	assert.Equal(t, Quantity(10), o.Initial)
	assert.Equal(t, Quantity(10), o.Tradable)

	err := o.Fill(7)
	require.ErrorIs(t, err, ErrOverFill)
	assert.Equal(t, Quantity(6), o.Remaining)

	require.NoError(t, o.Fill(6))
	assert.Zero(t, o.Remaining)
}

func TestParseSide(t *testing.T) {
	assert.Equal(t, SideBuy, ParseSide('B'))
	assert.Equal(t, SideSell, ParseSide('S'))
	assert.Equal(t, SideSell, ParseSide('x'))
	assert.Equal(t, "buy", SideBuy.String())
}

func TestIsIntegrity(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{ErrDuplicateOrder, true},
		{fmt.Errorf("book: %w", ErrFifoViolation), true},
		{ErrNotFound, true},
		{ErrOverFill, true},
		{ErrUnknownInstrument, true},
		{ErrUnrecognizedEvent, false},
		{ErrTruncated, false},
		{errors.New("io"), false},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, IsIntegrity(tt.err))
		})
	}
}

func TestSessionError(t *testing.T) {
	err := &SessionError{Session: "day1", PktSeq: 12, MsgSeq: 3, MsgType: 0x23, Err: ErrFifoViolation}
	assert.Equal(t, "session day1: pkt 12 msg 3 type 0x23: order is not at the head of its queue", err.Error())
	assert.ErrorIs(t, err, ErrFifoViolation)

	var se *SessionError
	require.True(t, errors.As(fmt.Errorf("run: %w", err), &se))
	assert.Equal(t, "day1", se.Session)
}

func TestTagStrings(t *testing.T) {
	assert.Equal(t, "A", TagAdd.String())
	assert.Equal(t, "T", StatusTrading.String())
}
