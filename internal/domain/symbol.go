package domain

import "bytes"

// SymbolLen is the width of an exchange symbol on the wire.
const SymbolLen = 6

// Symbol is the fixed-width opaque instrument code. It is comparable and is
// used directly as a map key.
type Symbol [SymbolLen]byte

// SymbolFrom copies up to SymbolLen bytes of b into a Symbol. Missing bytes
// are space padded, matching the wire representation.
func SymbolFrom(b []byte) Symbol {
	var s Symbol
	for i := range s {
		s[i] = ' '
	}
	copy(s[:], b)
	return s
}

// ParseSymbol builds a Symbol from its printable form.
func ParseSymbol(s string) Symbol {
	return SymbolFrom([]byte(s))
}

// String returns the symbol with trailing padding and NUL bytes removed.
func (s Symbol) String() string {
	return string(bytes.TrimRight(s[:], " \x00"))
}

// IsZero reports whether the symbol has never been set.
func (s Symbol) IsZero() bool {
	return s == Symbol{}
}
