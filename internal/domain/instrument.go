package domain

// Leg is one component of a spread instrument.
type Leg struct {
	Ratio  int32
	Symbol Symbol
}

// Instrument is the subset of a futures instrument definition the engine and
// its naming collaborator need.
type Instrument struct {
	Symbol         Symbol
	ReportSymbol   [SymbolLen]byte
	Expiration     uint32 // YYYYMMDD
	ContractSize   uint16
	PriceIncrement Price
	Legs           []Leg
}

// IsSpread reports whether the instrument is a multi-leg spread.
func (i Instrument) IsSpread() bool { return len(i.Legs) > 0 }
