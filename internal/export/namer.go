package export

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

const monthCodes = "FGHJKMNQUVXZ"

var errLeg = errors.New("unresolvable spread leg")

// Namer derives readable instrument names: root plus month code plus year
// digit for outrights, and signed leg names for spreads.
type Namer struct {
	names   map[domain.Symbol]string
	reverse map[string]domain.Symbol
	logger  *slog.Logger
}

func NewNamer(logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{
		names:   make(map[domain.Symbol]string),
		reverse: make(map[string]domain.Symbol),
		logger:  logger.With(slog.String("component", "namer")),
	}
}

// Register derives and stores the name of inst. Spread legs must already be
// registered. A leg that cannot be resolved is written as '?' and reported
// in the returned error; the name is still stored.
func (n *Namer) Register(inst domain.Instrument) (string, error) {
	var (
		name string
		err  error
	)
	if inst.IsSpread() {
		name, err = n.spreadName(inst)
	} else {
		name = outrightName(inst)
	}
	n.names[inst.Symbol] = name
	if _, taken := n.reverse[name]; !taken {
		n.reverse[name] = inst.Symbol
	}
	if err != nil {
		n.logger.Warn("spread name incomplete",
			slog.String("symbol", inst.Symbol.String()),
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
	}
	return name, err
}

func outrightName(inst domain.Instrument) string {
	var sb strings.Builder
	for _, c := range inst.ReportSymbol {
		if !isAlnum(c) {
			break
		}
		sb.WriteByte(c)
	}
	month := (inst.Expiration / 100) % 100
	if month >= 1 && month <= 12 {
		sb.WriteByte(monthCodes[month-1])
	} else {
		sb.WriteByte('?')
	}
	sb.WriteByte(byte('0' + (inst.Expiration/10000)%10))
	return sb.String()
}

func (n *Namer) spreadName(inst domain.Instrument) (string, error) {
	var (
		sb   strings.Builder
		errs []error
	)
	for i, leg := range inst.Legs {
		switch leg.Ratio {
		case 1:
			sb.WriteByte('+')
		case -1:
			sb.WriteByte('-')
		default:
			errs = append(errs, fmt.Errorf("leg %d: ratio %d: %w", i, leg.Ratio, errLeg))
		}
		name, ok := n.names[leg.Symbol]
		if !ok {
			errs = append(errs, fmt.Errorf("leg %d: %s: %w", i, leg.Symbol, errLeg))
			name = "?"
		}
		sb.WriteString(name)
	}
	return sb.String(), errors.Join(errs...)
}

// Name returns the readable name of s, falling back to the raw symbol.
func (n *Namer) Name(s domain.Symbol) string {
	if name, ok := n.names[s]; ok {
		return name
	}
	return s.String()
}

// Lookup resolves a readable name, or a raw symbol, to a symbol.
func (n *Namer) Lookup(name string) (domain.Symbol, bool) {
	if s, ok := n.reverse[name]; ok {
		return s, true
	}
	s := domain.ParseSymbol(name)
	_, ok := n.names[s]
	return s, ok
}

// Len returns the number of registered instruments.
func (n *Namer) Len() int { return len(n.names) }

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z'
}
