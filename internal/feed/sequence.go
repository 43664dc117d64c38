package feed

import "github.com/alanyoungcy/cfebook/internal/domain"

// GapTracker detects discontinuities in the sequenced unit stream of one
// channel. Sequence 1 is a legitimate restart and is never a gap, and neither
// is the first accepted unit, so a capture may start mid-session.
type GapTracker struct {
	unit     uint8
	expected uint32
	seen     bool
	gaps     []domain.Gap
}

// NewGapTracker returns a tracker for unit. Expected reports 1 until the
// first accepted unit is observed.
func NewGapTracker(unit uint8) *GapTracker {
	return &GapTracker{unit: unit, expected: 1}
}

// Observe applies h. It reports false when the unit is filtered out, in which
// case the tracker state is untouched.
func (g *GapTracker) Observe(h UnitHeader) bool {
	if !h.Accepted(g.unit) {
		return false
	}
	if g.seen && h.Sequence != g.expected && h.Sequence != 1 {
		g.gaps = append(g.gaps, domain.Gap{Expected: g.expected, Actual: h.Sequence})
	}
	g.expected = h.Sequence + uint32(h.Count)
	g.seen = true
	return true
}

// Expected returns the next expected sequence number.
func (g *GapTracker) Expected() uint32 { return g.expected }

// Gaps returns the recorded gaps in detection order.
func (g *GapTracker) Gaps() []domain.Gap { return g.gaps }

// Reset clears the tracker for a new pass.
func (g *GapTracker) Reset() {
	g.expected = 1
	g.seen = false
	g.gaps = nil
}
