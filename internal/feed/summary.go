package feed

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

// Summary counts messages per type and per trade date. The trade date
// switches after a TimeReference message has itself been counted.
type Summary struct {
	total  uint64
	byType map[MsgType]uint64
	byDate map[string]map[MsgType]uint64
	date   string
}

func NewSummary() *Summary {
	return &Summary{
		byType: make(map[MsgType]uint64),
		byDate: make(map[string]map[MsgType]uint64),
	}
}

// Count records one message. raw is only inspected for TimeReference.
func (s *Summary) Count(raw []byte) {
	t := TypeOf(raw)
	s.total++
	s.byType[t]++
	d, ok := s.byDate[s.date]
	if !ok {
		d = make(map[MsgType]uint64)
		s.byDate[s.date] = d
	}
	d[t]++

	if t == MsgTimeReference {
		if m, err := DecodeTimeReference(raw); err == nil {
			s.date = strconv.FormatUint(uint64(m.TradeDate), 10)
		}
	}
}

// Total returns the number of messages counted.
func (s *Summary) Total() uint64 { return s.total }

// TradeDate returns the current trade date as YYYYMMDD, or "".
func (s *Summary) TradeDate() string { return s.date }

// ByType returns a copy of the per-type totals.
func (s *Summary) ByType() map[MsgType]uint64 {
	out := make(map[MsgType]uint64, len(s.byType))
	for t, n := range s.byType {
		out[t] = n
	}
	return out
}

// Dates returns the trade dates seen, in order, excluding messages counted
// before the first TimeReference.
func (s *Summary) Dates() []string {
	out := make([]string, 0, len(s.byDate))
	for d := range s.byDate {
		if d != "" {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return out
}

// CountFor returns the count of t on trade date date.
func (s *Summary) CountFor(date string, t MsgType) uint64 {
	return s.byDate[date][t]
}

// Merge adds other's counts into s.
func (s *Summary) Merge(other *Summary) {
	s.total += other.total
	for t, n := range other.byType {
		s.byType[t] += n
	}
	for d, counts := range other.byDate {
		dst, ok := s.byDate[d]
		if !ok {
			dst = make(map[MsgType]uint64)
			s.byDate[d] = dst
		}
		for t, n := range counts {
			dst[t] += n
		}
	}
}

// WriteGaps prints the gap report.
func WriteGaps(w io.Writer, gaps []domain.Gap) error {
	bw := bufio.NewWriter(w)
	if len(gaps) == 0 {
		fmt.Fprint(bw, "No packet gap detected!\n\n")
		return bw.Flush()
	}
	fmt.Fprint(bw, "Packet gap(s) detected:\n")
	for _, g := range gaps {
		fmt.Fprintf(bw, "Expected packet sequence number: %d | Actual: %d\n", g.Expected, g.Actual)
	}
	return bw.Flush()
}

// WriteSummary prints counts for every dated section. Every known type is
// listed in code order, zeros included.
func WriteSummary(w io.Writer, s *Summary) error {
	bw := bufio.NewWriter(w)
	fmt.Fprint(bw, "Message Counts by Date and Type:\n")
	for _, d := range s.Dates() {
		fmt.Fprintf(bw, "Date: %s\n", dashDate(d))
		for _, t := range knownTypes {
			fmt.Fprintf(bw, "  Type: %-28s (0x%02X) - Count: %9d\n", t.String(), uint8(t), s.CountFor(d, t))
		}
	}
	fmt.Fprint(bw, "\n")
	return bw.Flush()
}

func dashDate(d string) string {
	if len(d) != 8 {
		return d
	}
	return d[:4] + "-" + d[4:6] + "-" + d[6:]
}
