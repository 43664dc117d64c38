package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

// Source yields transport unit payloads in capture order. Next returns io.EOF
// after the last packet.
type Source interface {
	Next() (payload []byte, ts time.Time, err error)
}

// ScanResult is the outcome of a statistics-only pass over a capture.
type ScanResult struct {
	Packets  uint64
	Units    uint64
	Gaps     []domain.Gap
	Summary  *Summary
	Expected uint32
}

// Scan walks src counting messages and detecting gaps without building any
// book. Malformed units are skipped.
func Scan(ctx context.Context, src Source, unit uint8) (ScanResult, error) {
	if unit == 0 {
		unit = DefaultUnit
	}
	gaps := NewGapTracker(unit)
	res := ScanResult{Summary: NewSummary()}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		payload, _, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("scan: packet %d: %w", res.Packets+1, err)
		}
		res.Packets++

		h, err := ParseUnitHeader(payload)
		if err != nil || !gaps.Observe(h) {
			continue
		}
		res.Units++
		_ = EachMessage(payload, int(h.Count), func(_ int, raw []byte) error {
			res.Summary.Count(raw)
			return nil
		})
	}

	res.Gaps = gaps.Gaps()
	res.Expected = gaps.Expected()
	return res, nil
}
