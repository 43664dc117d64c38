package book

import (
	"fmt"
	"io"
	"strings"
)

// Render writes a human-readable ladder for b. Asks are printed from the
// highest price down to the best ask, then bids from the best bid down, with
// each resting order's remaining size in queue order.
func Render(w io.Writer, b *Book, name string) error {
	if name == "" {
		name = b.symbol.String()
	}
	snap := b.Snapshot(0)

	var sb strings.Builder
	sb.WriteString("\n=================================\n")
	fmt.Fprintf(&sb, "%s Orderbook", name)
	sb.WriteString("\n=================================\n")

	sb.WriteString("\n--------------------- ASKS ---------------------\n\n")
	if len(snap.Asks) == 0 {
		sb.WriteString("-EMPTY-\n")
	}
	for i := len(snap.Asks) - 1; i >= 0; i-- {
		writeLevel(&sb, snap.Asks[i])
	}

	sb.WriteString("\n--------------------- BIDS ---------------------\n\n")
	if len(snap.Bids) == 0 {
		sb.WriteString("-EMPTY-\n")
	}
	for _, lv := range snap.Bids {
		writeLevel(&sb, lv)
	}
	sb.WriteString("\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

func writeLevel(sb *strings.Builder, lv LevelView) {
	fmt.Fprintf(sb, "%-10d", int64(lv.Price))
	for _, o := range lv.Orders {
		fmt.Fprintf(sb, "[%d]", o.Remaining)
	}
	sb.WriteString("\n")
}
