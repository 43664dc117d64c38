package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

var csvHeader = []string{
	"Time", "PktSeqNum", "MsgSeqNum", "MsgType", "Symbol",
	"BidPrice", "BidQuantity", "AskPrice", "AskQuantity", "TradingStatus",
}

// CSVWriter writes BBO updates as CSV rows. The file is created under the
// session name and renamed to the feed date on Close when one is known.
type CSVWriter struct {
	dir     string
	path    string
	clock   *Clock
	f       *os.File
	bw      *bufio.Writer
	w       *csv.Writer
	row     []string
	written uint64
}

func NewCSVWriter(dir, session string, clock *Clock) (*CSVWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}
	path := filepath.Join(dir, "bbo-"+session+".csv")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	w := csv.NewWriter(bw)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("csv: header: %w", err)
	}
	return &CSVWriter{dir: dir, path: path, clock: clock, f: f, bw: bw, w: w, row: make([]string, len(csvHeader))}, nil
}

func (c *CSVWriter) Write(u domain.BBOUpdate) error {
	c.row[0] = u.Stamp
	c.row[1] = strconv.FormatUint(u.PktSeq, 10)
	c.row[2] = strconv.FormatUint(u.MsgSeq, 10)
	c.row[3] = u.Tag.String()
	c.row[4] = u.Symbol
	c.row[5] = FormatPrice(u.BidPrice)
	c.row[6] = strconv.FormatUint(u.BidQty, 10)
	c.row[7] = FormatPrice(u.AskPrice)
	c.row[8] = strconv.FormatUint(u.AskQty, 10)
	c.row[9] = u.Status.String()
	if err := c.w.Write(c.row); err != nil {
		return fmt.Errorf("csv: %w", err)
	}
	c.written++
	return nil
}

// Rows returns the number of data rows written.
func (c *CSVWriter) Rows() uint64 { return c.written }

// Path returns the current file path. After Close it is the final name.
func (c *CSVWriter) Path() string { return c.path }

func (c *CSVWriter) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.f.Close()
		return fmt.Errorf("csv: flush: %w", err)
	}
	if err := c.bw.Flush(); err != nil {
		c.f.Close()
		return fmt.Errorf("csv: flush: %w", err)
	}
	if err := c.f.Close(); err != nil {
		return fmt.Errorf("csv: close: %w", err)
	}
	if c.clock != nil && c.clock.Date() != "" {
		final := filepath.Join(c.dir, "bbo-"+c.clock.Date()+".csv")
		if err := os.Rename(c.path, final); err != nil {
			return fmt.Errorf("csv: rename: %w", err)
		}
		c.path = final
	}
	return nil
}

// FormatPrice renders a price in hundredths as a decimal with no trailing
// zeros.
func FormatPrice(p domain.Price) string {
	return strconv.FormatFloat(float64(p)/100, 'f', -1, 64)
}
