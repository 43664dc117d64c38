package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/gopacket/pcapgo"

	"github.com/alanyoungcy/cfebook/internal/feed"
)

const (
	snapLen     = 65535
	writeBuffer = 4 << 20
)

// RangeLayout is the format of TimeRange bounds on the command line and in
// configuration. Bounds are UTC.
const RangeLayout = "2006-01-02T15:04:05"

// Slicer splits a multi-session capture into one file per session. A new
// session starts whenever an accepted unit's sequence number does not follow
// the previous one.
type Slicer struct {
	Dir    string
	Prefix string
	Unit   uint8
	Offset int
	Logger *slog.Logger
}

// ParseRange parses begin and end in RangeLayout. end must be after begin.
func ParseRange(begin, end string) (time.Time, time.Time, error) {
	b, err := time.Parse(RangeLayout, begin)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("slicer: begin %q: want %s", begin, RangeLayout)
	}
	e, err := time.Parse(RangeLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("slicer: end %q: want %s", end, RangeLayout)
	}
	if !e.After(b) {
		return time.Time{}, time.Time{}, fmt.Errorf("slicer: end %s is not after begin %s", end, begin)
	}
	return b, e, nil
}

type sliceFile struct {
	f  *os.File
	bw *bufio.Writer
	w  *pcapgo.Writer
}

func (s *sliceFile) close() error {
	if err := s.bw.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// DailySlice writes the sessions of the capture at src and returns the file
// paths in order. Filtered units are dropped from the output.
func (s *Slicer) DailySlice(ctx context.Context, src string) ([]string, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "slicer"))
	prefix := s.Prefix
	if prefix == "" {
		prefix = "day"
	}
	unit := s.Unit
	if unit == 0 {
		unit = feed.DefaultUnit
	}

	r, err := Open(src, s.Offset)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	r.SetLogger(logger)

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("slicer: %w", err)
	}

	var (
		out      *sliceFile
		paths    []string
		expected uint32
		written  uint64
	)
	openNext := func() error {
		if out != nil {
			if err := out.close(); err != nil {
				return fmt.Errorf("slicer: close %s: %w", paths[len(paths)-1], err)
			}
		}
		path := filepath.Join(s.Dir, fmt.Sprintf("%s%d.pcap", prefix, len(paths)+1))
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("slicer: %w", err)
		}
		bw := bufio.NewWriterSize(f, writeBuffer)
		w := pcapgo.NewWriter(bw)
		if err := w.WriteFileHeader(snapLen, r.LinkType()); err != nil {
			f.Close()
			return fmt.Errorf("slicer: header %s: %w", path, err)
		}
		out = &sliceFile{f: f, bw: bw, w: w}
		paths = append(paths, path)
		logger.Info("session file opened", slog.String("path", path))
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			if out != nil {
				out.close()
			}
			return paths, err
		}
		p, err := r.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if out != nil {
				out.close()
			}
			return paths, err
		}

		h, err := feed.ParseUnitHeader(p.Payload)
		if err != nil || !h.Accepted(unit) {
			continue
		}
		if out == nil || h.Sequence != expected {
			if err := openNext(); err != nil {
				return paths, err
			}
		}
		expected = h.Sequence + uint32(h.Count)

		if err := out.w.WritePacket(p.Info, p.Data); err != nil {
			out.close()
			return paths, fmt.Errorf("slicer: write: %w", err)
		}
		written++
	}

	if out != nil {
		if err := out.close(); err != nil {
			return paths, fmt.Errorf("slicer: close: %w", err)
		}
	}
	logger.Info("slice complete",
		slog.String("source", src),
		slog.Int("sessions", len(paths)),
		slog.Uint64("packets", written),
	)
	return paths, nil
}

// TimeRange copies every packet of src captured in [begin, end) into one file
// under Dir and returns its path and the number of packets written. Packets
// are copied whole, whatever they carry.
func (s *Slicer) TimeRange(ctx context.Context, src string, begin, end time.Time) (string, uint64, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "slicer"))

	r, err := Open(src, s.Offset)
	if err != nil {
		return "", 0, err
	}
	defer r.Close()
	r.SetLogger(logger)

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("slicer: %w", err)
	}
	name := fmt.Sprintf("%s_%s.pcap", begin.UTC().Format("20060102T150405"), end.UTC().Format("20060102T150405"))
	if s.Prefix != "" {
		name = s.Prefix + "_" + name
	}
	path := filepath.Join(s.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("slicer: %w", err)
	}
	out := &sliceFile{f: f, bw: bufio.NewWriterSize(f, writeBuffer)}
	out.w = pcapgo.NewWriter(out.bw)
	if err := out.w.WriteFileHeader(snapLen, r.LinkType()); err != nil {
		out.close()
		return "", 0, fmt.Errorf("slicer: header %s: %w", path, err)
	}

	var written uint64
	for {
		if err := ctx.Err(); err != nil {
			out.close()
			return path, written, err
		}
		p, err := r.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			out.close()
			return path, written, err
		}
		ts := p.Info.Timestamp
		if ts.Before(begin) || !ts.Before(end) {
			continue
		}
		if err := out.w.WritePacket(p.Info, p.Data); err != nil {
			out.close()
			return path, written, fmt.Errorf("slicer: write: %w", err)
		}
		written++
	}
	if err := out.close(); err != nil {
		return path, written, fmt.Errorf("slicer: close: %w", err)
	}

	logger.Info("range slice complete",
		slog.String("source", src),
		slog.String("path", path),
		slog.Time("begin", begin),
		slog.Time("end", end),
		slog.Uint64("packets", written),
	)
	return path, written, nil
}
