package capture

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cfebook/internal/feed"
	"github.com/alanyoungcy/cfebook/internal/feed/feedtest"
)

var t0 = time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

func writePcap(t *testing.T, w io.Writer, link layers.LinkType, frames ...[]byte) {
	t.Helper()
	pw := pcapgo.NewWriter(w)
	require.NoError(t, pw.WriteFileHeader(65535, link))
	for i, f := range frames {
		ci := gopacket.CaptureInfo{Timestamp: t0.Add(time.Duration(i) * time.Millisecond), CaptureLength: len(f), Length: len(f)}
		require.NoError(t, pw.WritePacket(ci, f))
	}
}

func TestReader_DecodesUDPPayload(t *testing.T) {
	unit := feedtest.Unit(1, 1, feedtest.Time(10, 0))
	var buf bytes.Buffer
	writePcap(t, &buf, layers.LinkTypeEthernet, feedtest.Frame(unit), feedtest.Frame(feedtest.Unit(1, 2, feedtest.Delete(0, 1))))

	r, err := NewReader(&buf, 0)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())

	payload, ts, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, unit, payload)
	assert.True(t, ts.Equal(t0))

	payload, _, err = r.Next()
	require.NoError(t, err)
	h, err := feed.ParseUnitHeader(payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), h.Sequence)

	_, _, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, uint64(2), r.Packets())
}

func TestReader_FallsBackToOffset(t *testing.T) {
	unit := feedtest.Unit(1, 7, feedtest.Time(10, 0))
	frame := append(make([]byte, 16), unit...)

	var buf bytes.Buffer
	writePcap(t, &buf, layers.LinkTypeRaw, frame, make([]byte, 10))

	r, err := NewReader(&buf, 16)
	require.NoError(t, err)

	payload, _, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, unit, payload)

	// the short frame carries no payload and is skipped
	_, _, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_TruncatedCapture(t *testing.T) {
	var buf bytes.Buffer
	writePcap(t, &buf, layers.LinkTypeEthernet,
		feedtest.Frame(feedtest.Unit(1, 1, feedtest.Time(10, 0))),
		feedtest.Frame(feedtest.Unit(1, 2, feedtest.Delete(0, 1))),
	)
	data := buf.Bytes()[:buf.Len()-5]

	var logs bytes.Buffer
	r, err := NewReader(bytes.NewReader(data), 0)
	require.NoError(t, err)
	r.SetLogger(slog.New(slog.NewTextHandler(&logs, nil)))

	_, _, err = r.Next()
	require.NoError(t, err)
	assert.False(t, r.Truncated())

	_, _, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, r.Truncated())
	assert.Equal(t, uint64(1), r.Packets())
	assert.Contains(t, logs.String(), "truncated packet record")
	assert.Contains(t, logs.String(), "packet=2")
}

func TestReader_CleanEOFIsNotTruncated(t *testing.T) {
	var buf bytes.Buffer
	writePcap(t, &buf, layers.LinkTypeEthernet, feedtest.Frame(feedtest.Unit(1, 1, feedtest.Time(10, 0))))

	r, err := NewReader(&buf, 0)
	require.NoError(t, err)
	_, _, err = r.Next()
	require.NoError(t, err)
	_, _, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, r.Truncated())
}

func TestReader_BadHeader(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7, 8}), 0)
	require.Error(t, err)

	_, err = Open(filepath.Join(t.TempDir(), "missing.pcap"), 0)
	require.Error(t, err)
}

func TestSlicer_DailySlice(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "week.pcap")
	f, err := os.Create(src)
	require.NoError(t, err)
	writePcap(t, f, layers.LinkTypeEthernet,
		feedtest.Frame(feedtest.Unit(1, 1, feedtest.Time(1, 0), feedtest.Time(2, 0))),
		feedtest.Frame(feedtest.Unit(1, 3, feedtest.Time(3, 0))),
		feedtest.Frame(feedtest.Unit(2, 900, feedtest.Time(3, 0))),
		feedtest.Frame(feedtest.Unit(1, 0, feedtest.Time(3, 0))),
		feedtest.Frame(feedtest.Unit(1, 1, feedtest.Time(1, 0))),
		feedtest.Frame(feedtest.Unit(1, 2, feedtest.Time(2, 0))),
		feedtest.Frame(feedtest.Unit(1, 50, feedtest.Time(2, 0))),
	)
	require.NoError(t, f.Close())

	s := &Slicer{Dir: filepath.Join(dir, "out")}
	paths, err := s.DailySlice(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "out", "day1.pcap"),
		filepath.Join(dir, "out", "day2.pcap"),
		filepath.Join(dir, "out", "day3.pcap"),
	}, paths)

	want := [][]uint32{{1, 3}, {1, 2}, {50}}
	for i, p := range paths {
		r, err := Open(p, 0)
		require.NoError(t, err)
		var seqs []uint32
		for {
			payload, _, err := r.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			h, err := feed.ParseUnitHeader(payload)
			require.NoError(t, err)
			seqs = append(seqs, h.Sequence)
		}
		require.NoError(t, r.Close())
		assert.Equal(t, want[i], seqs, "file %s", p)
	}
}

func TestSlicer_TimeRange(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "day.pcap")
	f, err := os.Create(src)
	require.NoError(t, err)
	var frames [][]byte
	for seq := uint32(1); seq <= 6; seq++ {
		frames = append(frames, feedtest.Frame(feedtest.Unit(1, seq, feedtest.Time(seq, 0))))
	}
	writePcap(t, f, layers.LinkTypeEthernet, frames...)
	require.NoError(t, f.Close())

	s := &Slicer{Dir: filepath.Join(dir, "out")}
	begin, end := t0.Add(2*time.Millisecond), t0.Add(5*time.Millisecond)
	path, n, err := s.TimeRange(context.Background(), src, begin, end)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
	assert.Equal(t, filepath.Join(dir, "out", "20240102T150000_20240102T150000.pcap"), path)

	r, err := Open(path, 0)
	require.NoError(t, err)
	defer r.Close()
	var seqs []uint32
	for {
		payload, ts, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.False(t, ts.Before(begin))
		assert.True(t, ts.Before(end))
		h, err := feed.ParseUnitHeader(payload)
		require.NoError(t, err)
		seqs = append(seqs, h.Sequence)
	}
	assert.Equal(t, []uint32{3, 4, 5}, seqs)
}

func TestSlicer_TimeRangeMissingSource(t *testing.T) {
	s := &Slicer{Dir: t.TempDir()}
	_, _, err := s.TimeRange(context.Background(), filepath.Join(t.TempDir(), "none.pcap"), t0, t0.Add(time.Hour))
	assert.Error(t, err)
}

func TestParseRange(t *testing.T) {
	b, e, err := ParseRange("2024-10-09T03:00:00", "2024-10-09T04:30:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 10, 9, 3, 0, 0, 0, time.UTC), b)
	assert.Equal(t, 90*time.Minute, e.Sub(b))

	for _, tc := range [][2]string{
		{"2024-10-09 03:00:00", "2024-10-09T04:00:00"},
		{"2024-10-09T03:00:00", "04:00"},
		{"2024-10-09T04:00:00", "2024-10-09T04:00:00"},
	} {
		_, _, err := ParseRange(tc[0], tc[1])
		assert.Error(t, err, "%s..%s", tc[0], tc[1])
	}
}
