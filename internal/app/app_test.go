package app

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

	"github.com/alanyoungcy/cfebook/internal/capture"
	"github.com/alanyoungcy/cfebook/internal/config"
	"github.com/alanyoungcy/cfebook/internal/feed/feedtest"
	"github.com/alanyoungcy/cfebook/internal/notify"
)

const midnight = 1728432000 // 2024-10-09 00:00:00 UTC

func writeCapture(t *testing.T, path string, units ...[]byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	pw := pcapgo.NewWriter(f)
	require.NoError(t, pw.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for i, u := range units {
		frame := feedtest.Frame(u)
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(midnight, 0).Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		require.NoError(t, pw.WritePacket(ci, frame))
	}
}

func testConfig(t *testing.T, mode string, files ...string) *config.Config {
	cfg := config.Defaults()
	cfg.Mode = mode
	cfg.Input.Files = files
	cfg.Replay.Workers = 2
	cfg.Replay.OutputDir = t.TempDir()
	return &cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func goodUnits() [][]byte {
	return [][]byte{
		feedtest.Unit(1, 1,
			feedtest.TimeReference(midnight, 20241009),
			feedtest.Time(13250, midnight+13250),
			feedtest.Instrument("01AAAA", "VX", 20241016, 1000, 500),
		),
		feedtest.Unit(1, 5,
			feedtest.AddShort(100, 1, 'B', 10, "01AAAA", 1525),
		),
	}
}

func TestParseShowBook(t *testing.T) {
	tests := []struct {
		in      string
		symbol  string
		at      string
		wantErr bool
	}{
		{in: "VXV4,2024-10-09,03:40:50.092210000", symbol: "VXV4", at: "2024-10-09 03:40:50.092210000"},
		{in: " VXV4 , 2024-10-09 , 03:40:50.000000000", symbol: "VXV4", at: "2024-10-09 03:40:50.000000000"},
		{in: "VXV4,2024-10-09", wantErr: true},
		{in: "VXV4,,03:40:50.000000000", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			symbol, at, err := ParseShowBook(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.symbol, symbol)
			assert.Equal(t, tt.at, at)
		})
	}
}

func TestDependencies_Sinks(t *testing.T) {
	var empty Dependencies
	s := empty.Sinks()
	assert.Empty(t, s.Publishers)
	assert.Nil(t, s.Runs)
	assert.Nil(t, s.Gaps)
	assert.Nil(t, s.Uploader)
	assert.Nil(t, s.Notifier)
	assert.Nil(t, s.Bus)

	// A notifier without senders has nothing to report to.
	d := Dependencies{Notifier: notify.NewNotifier(nil, nil, quietLogger())}
	assert.Nil(t, d.Sinks().Notifier)
}

func TestNeedsSinks(t *testing.T) {
	for _, mode := range []string{"replay", "full", "serve"} {
		assert.True(t, needsSinks(mode), mode)
	}
	for _, mode := range []string{"gaps", "summary", "slice"} {
		assert.False(t, needsSinks(mode), mode)
	}
}

func TestRun_GapsMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "day.pcap")
	writeCapture(t, path, goodUnits()...)

	var out bytes.Buffer
	a := New(testConfig(t, "gaps", path), Options{Out: &out}, quietLogger())
	defer a.Close()

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, "Packet gap(s) detected:\nExpected packet sequence number: 4 | Actual: 5\n", out.String())
}

func TestRun_SummaryMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "day.pcap")
	writeCapture(t, path, goodUnits()...)

	var out bytes.Buffer
	a := New(testConfig(t, "summary", path), Options{Out: &out}, quietLogger())
	defer a.Close()

	require.NoError(t, a.Run(context.Background()))
	assert.Contains(t, out.String(), "Date: 2024-10-09")
}

func TestRun_ReplayWritesReports(t *testing.T) {
	path := filepath.Join(t.TempDir(), "day.pcap")
	writeCapture(t, path, goodUnits()...)

	var out bytes.Buffer
	cfg := testConfig(t, "replay", path)
	a := New(cfg, Options{Out: &out, Gaps: true}, quietLogger())
	defer a.Close()

	require.NoError(t, a.Run(context.Background()))
	report := out.String()
	assert.Contains(t, report, "Session day (completed): packets 2, messages 4, bbo changes 1, gaps 1")
	assert.Contains(t, report, "Expected packet sequence number: 4 | Actual: 5")
	assert.FileExists(t, filepath.Join(cfg.Replay.OutputDir, "day", "manifest.json"))
}

func TestRun_ReplayReportsFailedSessions(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.pcap")
	bad := filepath.Join(dir, "bad.pcap")
	writeCapture(t, good, goodUnits()...)
	writeCapture(t, bad, feedtest.Unit(1, 1, feedtest.Other(0x7F, 4)))

	var out bytes.Buffer
	a := New(testConfig(t, "replay", good, bad), Options{Out: &out}, quietLogger())
	defer a.Close()

	err := a.Run(context.Background())
	require.ErrorIs(t, err, ErrSessionsFailed)
	assert.Contains(t, out.String(), "Session good (completed)")
	assert.Contains(t, out.String(), "Session bad (failed)")
}

func TestRun_SliceTimeRange(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "week.pcap")
	writeCapture(t, src, goodUnits()...)

	cfg := testConfig(t, "slice")
	cfg.Input.SliceSource = src
	cfg.Input.SliceDir = filepath.Join(dir, "sliced")
	cfg.Input.SliceBegin = "2024-10-09T00:00:00"
	cfg.Input.SliceEnd = "2024-10-09T00:00:01"

	var out bytes.Buffer
	a := New(cfg, Options{Out: &out}, quietLogger())
	defer a.Close()
	require.NoError(t, a.Run(context.Background()))

	want := filepath.Join(cfg.Input.SliceDir, "20241009T000000_20241009T000001.pcap")
	assert.Equal(t, want+"\n", out.String())

	r, err := capture.Open(want, 0)
	require.NoError(t, err)
	defer r.Close()
	for {
		if _, _, err := r.Next(); err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
	}
	assert.Equal(t, uint64(2), r.Packets())
}

func TestRun_UnsupportedMode(t *testing.T) {
	a := New(testConfig(t, "bogus"), Options{Out: io.Discard}, quietLogger())
	defer a.Close()
	assert.ErrorContains(t, a.Run(context.Background()), "unsupported mode")
}
