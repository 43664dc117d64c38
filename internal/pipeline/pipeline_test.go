package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/alanyoungcy/cfebook/internal/domain"
	"github.com/alanyoungcy/cfebook/internal/export"
	"github.com/alanyoungcy/cfebook/internal/feed/feedtest"
	"github.com/alanyoungcy/cfebook/internal/notify"
)

const midnight = 1728432000 // 2024-10-09 00:00:00 UTC

func writeCapture(path string, units ...[]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	pw := pcapgo.NewWriter(f)
	if err := pw.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		return err
	}
	ts := time.Unix(midnight, 0)
	for i, u := range units {
		frame := feedtest.Frame(u)
		ci := gopacket.CaptureInfo{Timestamp: ts.Add(time.Duration(i) * time.Millisecond), CaptureLength: len(frame), Length: len(frame)}
		if err := pw.WritePacket(ci, frame); err != nil {
			return err
		}
	}
	return nil
}

func sessionFile(t *testing.T, dir, name string, units ...[]byte) Session {
	t.Helper()
	path := filepath.Join(dir, name+".pcap")
	require.NoError(t, writeCapture(path, units...))
	return Session{Name: name, Path: path}
}

func dayUnits() [][]byte {
	return [][]byte{
		feedtest.Unit(1, 1,
			feedtest.TimeReference(midnight, 20241009),
			feedtest.Time(13250, midnight+13250),
			feedtest.Instrument("01AAAA", "VX", 20241016, 1000, 500),
		),
		feedtest.Unit(1, 4,
			feedtest.Status("01AAAA", 'T'),
			feedtest.AddShort(92210000, 1, 'B', 10, "01AAAA", 1525),
		),
		feedtest.Unit(1, 6,
			feedtest.AddShort(100, 2, 'S', 3, "01AAAA", 1530),
			feedtest.Delete(200, 1),
		),
	}
}

type memPublisher struct {
	mu      sync.Mutex
	updates []domain.BBOUpdate
	err     error
}

func (p *memPublisher) Publish(_ context.Context, updates []domain.BBOUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, updates...)
	return p.err
}

type memSinks struct {
	mu       sync.Mutex
	runs     []domain.RunRecord
	gaps     map[string][]domain.Gap
	uploads  map[string][]domain.Artifact
	reports  []notify.Report
	channels []string
	events   []SessionEvent
}

func newMemSinks() *memSinks {
	return &memSinks{gaps: map[string][]domain.Gap{}, uploads: map[string][]domain.Artifact{}}
}

func (m *memSinks) Record(_ context.Context, rec domain.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, rec)
	return nil
}

func (m *memSinks) InsertBatch(_ context.Context, _, session string, gaps []domain.Gap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gaps[session] = append(m.gaps[session], gaps...)
	return nil
}

func (m *memSinks) Upload(_ context.Context, runID, session string, arts []domain.Artifact) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[session] = arts
	keys := make([]string, 0, len(arts))
	for _, a := range arts {
		keys = append(keys, runID+"/"+session+"/"+a.Name)
	}
	return keys, nil
}

func (m *memSinks) SessionFinished(_ context.Context, r notify.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return nil
}

func (m *memSinks) Publish(_ context.Context, channel string, payload []byte) error {
	var ev SessionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, channel)
	m.events = append(m.events, ev)
	return nil
}

func (m *memSinks) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (m *memSinks) sinks(pubs ...Publisher) Sinks {
	return Sinks{Publishers: pubs, Runs: m, Gaps: m, Uploader: m, Notifier: m, Bus: m}
}

func TestRunner_ReplaysSession(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	s := sessionFile(t, in, "day1", dayUnits()...)

	pub := &memPublisher{}
	ms := newMemSinks()
	reg := NewRegistry()
	r := NewRunner(Options{RunID: "run-1", Workers: 2, EmitBBO: true, Binary: true, OutputDir: out, ChannelPrefix: "cfe"},
		ms.sinks(Publisher{Name: "mem", Pub: pub}), reg, nil)

	results, err := r.Run(context.Background(), []Session{s})
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	require.NoError(t, res.Err)
	assert.Equal(t, domain.SessionCompleted, res.Status)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, uint64(3), res.Packets)
	assert.Equal(t, uint64(7), res.Messages)
	assert.Equal(t, uint64(3), res.Changes)
	assert.Empty(t, res.Gaps)
	assert.Equal(t, uint64(2), res.Summary.CountFor("20241009", 0x22))

	csvPath := filepath.Join(out, "day1", "bbo-2024-10-09.csv")
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "2024-10-09 03:40:50.092210000,4,5,A,VXV4,15.25,10,0,0,T", lines[1])

	var names []string
	for _, a := range res.Artifacts {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"bbo-2024-10-09.csv", "bbo-day1.bin", export.ManifestName}, names)
	assert.Len(t, res.Uploaded, 3)

	assert.Len(t, pub.updates, 3)
	assert.Equal(t, "VXV4", pub.updates[0].Symbol)

	require.Len(t, ms.runs, 1)
	assert.Equal(t, domain.SessionCompleted, ms.runs[0].Status)
	assert.Equal(t, uint64(3), ms.runs[0].BBOChanges)
	require.Len(t, ms.reports, 1)
	assert.Equal(t, "completed", ms.reports[0].Status)
	assert.Equal(t, []string{"cfe:session:day1", "cfe:session:day1"}, ms.channels)
	assert.Equal(t, "session_started", ms.events[0].Event)
	assert.Equal(t, domain.SessionCompleted, ms.events[1].Status)

	got, ok := reg.Get("day1")
	require.True(t, ok)
	assert.Equal(t, domain.SessionCompleted, got.Status)
}

func TestRunner_FailureIsolatesSessions(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	good := sessionFile(t, in, "good", dayUnits()...)
	bad := sessionFile(t, in, "bad",
		feedtest.Unit(1, 1, feedtest.TimeReference(midnight, 20241009)),
		feedtest.Unit(1, 10, feedtest.Other(0x7F, 4)),
	)

	ms := newMemSinks()
	r := NewRunner(Options{Workers: 2, EmitBBO: true, OutputDir: out}, ms.sinks(), nil, nil)
	results, err := r.Run(context.Background(), []Session{bad, good})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, domain.SessionFailed, results[0].Status)
	assert.True(t, results[0].Failed())
	assert.ErrorIs(t, results[0].Err, domain.ErrUnrecognizedEvent)
	assert.False(t, results[0].Integrity, "an unknown message type is a feed problem, not a book divergence")
	var se *domain.SessionError
	require.ErrorAs(t, results[0].Err, &se)
	assert.Equal(t, "bad", se.Session)
	assert.Equal(t, []domain.Gap{{Expected: 2, Actual: 10}}, results[0].Gaps)
	assert.Equal(t, []domain.Gap{{Expected: 2, Actual: 10}}, ms.gaps["bad"])

	assert.Equal(t, domain.SessionCompleted, results[1].Status)
	assert.Equal(t, uint64(3), results[1].Changes)
	assert.NotEmpty(t, r.RunID())
	assert.Len(t, r.Registry().List(), 2)
}

func TestRunner_IntegrityFailure(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	s := sessionFile(t, in, "diverged",
		feedtest.Unit(1, 1,
			feedtest.TimeReference(midnight, 20241009),
			feedtest.Instrument("01AAAA", "VX", 20241016, 1000, 500),
		),
		feedtest.Unit(1, 3, feedtest.Delete(100, 99)),
	)

	r := NewRunner(Options{EmitBBO: true, OutputDir: out}, Sinks{}, nil, nil)
	results, err := r.Run(context.Background(), []Session{s})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.SessionFailed, results[0].Status)
	assert.ErrorIs(t, results[0].Err, domain.ErrNotFound)
	assert.True(t, results[0].Integrity)
}

func TestRunner_TruncatedCaptureCompletes(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	s := sessionFile(t, in, "cut", dayUnits()...)
	info, err := os.Stat(s.Path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(s.Path, info.Size()-4))

	r := NewRunner(Options{EmitBBO: true, OutputDir: out}, Sinks{}, nil, nil)
	results, err := r.Run(context.Background(), []Session{s})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.SessionCompleted, results[0].Status)
	assert.True(t, results[0].Truncated)
	assert.Equal(t, uint64(2), results[0].Packets)
}

func TestRunner_CancelledContext(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	s := sessionFile(t, in, "day1", dayUnits()...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ms := newMemSinks()
	results, err := NewRunner(Options{EmitBBO: true, OutputDir: out}, ms.sinks(), nil, nil).Run(ctx, []Session{s})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.SessionCancelled, results[0].Status)
	require.Len(t, ms.runs, 1)
	assert.Equal(t, domain.SessionCancelled, ms.runs[0].Status)
}

func TestRunner_MissingCapture(t *testing.T) {
	r := NewRunner(Options{OutputDir: t.TempDir()}, Sinks{}, nil, nil)
	results, err := r.Run(context.Background(), []Session{{Name: "gone", Path: filepath.Join(t.TempDir(), "gone.pcap")}})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "gone.pcap")
}

func TestRunner_PublisherErrorsAreNotFatal(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	s := sessionFile(t, in, "day1", dayUnits()...)

	pub := &memPublisher{err: errors.New("broker down")}
	r := NewRunner(Options{EmitBBO: true, OutputDir: out}, Sinks{Publishers: []Publisher{{Name: "flaky", Pub: pub}}}, nil, nil)
	results, err := r.Run(context.Background(), []Session{s})
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, results[0].Status)
}

func TestRegistryOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Put(Result{Session: "b", Status: domain.SessionRunning})
	reg.Put(Result{Session: "a", Status: domain.SessionRunning})
	reg.Put(Result{Session: "b", Status: domain.SessionCompleted})

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].Session)
	assert.Equal(t, domain.SessionCompleted, list[0].Status)
	_, ok := reg.Get("c")
	assert.False(t, ok)
}

func TestSessionsFromPaths(t *testing.T) {
	got := SessionsFromPaths([]string{"/data/day1.pcap", "day2.pcapng"})
	assert.Equal(t, []Session{{Name: "day1", Path: "/data/day1.pcap"}, {Name: "day2", Path: "day2.pcapng"}}, got)
}

// genSession draws a random but valid session: one instrument, then adds
// and deletes of live orders spread over several units.
func genSession(t *rapid.T, label string) [][]byte {
	units := [][]byte{feedtest.Unit(1, 1,
		feedtest.TimeReference(midnight, 20241009),
		feedtest.Instrument("01AAAA", "VX", 20241016, 1000, 500),
	)}
	seq := uint32(3)
	var live []uint64
	next := uint64(1)

	n := rapid.IntRange(1, 20).Draw(t, label+"_units")
	for range n {
		var msgs [][]byte
		k := rapid.IntRange(1, 4).Draw(t, label+"_msgs")
		for range k {
			if len(live) > 0 && rapid.Bool().Draw(t, label+"_delete") {
				i := rapid.IntRange(0, len(live)-1).Draw(t, label+"_victim")
				msgs = append(msgs, feedtest.Delete(0, live[i]))
				live = append(live[:i], live[i+1:]...)
				continue
			}
			side := rapid.SampledFrom([]byte{'B', 'S'}).Draw(t, label+"_side")
			price := int16(rapid.IntRange(1500, 1520).Draw(t, label+"_price"))
			if side == 'S' {
				price += 30
			}
			qty := uint16(rapid.IntRange(1, 50).Draw(t, label+"_qty"))
			msgs = append(msgs, feedtest.AddShort(0, next, side, qty, "01AAAA", price))
			live = append(live, next)
			next++
		}
		units = append(units, feedtest.Unit(1, seq, msgs...))
		seq += uint32(len(msgs))
	}
	return units
}

func readTree(dir string) (map[string]string, error) {
	out := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Name() == export.ManifestName {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		out[rel] = string(data)
		return nil
	})
	return out, err
}

func TestRunner_NoCrossSessionInterference(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		root, err := os.MkdirTemp("", "cfebook-prop-")
		if err != nil {
			rt.Fatalf("tempdir: %v", err)
		}
		defer os.RemoveAll(root)

		count := rapid.IntRange(2, 4).Draw(rt, "sessions")
		var sessions []Session
		for i := range count {
			name := fmt.Sprintf("s%d", i)
			path := filepath.Join(root, name+".pcap")
			if err := writeCapture(path, genSession(rt, name)...); err != nil {
				rt.Fatalf("write capture: %v", err)
			}
			sessions = append(sessions, Session{Name: name, Path: path})
		}

		together := filepath.Join(root, "together")
		results, err := NewRunner(Options{Workers: count, EmitBBO: true, OutputDir: together}, Sinks{}, nil, nil).
			Run(context.Background(), sessions)
		if err != nil {
			rt.Fatalf("run: %v", err)
		}
		combined, err := readTree(together)
		if err != nil {
			rt.Fatalf("read: %v", err)
		}

		alone := map[string]string{}
		for i, s := range sessions {
			dir := filepath.Join(root, "alone", s.Name)
			single, err := NewRunner(Options{Workers: 1, EmitBBO: true, OutputDir: dir}, Sinks{}, nil, nil).
				Run(context.Background(), []Session{s})
			if err != nil {
				rt.Fatalf("run %s: %v", s.Name, err)
			}
			if single[0].Changes != results[i].Changes || single[0].Status != results[i].Status {
				rt.Fatalf("session %s: alone %+v, together %+v", s.Name, single[0], results[i])
			}
			files, err := readTree(dir)
			if err != nil {
				rt.Fatalf("read: %v", err)
			}
			for k, v := range files {
				alone[k] = v
			}
		}

		keys := make([]string, 0, len(combined))
		for k := range combined {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(combined) != len(alone) {
			rt.Fatalf("files: together %v, alone %d", keys, len(alone))
		}
		for _, k := range keys {
			if !bytes.Equal([]byte(combined[k]), []byte(alone[k])) {
				rt.Fatalf("%s differs between concurrent and isolated replay", k)
			}
		}
	})
}
