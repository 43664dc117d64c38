// Package pipeline replays capture sessions into books and hands the derived
// BBO stream to the export writers and publishers.
package pipeline

import (
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/cfebook/internal/domain"
	"github.com/alanyoungcy/cfebook/internal/feed"
)

// Session is one capture file replayed against a fresh set of books.
type Session struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// SessionsFromPaths names each path after its file name without extension.
func SessionsFromPaths(paths []string) []Session {
	out := make([]Session, 0, len(paths))
	for _, p := range paths {
		base := filepath.Base(p)
		out = append(out, Session{Name: strings.TrimSuffix(base, filepath.Ext(base)), Path: p})
	}
	return out
}

// Result is the outcome of one session.
type Result struct {
	RunID      string               `json:"run_id"`
	Session    string               `json:"session"`
	Source     string               `json:"source"`
	Status     domain.SessionStatus `json:"status"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at,omitzero"`
	Packets    uint64               `json:"packets"`
	Messages   uint64               `json:"messages"`
	Changes    uint64               `json:"bbo_changes"`
	Gaps       []domain.Gap         `json:"gaps"`
	Artifacts  []domain.Artifact    `json:"artifacts,omitempty"`
	Uploaded   []string             `json:"uploaded,omitempty"`
	Error      string               `json:"error,omitempty"`
	// Integrity is set when the failure means the book diverged from the
	// exchange, as opposed to a malformed or unsupported feed.
	Integrity bool `json:"integrity_failure,omitempty"`
	// Truncated is set when the capture ended inside a packet record.
	Truncated bool `json:"truncated,omitempty"`

	Summary *feed.Summary `json:"-"`
	Err     error         `json:"-"`
}

// Failed reports whether the session ended in error.
func (r Result) Failed() bool { return r.Status == domain.SessionFailed }

// Elapsed is the wall time the session took, or has taken so far.
func (r Result) Elapsed() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r Result) record() domain.RunRecord {
	return domain.RunRecord{
		RunID:      r.RunID,
		Session:    r.Session,
		Source:     r.Source,
		Status:     r.Status,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Packets:    r.Packets,
		Messages:   r.Messages,
		BBOChanges: r.Changes,
		Gaps:       len(r.Gaps),
		Error:      r.Error,
	}
}

// Registry holds the latest result of every session seen by a runner. It is
// safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	results map[string]Result
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{results: make(map[string]Result)}
}

// Put stores res under its session name, keeping first-seen order.
func (r *Registry) Put(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.results[res.Session]; !ok {
		r.order = append(r.order, res.Session)
	}
	r.results[res.Session] = res
}

// Get returns the result for session.
func (r *Registry) Get(session string) (Result, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.results[session]
	return res, ok
}

// List returns every result in first-seen order.
func (r *Registry) List() []Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Result, 0, len(r.order))
	for _, name := range r.order {
		res := r.results[name]
		res.Gaps = slices.Clone(res.Gaps)
		out = append(out, res)
	}
	return out
}
