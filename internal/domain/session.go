package domain

import (
	"context"
	"time"
)

// Gap is a discontinuity in the transport-unit sequence.
type Gap struct {
	Expected uint32 `json:"expected"`
	Actual   uint32 `json:"actual"`
}

// SessionStatus is the terminal state of a session run.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// Artifact is a file produced by a session.
type Artifact struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Digest string `json:"blake2b"`
}

// RunRecord is the persisted outcome of one session in one run.
type RunRecord struct {
	RunID      string
	Session    string
	Source     string
	Status     SessionStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Packets    uint64
	Messages   uint64
	BBOChanges uint64
	Gaps       int
	Error      string
}

// RunStore persists run outcomes.
type RunStore interface {
	Record(ctx context.Context, rec RunRecord) error
}

// GapStore persists detected gaps.
type GapStore interface {
	InsertBatch(ctx context.Context, runID, session string, gaps []Gap) error
}
