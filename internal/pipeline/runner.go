package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cfebook/internal/book"
	"github.com/alanyoungcy/cfebook/internal/capture"
	"github.com/alanyoungcy/cfebook/internal/domain"
	"github.com/alanyoungcy/cfebook/internal/export"
	"github.com/alanyoungcy/cfebook/internal/feed"
	"github.com/alanyoungcy/cfebook/internal/metrics"
	"github.com/alanyoungcy/cfebook/internal/notify"
)

// finishTimeout bounds the post-session ledger, upload and notify calls,
// which run even when the replay itself was cancelled.
const finishTimeout = 30 * time.Second

// Publisher is a named live sink. Each session wraps it in its own
// export.Async queue.
type Publisher struct {
	Name string
	Pub  domain.Publisher
}

// Uploader ships session artifacts to object storage.
type Uploader interface {
	Upload(ctx context.Context, runID, session string, artifacts []domain.Artifact) ([]string, error)
}

// Notifier receives the report of every finished session.
type Notifier interface {
	SessionFinished(ctx context.Context, r notify.Report) error
}

// Sinks are the optional destinations of a run. Nil fields are skipped.
type Sinks struct {
	Publishers []Publisher
	Runs       domain.RunStore
	Gaps       domain.GapStore
	Uploader   Uploader
	Notifier   Notifier
	Bus        domain.SignalBus
}

// Options configure every session of a run.
type Options struct {
	RunID         string
	Workers       int
	Unit          uint8
	PayloadOffset int
	EmitBBO       bool
	OutputDir     string
	Binary        bool
	ChannelPrefix string
	ShowBook      *export.ShowBook
	Async         export.AsyncOptions
}

// Runner replays sessions concurrently. Sessions share nothing but the
// sinks; a failure in one never stops another.
type Runner struct {
	opts     Options
	sinks    Sinks
	registry *Registry
	logger   *slog.Logger
}

// NewRunner creates a runner. A missing run id is generated; registry may be
// nil.
func NewRunner(opts Options, sinks Sinks, registry *Registry, logger *slog.Logger) *Runner {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		opts:     opts,
		sinks:    sinks,
		registry: registry,
		logger:   logger.With(slog.String("component", "pipeline"), slog.String("run_id", opts.RunID)),
	}
}

// RunID identifies this run in the ledger and artifact keys.
func (r *Runner) RunID() string { return r.opts.RunID }

// Registry exposes live session results.
func (r *Runner) Registry() *Registry { return r.registry }

// Run replays sessions with at most Workers in flight and returns their
// results in input order. The error is non-nil only if ctx ended the run.
func (r *Runner) Run(ctx context.Context, sessions []Session) ([]Result, error) {
	r.logger.Info("pipeline: run starting",
		slog.Int("sessions", len(sessions)),
		slog.Int("workers", r.opts.Workers),
	)

	results := make([]Result, len(sessions))
	var g errgroup.Group
	g.SetLimit(r.opts.Workers)

	for i, s := range sessions {
		g.Go(func() error {
			results[i] = r.runSession(ctx, s)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, res := range results {
		if res.Failed() {
			failed++
		}
	}
	r.logger.Info("pipeline: run finished",
		slog.Int("sessions", len(sessions)),
		slog.Int("failed", failed),
	)
	return results, ctx.Err()
}

func (r *Runner) runSession(ctx context.Context, s Session) Result {
	res := Result{
		RunID:     r.opts.RunID,
		Session:   s.Name,
		Source:    s.Path,
		Status:    domain.SessionRunning,
		StartedAt: time.Now().UTC(),
	}
	log := r.logger.With(slog.String("session", s.Name))
	r.registry.Put(res)
	r.signal(ctx, "session_started", res)
	log.Info("pipeline: session starting", slog.String("path", s.Path))

	err := r.replay(ctx, s, &res, log)
	res.FinishedAt = time.Now().UTC()
	switch {
	case err == nil:
		res.Status = domain.SessionCompleted
	case errors.Is(err, context.Canceled):
		res.Status = domain.SessionCancelled
	default:
		res.Status = domain.SessionFailed
	}
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		res.Integrity = domain.IsIntegrity(err)
	}

	metrics.ObserveSession(string(res.Status), res.Elapsed())
	metrics.AddGaps(len(res.Gaps))

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	r.finish(fctx, &res, log)

	r.registry.Put(res)
	r.signal(fctx, "session_finished", res)

	attrs := []any{
		slog.String("status", string(res.Status)),
		slog.Uint64("packets", res.Packets),
		slog.Uint64("messages", res.Messages),
		slog.Uint64("bbo_changes", res.Changes),
		slog.Int("gaps", len(res.Gaps)),
		slog.Duration("elapsed", res.Elapsed()),
	}
	if res.Truncated {
		attrs = append(attrs, slog.Bool("truncated", true))
	}
	if err != nil {
		log.Error("pipeline: session failed", append(attrs,
			slog.Bool("integrity", res.Integrity),
			slog.String("error", err.Error()),
		)...)
	} else {
		log.Info("pipeline: session completed", attrs...)
	}
	return res
}

// replay drives one capture through a private store, manager and
// dispatcher. Writers are always closed so partial output is kept.
func (r *Runner) replay(ctx context.Context, s Session, res *Result, log *slog.Logger) (err error) {
	src, err := capture.Open(s.Path, r.opts.PayloadOffset)
	if err != nil {
		return err
	}
	defer src.Close()
	src.SetLogger(log)

	dir := filepath.Join(r.opts.OutputDir, s.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pipeline: output dir: %w", err)
	}

	var out export.Fanout
	rec := export.NewRecorder(s.Name, &out, log)
	w, err := r.openWriters(dir, s.Name, rec, log)
	if err != nil {
		return err
	}
	out = w.fanout

	m := book.NewManager(book.NewStore(), rec, book.Config{EmitBBO: r.opts.EmitBBO})
	d := feed.NewDispatcher(m, rec, feed.Config{Session: s.Name, Unit: r.opts.Unit})
	if r.opts.ShowBook != nil {
		rec.ShowBookAt(*r.opts.ShowBook, m)
	}

	defer func() {
		res.Packets = src.Packets()
		res.Truncated = src.Truncated()
		res.Messages = d.Stats().Messages
		res.Changes = rec.Changes()
		res.Gaps = d.Gaps()
		res.Summary = d.Summary()
		for t, n := range d.Summary().ByType() {
			metrics.AddMessages(t.String(), n)
		}

		arts, cerr := w.close(res.RunID, s)
		res.Artifacts = arts
		if err == nil {
			err = cerr
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, _, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := d.HandleUnit(payload); err != nil {
			return err
		}
		rec.AfterUnit()
	}
	if err := rec.Err(); err != nil {
		return fmt.Errorf("pipeline: export: %w", err)
	}
	return nil
}

// sessionWriters are the per-session export destinations.
type sessionWriters struct {
	dir    string
	csv    *export.CSVWriter
	bin    *export.BinaryWriter
	queues []*export.Async
	fanout export.Fanout
}

func (r *Runner) openWriters(dir, session string, rec *export.Recorder, log *slog.Logger) (*sessionWriters, error) {
	w := &sessionWriters{dir: dir}
	if !r.opts.EmitBBO {
		return w, nil
	}

	csv, err := export.NewCSVWriter(dir, session, rec.Clock())
	if err != nil {
		return nil, err
	}
	w.csv = csv
	w.fanout = append(w.fanout, csv)

	if r.opts.Binary {
		bin, err := export.NewBinaryWriter(dir, session)
		if err != nil {
			csv.Close()
			return nil, err
		}
		w.bin = bin
		w.fanout = append(w.fanout, bin)
	}

	for _, p := range r.sinks.Publishers {
		q := export.NewAsync(p.Name, p.Pub, r.opts.Async, log)
		w.queues = append(w.queues, q)
		w.fanout = append(w.fanout, q)
	}
	return w, nil
}

// close drains the publishers, closes the files and writes the manifest.
// It returns the artifacts written, manifest last.
func (w *sessionWriters) close(runID string, s Session) ([]domain.Artifact, error) {
	var errs []error
	for _, q := range w.queues {
		errs = append(errs, q.Close())
	}

	m := export.Manifest{RunID: runID, Session: s.Name, Source: s.Path, CreatedAt: time.Now().UTC()}
	if w.csv != nil {
		if err := w.csv.Close(); err != nil {
			errs = append(errs, err)
		} else if _, err := m.Add(w.csv.Path()); err != nil {
			errs = append(errs, err)
		}
	}
	if w.bin != nil {
		if err := w.bin.Close(); err != nil {
			errs = append(errs, err)
		} else if _, err := m.Add(w.bin.Path()); err != nil {
			errs = append(errs, err)
		}
	}

	arts := m.Artifacts
	path, err := m.WriteFile(w.dir)
	if err != nil {
		errs = append(errs, err)
	} else {
		size, sum, err := export.Digest(path)
		if err != nil {
			errs = append(errs, err)
		} else {
			arts = append(arts, domain.Artifact{Name: export.ManifestName, Path: path, Size: size, Digest: sum})
		}
	}
	return arts, errors.Join(errs...)
}

// finish hands the result to the ledger, object storage and notifier. Sink
// failures are logged and never change the session status.
func (r *Runner) finish(ctx context.Context, res *Result, log *slog.Logger) {
	if r.sinks.Runs != nil {
		if err := r.sinks.Runs.Record(ctx, res.record()); err != nil {
			log.Warn("pipeline: record run failed", slog.String("error", err.Error()))
		}
	}
	if r.sinks.Gaps != nil && len(res.Gaps) > 0 {
		if err := r.sinks.Gaps.InsertBatch(ctx, res.RunID, res.Session, res.Gaps); err != nil {
			log.Warn("pipeline: record gaps failed", slog.String("error", err.Error()))
		}
	}
	if r.sinks.Uploader != nil && len(res.Artifacts) > 0 {
		keys, err := r.sinks.Uploader.Upload(ctx, res.RunID, res.Session, res.Artifacts)
		res.Uploaded = keys
		if err != nil {
			log.Warn("pipeline: upload failed", slog.String("error", err.Error()))
		}
	}
	if r.sinks.Notifier != nil {
		report := notify.Report{
			RunID:    res.RunID,
			Session:  res.Session,
			Status:   string(res.Status),
			Packets:  res.Packets,
			Messages: res.Messages,
			Changes:  res.Changes,
			Gaps:     len(res.Gaps),
			Elapsed:  res.Elapsed(),
			Err:      res.Err,
		}
		if err := r.sinks.Notifier.SessionFinished(ctx, report); err != nil {
			log.Warn("pipeline: notify failed", slog.String("error", err.Error()))
		}
	}
}

// SessionEvent is published on the signal bus when a session starts and
// finishes.
type SessionEvent struct {
	Event   string               `json:"event"`
	RunID   string               `json:"run_id"`
	Session string               `json:"session"`
	Status  domain.SessionStatus `json:"status"`
	Gaps    int                  `json:"gaps"`
	Error   string               `json:"error,omitempty"`
}

// SessionChannel is the signal bus channel for session's events.
func SessionChannel(prefix, session string) string {
	return prefix + ":session:" + session
}

func (r *Runner) signal(ctx context.Context, event string, res Result) {
	if r.sinks.Bus == nil {
		return
	}
	payload, err := json.Marshal(SessionEvent{
		Event:   event,
		RunID:   res.RunID,
		Session: res.Session,
		Status:  res.Status,
		Gaps:    len(res.Gaps),
		Error:   res.Error,
	})
	if err != nil {
		return
	}
	if err := r.sinks.Bus.Publish(ctx, SessionChannel(r.opts.ChannelPrefix, res.Session), payload); err != nil {
		r.logger.Warn("pipeline: publish session event failed",
			slog.String("session", res.Session),
			slog.String("error", err.Error()),
		)
	}
}
