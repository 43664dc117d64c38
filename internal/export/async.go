package export

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/cfebook/internal/domain"
	"github.com/alanyoungcy/cfebook/internal/metrics"
)

const (
	defaultQueueSize  = 4096
	defaultBatchSize  = 256
	defaultFlushEvery = 250 * time.Millisecond
	publishTimeout    = 10 * time.Second
)

var ErrClosed = errors.New("async publisher closed")

// AsyncOptions tune an Async publisher. Zero values take defaults.
type AsyncOptions struct {
	QueueSize  int
	BatchSize  int
	FlushEvery time.Duration
}

// Async moves updates off the session goroutine onto a Publisher. Updates
// are batched and flushed on size, on a timer, and on Close. A failed batch
// is counted and logged; it never fails the session. Write and Close belong
// to the session goroutine. Publishers must not retain the batch slice.
type Async struct {
	name   string
	pub    domain.Publisher
	opts   AsyncOptions
	ch     chan domain.BBOUpdate
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once
	closed    atomic.Bool
	published atomic.Uint64
	failed    atomic.Uint64
}

// NewAsync starts a publisher goroutine named name. It runs until Close.
func NewAsync(name string, pub domain.Publisher, opts AsyncOptions, logger *slog.Logger) *Async {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = defaultFlushEvery
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		name:   name,
		pub:    pub,
		opts:   opts,
		ch:     make(chan domain.BBOUpdate, opts.QueueSize),
		done:   make(chan struct{}),
		logger: logger.With(slog.String("component", "async"), slog.String("sink", name)),
	}
	go a.run()
	return a
}

// Write queues u, blocking while the queue is full.
func (a *Async) Write(u domain.BBOUpdate) error {
	if a.closed.Load() {
		return ErrClosed
	}
	a.ch <- u
	return nil
}

// Close flushes everything queued and stops the goroutine.
func (a *Async) Close() error {
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		close(a.ch)
	})
	<-a.done
	return nil
}

// Published returns the number of updates delivered.
func (a *Async) Published() uint64 { return a.published.Load() }

// Failed returns the number of updates in failed batches.
func (a *Async) Failed() uint64 { return a.failed.Load() }

func (a *Async) run() {
	defer close(a.done)

	ticker := time.NewTicker(a.opts.FlushEvery)
	defer ticker.Stop()

	batch := make([]domain.BBOUpdate, 0, a.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := a.pub.Publish(ctx, batch)
		cancel()
		if err != nil {
			a.failed.Add(uint64(len(batch)))
			metrics.IncPublishError(a.name)
			a.logger.Warn("async: publish failed",
				slog.Int("batch", len(batch)),
				slog.String("error", err.Error()),
			)
		} else {
			a.published.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case u, ok := <-a.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, u)
			if len(batch) >= a.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
