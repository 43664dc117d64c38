package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cfebook/internal/capture"
	"github.com/alanyoungcy/cfebook/internal/export"
	"github.com/alanyoungcy/cfebook/internal/feed"
	"github.com/alanyoungcy/cfebook/internal/metrics"
	"github.com/alanyoungcy/cfebook/internal/pipeline"
	"github.com/alanyoungcy/cfebook/internal/server"
	"github.com/alanyoungcy/cfebook/internal/server/handler"
	"github.com/alanyoungcy/cfebook/internal/server/ws"
)

// GapsMode prints the packet gap report of every input capture.
func (a *App) GapsMode(ctx context.Context) error {
	return a.scanInputs(ctx, func(res feed.ScanResult) error {
		return feed.WriteGaps(a.opts.Out, res.Gaps)
	})
}

// SummaryMode prints the message summary of every input capture.
func (a *App) SummaryMode(ctx context.Context) error {
	return a.scanInputs(ctx, func(res feed.ScanResult) error {
		return feed.WriteSummary(a.opts.Out, res.Summary)
	})
}

func (a *App) scanInputs(ctx context.Context, report func(feed.ScanResult) error) error {
	inputs, err := a.cfg.Inputs()
	if err != nil {
		return err
	}
	for _, path := range inputs {
		res, err := a.scan(ctx, path)
		if err != nil {
			return err
		}
		if len(inputs) > 1 {
			fmt.Fprintf(a.opts.Out, "== %s ==\n", path)
		}
		if err := report(res); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) scan(ctx context.Context, path string) (feed.ScanResult, error) {
	src, err := capture.Open(path, a.cfg.Feed.PayloadOffset)
	if err != nil {
		return feed.ScanResult{}, err
	}
	defer src.Close()

	start := time.Now()
	res, err := feed.Scan(ctx, src, uint8(a.cfg.Feed.Unit))
	if err != nil {
		return res, err
	}
	a.logger.InfoContext(ctx, "app: scanned capture",
		slog.String("path", path),
		slog.Uint64("packets", res.Packets),
		slog.Uint64("messages", res.Summary.Total()),
		slog.Int("gaps", len(res.Gaps)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// SliceMode splits the slice source into one capture per session, or cuts
// one capture of the configured time range, and returns the files written.
func (a *App) SliceMode(ctx context.Context) ([]string, error) {
	s := &capture.Slicer{
		Dir:    a.cfg.Input.SliceDir,
		Unit:   uint8(a.cfg.Feed.Unit),
		Offset: a.cfg.Feed.PayloadOffset,
		Logger: a.logger,
	}
	var files []string
	if a.cfg.Input.SliceBegin != "" {
		begin, end, err := capture.ParseRange(a.cfg.Input.SliceBegin, a.cfg.Input.SliceEnd)
		if err != nil {
			return nil, err
		}
		path, _, err := s.TimeRange(ctx, a.cfg.Input.SliceSource, begin, end)
		if err != nil {
			return nil, err
		}
		files = []string{path}
	} else {
		var err error
		if files, err = s.DailySlice(ctx, a.cfg.Input.SliceSource); err != nil {
			return nil, err
		}
	}
	for _, f := range files {
		fmt.Fprintln(a.opts.Out, f)
	}
	return files, nil
}

// ReplayMode replays every input capture as its own session. When the
// server is enabled it runs for the duration of the replay.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	inputs, err := a.cfg.Inputs()
	if err != nil {
		return err
	}
	sessions := pipeline.SessionsFromPaths(inputs)
	if !a.cfg.Server.Enabled {
		return a.replay(ctx, deps, sessions, nil, nil)
	}

	registry := pipeline.NewRegistry()
	return a.withServer(ctx, deps, registry, func(ctx context.Context, hub *ws.Hub) error {
		return a.replay(ctx, deps, sessions, registry, hub)
	})
}

// FullMode prints the gap report and summary of the slice source, slices it
// and replays the resulting sessions.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	res, err := a.scan(ctx, a.cfg.Input.SliceSource)
	if err != nil {
		return err
	}
	if err := feed.WriteGaps(a.opts.Out, res.Gaps); err != nil {
		return err
	}
	if err := feed.WriteSummary(a.opts.Out, res.Summary); err != nil {
		return err
	}

	files, err := a.SliceMode(ctx)
	if err != nil {
		return err
	}
	return a.replay(ctx, deps, pipeline.SessionsFromPaths(files), nil, nil)
}

// ServeMode replays the inputs with the API server running and then keeps
// serving results until ctx is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	inputs, err := a.cfg.Inputs()
	if err != nil {
		return err
	}
	registry := pipeline.NewRegistry()
	return a.withServer(ctx, deps, registry, func(ctx context.Context, hub *ws.Hub) error {
		runErr := a.replay(ctx, deps, pipeline.SessionsFromPaths(inputs), registry, hub)
		if runErr != nil && !errors.Is(runErr, ErrSessionsFailed) {
			return runErr
		}
		a.logger.InfoContext(ctx, "app: replay done, serving results until shutdown")
		<-ctx.Done()
		if runErr != nil {
			return runErr
		}
		return ctx.Err()
	})
}

// replay runs sessions through a Runner, prints their reports and maps any
// failed session to ErrSessionsFailed. registry and hub may be nil.
func (a *App) replay(ctx context.Context, deps *Dependencies, sessions []pipeline.Session, registry *pipeline.Registry, hub *ws.Hub) error {
	sinks := deps.Sinks()
	if hub != nil {
		sinks.Publishers = append(sinks.Publishers, pipeline.Publisher{Name: "ws", Pub: hub})
	}

	runner := pipeline.NewRunner(a.runOptions(), sinks, registry, a.logger)
	results, err := runner.Run(ctx, sessions)
	a.report(results)
	if err != nil {
		return err
	}
	for _, res := range results {
		if res.Failed() {
			return ErrSessionsFailed
		}
	}
	return nil
}

func (a *App) runOptions() pipeline.Options {
	opts := pipeline.Options{
		Workers:       a.cfg.Replay.Workers,
		Unit:          uint8(a.cfg.Feed.Unit),
		PayloadOffset: a.cfg.Feed.PayloadOffset,
		EmitBBO:       a.cfg.Replay.BBO,
		OutputDir:     a.cfg.Replay.OutputDir,
		Binary:        a.cfg.Replay.Binary,
		ChannelPrefix: a.cfg.Redis.ChannelPrefix,
		Async:         export.AsyncOptions{QueueSize: a.cfg.Replay.QueueSize},
	}
	if a.cfg.Replay.ShowBookSymbol != "" {
		opts.ShowBook = &export.ShowBook{
			Symbol: a.cfg.Replay.ShowBookSymbol,
			At:     a.cfg.Replay.ShowBookAt,
			Out:    a.opts.Out,
		}
	}
	return opts
}

// report prints one block per session; failed sessions are reported like
// any other.
func (a *App) report(results []pipeline.Result) {
	w := a.opts.Out
	for _, res := range results {
		fmt.Fprintf(w, "Session %s (%s): packets %d, messages %d, bbo changes %d, gaps %d, elapsed %s\n",
			res.Session, res.Status, res.Packets, res.Messages, res.Changes, len(res.Gaps),
			res.Elapsed().Round(time.Millisecond))
		if res.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", res.Error)
		}
		if res.Truncated {
			fmt.Fprintf(w, "  warning: capture truncated after packet %d\n", res.Packets)
		}
		for _, art := range res.Artifacts {
			fmt.Fprintf(w, "  wrote %s (%d bytes)\n", filepath.ToSlash(art.Path), art.Size)
		}
		if a.opts.Gaps {
			_ = feed.WriteGaps(w, res.Gaps)
		}
		if a.opts.Summary && res.Summary != nil {
			_ = feed.WriteSummary(w, res.Summary)
		}
	}
}

// withServer runs fn while the HTTP server and WebSocket hub are up, then
// shuts both down.
func (a *App) withServer(ctx context.Context, deps *Dependencies, registry *pipeline.Registry, fn func(context.Context, *ws.Hub) error) error {
	metrics.Init()

	var channels []string
	if deps.SignalBus != nil {
		channels = []string{pipeline.SessionChannel(a.cfg.Redis.ChannelPrefix, "*")}
	}
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{Channels: channels})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(deps.Pingers, a.logger),
		Sessions: handler.NewSessionHandler(registry, a.logger),
		Metrics:  metrics.Handler(),
	}, hub, a.logger)

	srvCtx, stop := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(srvCtx)
	g.Go(func() error {
		if err := hub.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error { return srv.Run(gctx) })

	runErr := fn(gctx, hub)
	stop()
	if err := g.Wait(); err != nil {
		a.logger.Error("app: server stopped with error", slog.String("error", err.Error()))
		// A server failure cancels gctx; report it rather than the cancellation.
		if ctx.Err() == nil && (runErr == nil || errors.Is(runErr, context.Canceled)) {
			return err
		}
	}
	return runErr
}

// ParseShowBook splits a "SYMBOL,DATE,TIME" flag value into the symbol and
// the "DATE TIME" stamp.
func ParseShowBook(v string) (symbol, at string, err error) {
	parts := strings.Split(v, ",")
	if len(parts) != 3 {
		return "", "", fmt.Errorf("show-book %q: want SYMBOL,DATE,TIME", v)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return "", "", fmt.Errorf("show-book %q: empty field", v)
		}
	}
	return parts[0], parts[1] + " " + parts[2], nil
}
