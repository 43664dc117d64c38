// Package app provides the top-level lifecycle of cfebook. It wires the
// optional sinks (Redis, Postgres, S3, Kafka, notifications) from the
// configuration and runs the selected mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alanyoungcy/cfebook/internal/config"
)

// ErrSessionsFailed is returned by Run when at least one session failed. The
// per-session reports have already been written by then.
var ErrSessionsFailed = errors.New("one or more sessions failed")

// Options are command-line switches that are not part of the configuration
// file.
type Options struct {
	// Gaps and Summary print the gap report and message summary of each
	// replayed session.
	Gaps    bool
	Summary bool
	// Out receives reports and book prints. Defaults to stdout.
	Out io.Writer
}

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	opts    Options
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, opts Options, logger *slog.Logger) *App {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &App{
		cfg:    cfg,
		opts:   opts,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the dependencies the mode needs, runs it and returns when it is
// done or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	a.logger.InfoContext(ctx, "app: starting",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch mode {
	case "gaps":
		return a.GapsMode(ctx)
	case "summary":
		return a.SummaryMode(ctx)
	case "slice":
		_, err := a.SliceMode(ctx)
		return err
	case "replay":
		return a.ReplayMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	case "serve":
		return a.ServeMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
