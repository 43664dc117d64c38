// Command cfebook reconstructs CFE PITCH order books from packet captures.
// It loads configuration, applies command-line overrides, validates the
// result, wires the enabled sinks and runs the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/cfebook/internal/app"
	"github.com/alanyoungcy/cfebook/internal/config"
)

// inputList collects repeated -input flags.
type inputList []string

func (l *inputList) String() string { return strings.Join(*l, ",") }

func (l *inputList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run parses args and runs the application. Reports go to stdout and JSON
// logs to stderr so the two never interleave.
func run(args []string, stdout, stderr io.Writer) int {
	fl := flag.NewFlagSet("cfebook", flag.ContinueOnError)
	fl.SetOutput(stderr)

	var inputs inputList
	configPath := fl.String("config", "config.toml", "path to configuration file")
	mode := fl.String("mode", "", "replay, gaps, summary, slice, full or serve")
	fl.Var(&inputs, "input", "session capture file (repeatable)")
	bbo := fl.Bool("bbo", true, "emit BBO changes")
	gaps := fl.Bool("gaps", false, "print the gap report of each session")
	summary := fl.Bool("summary", false, "print the message summary of each session")
	workers := fl.Int("workers", 0, "concurrent sessions")
	out := fl.String("out", "", "artifact output directory")
	showBook := fl.String("show-book", "", "print a book as SYMBOL,DATE,TIME")
	if err := fl.Parse(args); err != nil {
		return 2
	}

	// Setup structured JSON logger.
	logger := newLogger(stderr, "info")
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath, len(inputs) > 0)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		return 1
	}

	// Flags override the file and environment.
	set := map[string]bool{}
	fl.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if *mode != "" {
		cfg.Mode = *mode
	}
	if len(inputs) > 0 {
		cfg.Input.Files = inputs
		cfg.Input.Glob = ""
	}
	if set["bbo"] {
		cfg.Replay.BBO = *bbo
	}
	if *workers > 0 {
		cfg.Replay.Workers = *workers
	}
	if *out != "" {
		cfg.Replay.OutputDir = *out
	}
	if *showBook != "" {
		symbol, at, err := app.ParseShowBook(*showBook)
		if err != nil {
			logger.Error("invalid flag", slog.String("error", err.Error()))
			return 1
		}
		cfg.Replay.ShowBookSymbol, cfg.Replay.ShowBookAt = symbol, at
	}

	logger = newLogger(stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("cfebook starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, app.Options{Gaps: *gaps, Summary: *summary, Out: stdout}, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			// context.Canceled is expected on clean shutdown.
			logger.Info("application shut down gracefully")
		case errors.Is(err, app.ErrSessionsFailed):
			logger.Error("application finished with failed sessions")
			return 1
		default:
			logger.Error("application exited with error", slog.String("error", err.Error()))
			fmt.Fprintf(stderr, "fatal: %v\n", err)
			return 1
		}
	}

	logger.Info("cfebook stopped")
	return 0
}

// loadConfig loads path. A missing file is tolerated when inputs come from
// the command line.
func loadConfig(path string, haveInputs bool) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && haveInputs {
		path = ""
	}
	return config.Load(path)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}
