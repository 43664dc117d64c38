// Package config defines the top-level configuration for cfebook and provides
// validation helpers.
package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CFEBOOK_* environment variables.
type Config struct {
	Input    InputConfig    `toml:"input"`
	Feed     FeedConfig     `toml:"feed"`
	Replay   ReplayConfig   `toml:"replay"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Postgres PostgresConfig `toml:"postgres"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// InputConfig names the captures to process.
type InputConfig struct {
	// Files are session captures, one session each.
	Files []string `toml:"files"`
	// Glob is expanded and appended to Files.
	Glob string `toml:"glob"`
	// SliceSource is a multi-day capture split by the slice and full modes.
	SliceSource string `toml:"slice_source"`
	SliceDir    string `toml:"slice_dir"`
	// SliceBegin and SliceEnd, when set, make the slice cut one file of the
	// packets captured in [begin, end) instead of one file per session. The
	// layout is 2006-01-02T15:04:05, UTC.
	SliceBegin string `toml:"slice_begin"`
	SliceEnd   string `toml:"slice_end"`
}

// FeedConfig holds wire-level parameters.
type FeedConfig struct {
	Unit          int `toml:"unit"`
	PayloadOffset int `toml:"payload_offset"`
}

// ReplayConfig controls session replay and export.
type ReplayConfig struct {
	Workers        int    `toml:"workers"`
	BBO            bool   `toml:"bbo"`
	OutputDir      string `toml:"output_dir"`
	Binary         bool   `toml:"binary"`
	ShowBookSymbol string `toml:"show_book_symbol"`
	// ShowBookAt is "YYYY-MM-DD HH:MM:SS.nnnnnnnnn".
	ShowBookAt string `toml:"show_book_at"`
	QueueSize  int    `toml:"queue_size"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled       bool     `toml:"enabled"`
	Addr          string   `toml:"addr"`
	Password      string   `toml:"password"`
	DB            int      `toml:"db"`
	PoolSize      int      `toml:"pool_size"`
	MaxRetries    int      `toml:"max_retries"`
	TLSEnabled    bool     `toml:"tls_enabled"`
	ChannelPrefix string   `toml:"channel_prefix"`
	TTL           duration `toml:"ttl"`
	// Timeout bounds dialing and every read or write.
	Timeout duration `toml:"timeout"`
	// SubscriberBuffer is the number of bus messages held for a slow
	// subscriber before newer ones are dropped.
	SubscriberBuffer int `toml:"subscriber_buffer"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
	PartSizeMB     int    `toml:"part_size_mb"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	// StoreBBO copies every BBO change into bbo_events.
	StoreBBO bool `toml:"store_bbo"`
}

// KafkaConfig holds broker parameters for the BBO stream.
type KafkaConfig struct {
	Enabled      bool     `toml:"enabled"`
	Brokers      []string `toml:"brokers"`
	Topic        string   `toml:"topic"`
	BatchSize    int      `toml:"batch_size"`
	BatchTimeout duration `toml:"batch_timeout"`
}

// duration wraps time.Duration so it can be decoded from a TOML string like
// "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP API server settings.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials and the list of event
// types that trigger a notification.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with sensible default values.
func Defaults() Config {
	return Config{
		Input: InputConfig{
			SliceDir: "sliced",
		},
		Feed: FeedConfig{
			Unit:          1,
			PayloadOffset: 42,
		},
		Replay: ReplayConfig{
			Workers:   runtime.NumCPU(),
			BBO:       true,
			OutputDir: "out",
			QueueSize: 4096,
		},
		Redis: RedisConfig{
			Addr:             "localhost:6379",
			DB:               0,
			PoolSize:         20,
			MaxRetries:       3,
			ChannelPrefix:    "cfe",
			TTL:              duration{24 * time.Hour},
			Timeout:          duration{3 * time.Second},
			SubscriberBuffer: 128,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cfebook-artifacts",
			ForcePathStyle: true,
			Prefix:         "runs",
			PartSizeMB:     16,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			Topic:        "cfe.bbo",
			BatchSize:    500,
			BatchTimeout: duration{200 * time.Millisecond},
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"session_failed", "gap_detected"},
		},
		Mode:     "replay",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"replay":  true,
	"gaps":    true,
	"summary": true,
	"slice":   true,
	"full":    true,
	"serve":   true,
}

const sliceLayout = "2006-01-02T15:04:05"

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validEvents = map[string]bool{
	"session_failed":    true,
	"gap_detected":      true,
	"session_completed": true,
}

// Validate checks the configuration for logical errors and returns a combined
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: replay, gaps, summary, slice, full, serve)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	needsSliceSource := mode == "slice" || mode == "full"
	if needsSliceSource && c.Input.SliceSource == "" {
		errs = append(errs, "input: slice_source is required for mode "+c.Mode)
	}
	if !needsSliceSource && validModes[mode] && len(c.Input.Files) == 0 && c.Input.Glob == "" {
		errs = append(errs, "input: files or glob must be set for mode "+c.Mode)
	}
	if needsSliceSource && c.Input.SliceDir == "" {
		errs = append(errs, "input: slice_dir must not be empty")
	}
	if (c.Input.SliceBegin == "") != (c.Input.SliceEnd == "") {
		errs = append(errs, "input: slice_begin and slice_end must be set together")
	} else if c.Input.SliceBegin != "" {
		b, berr := time.Parse(sliceLayout, c.Input.SliceBegin)
		e, eerr := time.Parse(sliceLayout, c.Input.SliceEnd)
		switch {
		case berr != nil || eerr != nil:
			errs = append(errs, "input: slice_begin and slice_end must look like 2024-10-09T03:40:00")
		case !e.After(b):
			errs = append(errs, "input: slice_end must be after slice_begin")
		}
	}

	if c.Feed.Unit < 1 || c.Feed.Unit > 255 {
		errs = append(errs, fmt.Sprintf("feed: unit must be 1-255, got %d", c.Feed.Unit))
	}
	if c.Feed.PayloadOffset < 0 {
		errs = append(errs, "feed: payload_offset must be >= 0")
	}

	if c.Replay.Workers < 1 {
		errs = append(errs, "replay: workers must be >= 1")
	}
	if c.Replay.OutputDir == "" {
		errs = append(errs, "replay: output_dir must not be empty")
	}
	if c.Replay.QueueSize < 1 {
		errs = append(errs, "replay: queue_size must be >= 1")
	}
	if (c.Replay.ShowBookSymbol == "") != (c.Replay.ShowBookAt == "") {
		errs = append(errs, "replay: show_book_symbol and show_book_at must be set together")
	}
	if c.Replay.ShowBookAt != "" {
		if _, err := time.Parse("2006-01-02 15:04:05.000000000", c.Replay.ShowBookAt); err != nil {
			errs = append(errs, fmt.Sprintf("replay: show_book_at %q must look like 2024-10-09 03:40:50.092210000", c.Replay.ShowBookAt))
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.TTL.Duration < 0 {
			errs = append(errs, "redis: ttl must be >= 0")
		}
		if c.Redis.Timeout.Duration <= 0 {
			errs = append(errs, "redis: timeout must be > 0")
		}
		if c.Redis.SubscriberBuffer < 1 {
			errs = append(errs, "redis: subscriber_buffer must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.PartSizeMB < 5 {
			errs = append(errs, "s3: part_size_mb must be >= 5")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: brokers must not be empty")
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, "kafka: topic must not be empty")
		}
	}

	if c.Server.Enabled || mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	for _, e := range c.Notify.Events {
		if !validEvents[e] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", e))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Inputs returns the session captures: Files followed by the sorted matches
// of Glob, without duplicates.
func (c *Config) Inputs() ([]string, error) {
	out := slices.Clone(c.Input.Files)
	if c.Input.Glob != "" {
		matches, err := filepath.Glob(c.Input.Glob)
		if err != nil {
			return nil, fmt.Errorf("input: glob %q: %w", c.Input.Glob, err)
		}
		slices.Sort(matches)
		for _, m := range matches {
			if !slices.Contains(out, m) {
				out = append(out, m)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("input: no capture files matched")
	}
	return out, nil
}
