package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsNeedInput(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input: files or glob")

	cfg.Input.Files = []string{"day1.pcap"}
	require.NoError(t, cfg.Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "full"
log_level = "debug"

[input]
slice_source = "week.pcap"

[feed]
unit = 3

[replay]
workers = 2
binary = true

[redis]
enabled = true
ttl = "90m"

[kafka]
batch_timeout = "1s"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	t.Setenv("CFEBOOK_REPLAY_WORKERS", "6")
	t.Setenv("CFEBOOK_KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("CFEBOOK_REDIS_DB", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, 3, cfg.Feed.Unit)
	assert.Equal(t, 42, cfg.Feed.PayloadOffset)
	assert.Equal(t, 6, cfg.Replay.Workers)
	assert.True(t, cfg.Replay.Binary)
	assert.True(t, cfg.Replay.BBO)
	assert.Equal(t, 90*time.Minute, cfg.Redis.TTL.Duration)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, time.Second, cfg.Kafka.BatchTimeout.Duration)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	require.NoError(t, cfg.Validate())
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "replay", cfg.Mode)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Mode = "trade" }, `unknown mode "trade"`},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "unknown log_level"},
		{"slice needs source", func(c *Config) { c.Mode = "slice" }, "slice_source is required"},
		{"unit range", func(c *Config) { c.Feed.Unit = 0 }, "feed: unit must be 1-255"},
		{"workers", func(c *Config) { c.Replay.Workers = 0 }, "replay: workers"},
		{"show book pair", func(c *Config) { c.Replay.ShowBookSymbol = "VXV4" }, "must be set together"},
		{"show book format", func(c *Config) {
			c.Replay.ShowBookSymbol = "VXV4"
			c.Replay.ShowBookAt = "2024-10-09T03:40:50"
		}, "show_book_at"},
		{"redis addr", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Addr = ""
		}, "redis: addr"},
		{"redis timeout", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Timeout.Duration = 0
		}, "redis: timeout"},
		{"redis subscriber buffer", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.SubscriberBuffer = 0
		}, "subscriber_buffer"},
		{"s3 part size", func(c *Config) {
			c.S3.Enabled = true
			c.S3.PartSizeMB = 1
		}, "part_size_mb"},
		{"postgres pool", func(c *Config) {
			c.Postgres.Enabled = true
			c.Postgres.PoolMinConns = 20
		}, "pool_min_conns must not exceed"},
		{"kafka topic", func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Topic = ""
		}, "kafka: topic"},
		{"serve port", func(c *Config) {
			c.Mode = "serve"
			c.Server.Port = 0
		}, "server: port"},
		{"notify event", func(c *Config) { c.Notify.Events = []string{"order_filled"} }, `unknown event "order_filled"`},
		{"slice range pair", func(c *Config) { c.Input.SliceBegin = "2024-10-09T03:00:00" }, "slice_begin and slice_end must be set together"},
		{"slice range format", func(c *Config) {
			c.Input.SliceBegin = "2024-10-09 03:00:00"
			c.Input.SliceEnd = "2024-10-09T04:00:00"
		}, "must look like 2024-10-09T03:40:00"},
		{"slice range order", func(c *Config) {
			c.Input.SliceBegin = "2024-10-09T04:00:00"
			c.Input.SliceEnd = "2024-10-09T03:00:00"
		}, "slice_end must be after slice_begin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Input.Files = []string{"day1.pcap"}
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateShowBook(t *testing.T) {
	cfg := Defaults()
	cfg.Input.Files = []string{"day1.pcap"}
	cfg.Replay.ShowBookSymbol = "VXV4"
	cfg.Replay.ShowBookAt = "2024-10-09 03:40:50.092210000"
	require.NoError(t, cfg.Validate())
}

func TestValidateSliceRange(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "slice"
	cfg.Input.SliceSource = "week.pcap"
	cfg.Input.SliceBegin = "2024-10-09T03:00:00"
	cfg.Input.SliceEnd = "2024-10-09T04:00:00"
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Password = "hunter2"
	cfg.S3.SecretKey = "s3cr3t"
	cfg.Postgres.DSN = "postgres://u:p@h/db"
	cfg.Notify.TelegramToken = "tok"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Postgres.DSN)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "", out.S3.AccessKey)
	assert.Equal(t, "hunter2", cfg.Redis.Password)

	out.Kafka.Brokers[0] = "changed"
	assert.Equal(t, "localhost:9092", cfg.Kafka.Brokers[0])
}

func TestInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"day2.pcap", "day1.pcap", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	day1 := filepath.Join(dir, "day1.pcap")

	cfg := Defaults()
	cfg.Input.Files = []string{day1}
	cfg.Input.Glob = filepath.Join(dir, "*.pcap")
	got, err := cfg.Inputs()
	require.NoError(t, err)
	assert.Equal(t, []string{day1, filepath.Join(dir, "day2.pcap")}, got)

	cfg.Input.Files = nil
	cfg.Input.Glob = filepath.Join(dir, "*.pcapng")
	_, err = cfg.Inputs()
	assert.Error(t, err)
}
