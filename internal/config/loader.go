package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CFEBOOK_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CFEBOOK_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Input ──
	setStringSlice(&cfg.Input.Files, "CFEBOOK_INPUT_FILES")
	setStr(&cfg.Input.Glob, "CFEBOOK_INPUT_GLOB")
	setStr(&cfg.Input.SliceSource, "CFEBOOK_INPUT_SLICE_SOURCE")
	setStr(&cfg.Input.SliceDir, "CFEBOOK_INPUT_SLICE_DIR")
	setStr(&cfg.Input.SliceBegin, "CFEBOOK_INPUT_SLICE_BEGIN")
	setStr(&cfg.Input.SliceEnd, "CFEBOOK_INPUT_SLICE_END")

	// ── Feed ──
	setInt(&cfg.Feed.Unit, "CFEBOOK_FEED_UNIT")
	setInt(&cfg.Feed.PayloadOffset, "CFEBOOK_FEED_PAYLOAD_OFFSET")

	// ── Replay ──
	setInt(&cfg.Replay.Workers, "CFEBOOK_REPLAY_WORKERS")
	setBool(&cfg.Replay.BBO, "CFEBOOK_REPLAY_BBO")
	setStr(&cfg.Replay.OutputDir, "CFEBOOK_REPLAY_OUTPUT_DIR")
	setBool(&cfg.Replay.Binary, "CFEBOOK_REPLAY_BINARY")
	setStr(&cfg.Replay.ShowBookSymbol, "CFEBOOK_REPLAY_SHOW_BOOK_SYMBOL")
	setStr(&cfg.Replay.ShowBookAt, "CFEBOOK_REPLAY_SHOW_BOOK_AT")
	setInt(&cfg.Replay.QueueSize, "CFEBOOK_REPLAY_QUEUE_SIZE")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CFEBOOK_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CFEBOOK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CFEBOOK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CFEBOOK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CFEBOOK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CFEBOOK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CFEBOOK_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.ChannelPrefix, "CFEBOOK_REDIS_CHANNEL_PREFIX")
	setDuration(&cfg.Redis.TTL, "CFEBOOK_REDIS_TTL")
	setDuration(&cfg.Redis.Timeout, "CFEBOOK_REDIS_TIMEOUT")
	setInt(&cfg.Redis.SubscriberBuffer, "CFEBOOK_REDIS_SUBSCRIBER_BUFFER")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CFEBOOK_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CFEBOOK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CFEBOOK_S3_REGION")
	setStr(&cfg.S3.Bucket, "CFEBOOK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CFEBOOK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CFEBOOK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CFEBOOK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CFEBOOK_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "CFEBOOK_S3_PREFIX")
	setInt(&cfg.S3.PartSizeMB, "CFEBOOK_S3_PART_SIZE_MB")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "CFEBOOK_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "CFEBOOK_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "CFEBOOK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CFEBOOK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CFEBOOK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CFEBOOK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CFEBOOK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CFEBOOK_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CFEBOOK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CFEBOOK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CFEBOOK_POSTGRES_RUN_MIGRATIONS")
	setBool(&cfg.Postgres.StoreBBO, "CFEBOOK_POSTGRES_STORE_BBO")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "CFEBOOK_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "CFEBOOK_KAFKA_BROKERS")
	setStr(&cfg.Kafka.Topic, "CFEBOOK_KAFKA_TOPIC")
	setInt(&cfg.Kafka.BatchSize, "CFEBOOK_KAFKA_BATCH_SIZE")
	setDuration(&cfg.Kafka.BatchTimeout, "CFEBOOK_KAFKA_BATCH_TIMEOUT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CFEBOOK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CFEBOOK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CFEBOOK_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CFEBOOK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CFEBOOK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CFEBOOK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CFEBOOK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CFEBOOK_MODE")
	setStr(&cfg.LogLevel, "CFEBOOK_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
