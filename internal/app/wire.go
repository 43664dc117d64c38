package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/cfebook/internal/blob/s3"
	"github.com/alanyoungcy/cfebook/internal/cache/redis"
	"github.com/alanyoungcy/cfebook/internal/config"
	"github.com/alanyoungcy/cfebook/internal/domain"
	"github.com/alanyoungcy/cfebook/internal/notify"
	"github.com/alanyoungcy/cfebook/internal/pipeline"
	"github.com/alanyoungcy/cfebook/internal/server/handler"
	"github.com/alanyoungcy/cfebook/internal/store/postgres"
	"github.com/alanyoungcy/cfebook/internal/stream/kafka"
)

// Dependencies bundles the optional sinks of a replay. Disabled sections
// leave their fields nil. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Redis
	BBOCache  *redis.BBOCache
	SignalBus domain.SignalBus

	// Postgres
	RunStore domain.RunStore
	GapStore domain.GapStore
	BBOStore *postgres.BBOStore

	// Object storage
	Archiver *s3blob.Archiver

	// Broker
	Producer *kafka.Producer

	// Notifications
	Notifier *notify.Notifier

	// Pingers are reported by /api/health.
	Pingers []handler.Pinger
}

// Sinks maps the wired dependencies onto a runner's sinks.
func (d *Dependencies) Sinks() pipeline.Sinks {
	var s pipeline.Sinks
	if d.BBOCache != nil {
		s.Publishers = append(s.Publishers, pipeline.Publisher{Name: "redis", Pub: d.BBOCache})
	}
	if d.BBOStore != nil {
		s.Publishers = append(s.Publishers, pipeline.Publisher{Name: "postgres", Pub: d.BBOStore})
	}
	if d.Producer != nil {
		s.Publishers = append(s.Publishers, pipeline.Publisher{Name: "kafka", Pub: d.Producer})
	}
	if d.RunStore != nil {
		s.Runs = d.RunStore
	}
	if d.GapStore != nil {
		s.Gaps = d.GapStore
	}
	if d.Archiver != nil {
		s.Uploader = d.Archiver
	}
	if d.Notifier.Enabled() {
		s.Notifier = d.Notifier
	}
	s.Bus = d.SignalBus
	return s
}

// needsSinks returns true for modes that replay sessions and therefore have
// somewhere to send results.
func needsSinks(mode string) bool {
	switch mode {
	case "replay", "full", "serve":
		return true
	default:
		return false
	}
}

// Wire constructs the concrete sink implementations enabled in cfg and returns
// them together with a cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	if !needsSinks(cfg.Mode) {
		return deps, cleanup, nil
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, func() { _ = pgClient.Close() })

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.RunStore = postgres.NewRunStore(pool)
		deps.GapStore = postgres.NewGapStore(pool)
		if cfg.Postgres.StoreBBO {
			deps.BBOStore = postgres.NewBBOStore(pool)
		}
		deps.Pingers = append(deps.Pingers, pgClient)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Timeout:    cfg.Redis.Timeout.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.BBOCache = redis.NewBBOCache(redisClient, cfg.Redis.ChannelPrefix, cfg.Redis.TTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.SubscriberBuffer, logger)
		deps.Pingers = append(deps.Pingers, redisClient)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		partSize := int64(cfg.S3.PartSizeMB) << 20
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix, partSize, logger)
		deps.Pingers = append(deps.Pingers, s3Client)
	}

	// --- Kafka ---
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout.Duration,
		})
		closers = append(closers, func() {
			if err := producer.Close(); err != nil {
				logger.Warn("wire: kafka close", slog.String("error", err.Error()))
			}
		})
		deps.Producer = producer
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
