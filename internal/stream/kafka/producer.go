// Package kafka streams BBO updates to a Kafka topic with segmentio/kafka-go.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/cfebook/internal/domain"
)

// ProducerConfig holds broker parameters.
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer implements domain.Publisher. Messages are keyed by symbol so a
// symbol's updates stay ordered within one partition.
type Producer struct {
	writer messageWriter
	topic  string
}

func NewProducer(cfg ProducerConfig) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
		},
		topic: cfg.Topic,
	}
}

func (p *Producer) Name() string { return "kafka" }

func (p *Producer) Publish(ctx context.Context, updates []domain.BBOUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	msgs, err := messages(updates)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: write %d messages to %s: %w", len(msgs), p.topic, err)
	}
	return nil
}

func messages(updates []domain.BBOUpdate) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, len(updates))
	for i, u := range updates {
		value, err := json.Marshal(u)
		if err != nil {
			return nil, fmt.Errorf("kafka: marshal %s: %w", u.Symbol, err)
		}
		msgs[i] = kafka.Message{
			Key:   []byte(u.Symbol),
			Value: value,
			Time:  u.At,
			Headers: []kafka.Header{
				{Key: "session", Value: []byte(u.Session)},
				{Key: "tag", Value: []byte(u.Tag.String())},
			},
		}
	}
	return msgs, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Compile-time interface check.
var _ domain.Publisher = (*Producer)(nil)
