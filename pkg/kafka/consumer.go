package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// ConsumerConfig holds Kafka consumer configuration for a single topic and
// consumer group.
type ConsumerConfig struct {
	Brokers          []string
	GroupID          string
	Topic            string
	AutoCommit       bool
	SessionTimeout   time.Duration
	RebalanceTimeout time.Duration
	MaxWait          time.Duration
	Dial             DialConfig
}

// Consumer wraps the kafka-go reader for consuming probe messages.
type Consumer struct {
	reader     *kafka.Reader
	autoCommit bool
	topic      string
	group      string
	logger     *slog.Logger
}

// NewConsumer creates a new Kafka consumer for a specific topic and group.
func NewConsumer(cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	rc := kafka.ReaderConfig{
		Brokers:          cfg.Brokers,
		GroupID:          cfg.GroupID,
		Topic:            cfg.Topic,
		SessionTimeout:   cfg.SessionTimeout,
		RebalanceTimeout: cfg.RebalanceTimeout,
		MaxWait:          cfg.MaxWait,
		Dialer:           NewDialer(cfg.Dial),
	}
	if cfg.AutoCommit {
		rc.CommitInterval = time.Second
	}

	return &Consumer{
		reader:     kafka.NewReader(rc),
		autoCommit: cfg.AutoCommit,
		topic:      cfg.Topic,
		group:      cfg.GroupID,
		logger:     logger,
	}
}

// FetchOne blocks until a single message is available or the context expires.
// With auto-commit enabled the message offset is committed as part of the
// read; otherwise the caller decides whether to Commit.
func (c *Consumer) FetchOne(ctx context.Context) (kafka.Message, error) {
	var (
		msg kafka.Message
		err error
	)

	if c.autoCommit {
		msg, err = c.reader.ReadMessage(ctx)
	} else {
		msg, err = c.reader.FetchMessage(ctx)
	}
	if err != nil {
		ProbeConsumeErrors.WithLabelValues(c.topic, c.group).Inc()
		return kafka.Message{}, fmt.Errorf("fetch from %s: %w", c.topic, err)
	}

	ProbeConsumeTotal.WithLabelValues(c.topic, c.group).Inc()

	return msg, nil
}

// Commit marks the given message as processed. Only meaningful when
// auto-commit is disabled.
func (c *Consumer) Commit(ctx context.Context, msg kafka.Message) error {
	return c.reader.CommitMessages(ctx, msg)
}

// Close releases the reader and leaves the consumer group.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
