package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// ProducerConfig holds Kafka producer configuration for a single topic.
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	Dial         DialConfig
}

// Producer wraps the kafka-go writer for publishing probe messages.
type Producer struct {
	writer *kafka.Writer
	topic  string
	logger *slog.Logger
}

// NewProducer creates a new Kafka producer bound to a single topic.
func NewProducer(cfg ProducerConfig, logger *slog.Logger) *Producer {
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: batchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Transport:    NewTransport(cfg.Dial),
	}

	return &Producer{
		writer: w,
		topic:  cfg.Topic,
		logger: logger,
	}
}

// Publish sends a single message to the producer's topic and reports how long
// the round trip took.
func (p *Producer) Publish(ctx context.Context, key, value []byte) (time.Duration, error) {
	start := time.Now()

	err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
	elapsed := time.Since(start)

	if err != nil {
		ProbePublishErrors.WithLabelValues(p.topic).Inc()
		return elapsed, fmt.Errorf("publish to %s: %w", p.topic, err)
	}

	ProbePublishTotal.WithLabelValues(p.topic).Inc()
	ProbePublishDuration.WithLabelValues(p.topic).Observe(elapsed.Seconds())

	return elapsed, nil
}

// Close flushes pending messages and releases the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
