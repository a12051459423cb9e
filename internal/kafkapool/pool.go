package kafkapool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/internal/mtls"
	"github.com/zateckar/monitor-sub001/internal/probe"
	pkgkafka "github.com/zateckar/monitor-sub001/pkg/kafka"
)

// GroupID returns the fixed consumer group for an endpoint's consumer probe.
func GroupID(endpointID int64) string {
	return fmt.Sprintf("monitor-app-%d", endpointID)
}

// record is the long-lived client state for one endpoint.
type record struct {
	producer  *pkgkafka.Producer
	consumer  *pkgkafka.Consumer
	connected bool
	lastErr   error
}

// Pool keeps at most one producer and one consumer per endpoint id, opening
// them lazily and tearing them down when monitoring stops.
type Pool struct {
	mu      sync.Mutex
	records map[int64]*record
	logger  *slog.Logger
}

// New creates an empty Kafka connection pool.
func New(logger *slog.Logger) *Pool {
	return &Pool{
		records: make(map[int64]*record),
		logger:  logger,
	}
}

var _ probe.KafkaPool = (*Pool)(nil)

// Producer returns the pooled producer for the endpoint, opening one if
// needed.
func (p *Pool) Producer(_ context.Context, e *domain.Endpoint) (probe.MessageProducer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := p.record(e.ID)
	if rec.producer != nil {
		return rec.producer, nil
	}

	dial, err := p.dialConfig(e)
	if err != nil {
		rec.lastErr = err
		return nil, err
	}

	timeouts := SanitizeConfig(e.KafkaConfig)

	rec.producer = pkgkafka.NewProducer(pkgkafka.ProducerConfig{
		Brokers:      e.Brokers(),
		Topic:        e.KafkaTopic,
		WriteTimeout: timeouts["requestTimeout"],
		Dial:         dial,
	}, p.logger)
	rec.connected = true
	rec.lastErr = nil

	p.logger.Info("kafka producer opened",
		slog.Int64("endpoint_id", e.ID),
		slog.String("topic", e.KafkaTopic),
	)

	return rec.producer, nil
}

// Consumer returns the pooled consumer for the endpoint, opening one if
// needed. The consumer group is fixed per endpoint id.
func (p *Pool) Consumer(_ context.Context, e *domain.Endpoint) (probe.MessageConsumer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := p.record(e.ID)
	if rec.consumer != nil {
		return rec.consumer, nil
	}

	dial, err := p.dialConfig(e)
	if err != nil {
		rec.lastErr = err
		return nil, err
	}

	timeouts := SanitizeConfig(e.KafkaConfig)

	rec.consumer = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:        e.Brokers(),
		GroupID:        GroupID(e.ID),
		Topic:          e.KafkaTopic,
		AutoCommit:     e.KafkaConsumerAutoCommit,
		SessionTimeout: timeouts["sessionTimeout"],
		MaxWait:        timeouts["requestTimeout"],
		Dial:           dial,
	}, p.logger)
	rec.connected = true
	rec.lastErr = nil

	p.logger.Info("kafka consumer opened",
		slog.Int64("endpoint_id", e.ID),
		slog.String("group", GroupID(e.ID)),
	)

	return rec.consumer, nil
}

// Ping checks broker reachability without touching the pooled clients.
func (p *Pool) Ping(ctx context.Context, e *domain.Endpoint) error {
	dial, err := p.dialConfig(e)
	if err != nil {
		return err
	}
	return pkgkafka.PingBrokers(ctx, e.Brokers(), pkgkafka.NewDialer(dial))
}

// Cleanup closes and removes the endpoint's clients. Safe to call when no
// record exists.
func (p *Pool) Cleanup(endpointID int64) {
	p.mu.Lock()
	rec, found := p.records[endpointID]
	delete(p.records, endpointID)
	p.mu.Unlock()

	if !found {
		return
	}
	p.closeRecord(endpointID, rec)
}

// Restart tears the endpoint's clients down; the next Producer or Consumer
// call re-opens with the current config.
func (p *Pool) Restart(e *domain.Endpoint) {
	p.Cleanup(e.ID)
}

// Close tears down every pooled client.
func (p *Pool) Close() {
	p.mu.Lock()
	records := p.records
	p.records = make(map[int64]*record)
	p.mu.Unlock()

	for id, rec := range records {
		p.closeRecord(id, rec)
	}
}

// Size reports how many endpoints currently hold pooled clients.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

func (p *Pool) record(endpointID int64) *record {
	rec, found := p.records[endpointID]
	if !found {
		rec = &record{}
		p.records[endpointID] = rec
	}
	return rec
}

func (p *Pool) dialConfig(e *domain.Endpoint) (pkgkafka.DialConfig, error) {
	tlsCfg, err := mtls.ClientConfig(e.ClientCertPEM, e.ClientKeyPEM, e.CACertPEM)
	if err != nil {
		return pkgkafka.DialConfig{}, fmt.Errorf("endpoint %d tls config: %w", e.ID, err)
	}

	timeouts := SanitizeConfig(e.KafkaConfig)
	dialTimeout := timeouts["connectionTimeout"]
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	return pkgkafka.DialConfig{
		ClientID:    GroupID(e.ID),
		DialTimeout: dialTimeout,
		TLS:         tlsCfg,
	}, nil
}

func (p *Pool) closeRecord(endpointID int64, rec *record) {
	if rec.producer != nil {
		if err := rec.producer.Close(); err != nil {
			p.logger.Warn("close kafka producer", slog.Int64("endpoint_id", endpointID), slog.Any("error", err))
		}
	}
	if rec.consumer != nil {
		if err := rec.consumer.Close(); err != nil {
			p.logger.Warn("close kafka consumer", slog.Int64("endpoint_id", endpointID), slog.Any("error", err))
		}
	}
}
