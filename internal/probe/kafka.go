package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/zateckar/monitor-sub001/internal/domain"
)

// MessageProducer is the slice of the pooled Kafka producer the probe needs.
type MessageProducer interface {
	Publish(ctx context.Context, key, value []byte) (time.Duration, error)
}

// MessageConsumer is the slice of the pooled Kafka consumer the probe needs.
type MessageConsumer interface {
	FetchOne(ctx context.Context) (kafkago.Message, error)
	Commit(ctx context.Context, msg kafkago.Message) error
}

// KafkaPool hands out long-lived per-endpoint Kafka clients.
type KafkaPool interface {
	Producer(ctx context.Context, e *domain.Endpoint) (MessageProducer, error)
	Consumer(ctx context.Context, e *domain.Endpoint) (MessageConsumer, error)
	Ping(ctx context.Context, e *domain.Endpoint) error
}

// KafkaProducerExecutor probes by publishing one message through the pooled
// producer and waiting for the broker ack.
type KafkaProducerExecutor struct {
	pool KafkaPool
}

// NewKafkaProducerExecutor creates the Kafka producer probe executor.
func NewKafkaProducerExecutor(pool KafkaPool) *KafkaProducerExecutor {
	return &KafkaProducerExecutor{pool: pool}
}

func (x *KafkaProducerExecutor) Type() domain.CheckType { return domain.CheckKafkaProducer }

func (x *KafkaProducerExecutor) Execute(ctx context.Context, e *domain.Endpoint) Result {
	producer, err := x.pool.Producer(ctx, e)
	if err != nil {
		return fail(classifyNetError(err))
	}

	message := e.KafkaMessage
	if message == "" {
		message = fmt.Sprintf("monitor heartbeat endpoint=%d ts=%s", e.ID, time.Now().UTC().Format(time.RFC3339))
	}

	elapsed, err := producer.Publish(ctx, nil, []byte(message))
	if err != nil {
		return fail(classifyNetError(err))
	}

	return ok(elapsed)
}

// KafkaConsumerExecutor probes consumption health. In single-shot mode it
// waits for one message; receiving nothing before the deadline still counts
// as healthy. Outside single-shot mode it only checks broker metadata.
type KafkaConsumerExecutor struct {
	pool KafkaPool
}

// NewKafkaConsumerExecutor creates the Kafka consumer probe executor.
func NewKafkaConsumerExecutor(pool KafkaPool) *KafkaConsumerExecutor {
	return &KafkaConsumerExecutor{pool: pool}
}

func (x *KafkaConsumerExecutor) Type() domain.CheckType { return domain.CheckKafkaConsumer }

func (x *KafkaConsumerExecutor) Execute(ctx context.Context, e *domain.Endpoint) Result {
	if !e.KafkaConsumerSingleShot {
		start := time.Now()
		if err := x.pool.Ping(ctx, e); err != nil {
			return fail(classifyNetError(err))
		}
		return ok(time.Since(start))
	}

	consumer, err := x.pool.Consumer(ctx, e)
	if err != nil {
		return fail(classifyNetError(err))
	}

	start := time.Now()
	msg, err := consumer.FetchOne(ctx)
	if err != nil {
		// An empty topic is not an outage. Only transport or auth failures
		// count against the endpoint.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return ok(time.Since(start))
		}
		return fail(classifyNetError(err))
	}

	if !e.KafkaConsumerAutoCommit {
		if err := consumer.Commit(ctx, msg); err != nil {
			return fail(classifyNetError(err))
		}
	}

	res := ok(time.Since(start))
	res.Metadata = map[string]any{"offset": msg.Offset, "partition": msg.Partition}
	return res
}
