package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// PingBrokers dials each broker in turn and asks for topic metadata. It
// returns nil as soon as one broker answers, or the joined dial errors when
// none does.
func PingBrokers(ctx context.Context, brokers []string, dialer *kafka.Dialer) error {
	if len(brokers) == 0 {
		return errors.New("no brokers configured")
	}
	if dialer == nil {
		dialer = NewDialer(DialConfig{})
	}

	var errs []error

	for _, addr := range brokers {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			errs = append(errs, fmt.Errorf("dial %s: %w", addr, err))
			continue
		}

		_, err = conn.ReadPartitions()
		_ = conn.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("metadata %s: %w", addr, err))
			continue
		}

		return nil
	}

	return errors.Join(errs...)
}
