package kafka

import (
	"crypto/tls"
	"time"

	"github.com/segmentio/kafka-go"
)

// DialConfig holds connection-level settings shared by producers, consumers
// and broker pings.
type DialConfig struct {
	ClientID    string
	DialTimeout time.Duration
	TLS         *tls.Config
}

// NewDialer builds a kafka-go dialer from the given connection settings.
func NewDialer(cfg DialConfig) *kafka.Dialer {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   timeout,
		DualStack: true,
		TLS:       cfg.TLS,
	}
}

// NewTransport builds a kafka-go writer transport from the given connection
// settings.
func NewTransport(cfg DialConfig) *kafka.Transport {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &kafka.Transport{
		ClientID:    cfg.ClientID,
		DialTimeout: timeout,
		TLS:         cfg.TLS,
	}
}
