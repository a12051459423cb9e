package domain

import (
	"fmt"
	"strings"
	"time"
)

// CheckType identifies the probe protocol used for an endpoint.
type CheckType string

const (
	CheckHTTP          CheckType = "http"
	CheckPing          CheckType = "ping"
	CheckTCP           CheckType = "tcp"
	CheckKafkaProducer CheckType = "kafka_producer"
	CheckKafkaConsumer CheckType = "kafka_consumer"
)

// IsValidCheckType reports whether t is a supported check type.
func IsValidCheckType(t string) bool {
	switch CheckType(t) {
	case CheckHTTP, CheckPing, CheckTCP, CheckKafkaProducer, CheckKafkaConsumer:
		return true
	}
	return false
}

// Status is the up/down state of an endpoint or a probe outcome.
type Status string

const (
	StatusUp      Status = "UP"
	StatusDown    Status = "DOWN"
	StatusUnknown Status = "unknown"
)

// NormalizeStatus coerces arbitrary status input into the UP/DOWN pair used
// by probe outcomes. Anything that is not exactly "UP" becomes DOWN.
func NormalizeStatus(s string) Status {
	if Status(s) == StatusUp {
		return StatusUp
	}
	return StatusDown
}

// MinHeartbeatIntervalSeconds is the smallest allowed probe period.
const MinHeartbeatIntervalSeconds = 10

// DefaultCertExpiryThresholdDays is the warning threshold applied when
// certificate expiry checking is enabled without an explicit threshold.
const DefaultCertExpiryThresholdDays = 14

// Endpoint is a user-configured monitoring target. The ID is immutable;
// everything else is mutable configuration owned by the primary (or a
// standalone instance).
type Endpoint struct {
	ID   int64     `json:"id"`
	Name string    `json:"name"`
	Type CheckType `json:"type"`

	// URL is a full URL for http checks, a host for ping/tcp checks and a
	// comma-separated bootstrap broker list for kafka checks.
	URL string `json:"url"`

	HeartbeatIntervalSeconds int  `json:"heartbeatIntervalSeconds"`
	Retries                  int  `json:"retries"`
	UpsideDown               bool `json:"upsideDown"`
	Paused                   bool `json:"paused"`

	RetriesFailed int        `json:"retriesFailed"`
	Status        Status     `json:"status"`
	LastChecked   *time.Time `json:"lastChecked,omitempty"`

	// HTTP specific.
	HTTPMethod    string            `json:"httpMethod,omitempty"`
	HTTPHeaders   map[string]string `json:"httpHeaders,omitempty"`
	HTTPBody      string            `json:"httpBody,omitempty"`
	OKHTTPStatuses []int            `json:"okHttpStatuses,omitempty"`
	KeywordSearch string            `json:"keywordSearch,omitempty"`

	CheckCertExpiry         bool `json:"checkCertExpiry"`
	CertExpiryThresholdDays int  `json:"certExpiryThresholdDays,omitempty"`

	// TCP specific.
	TCPPort int `json:"tcpPort,omitempty"`

	// Kafka specific.
	KafkaTopic              string         `json:"kafkaTopic,omitempty"`
	KafkaMessage            string         `json:"kafkaMessage,omitempty"`
	KafkaConfig             map[string]any `json:"kafkaConfig,omitempty"`
	KafkaConsumerAutoCommit bool           `json:"kafkaConsumerAutoCommit"`
	KafkaConsumerSingleShot bool           `json:"kafkaConsumerSingleShot"`

	// Optional mTLS triple, used by both HTTP and Kafka probes.
	ClientCertPEM string `json:"clientCert,omitempty"`
	ClientKeyPEM  string `json:"clientKey,omitempty"`
	CACertPEM     string `json:"caCert,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Interval returns the probe period as a duration, clamped to the minimum.
func (e *Endpoint) Interval() time.Duration {
	secs := e.HeartbeatIntervalSeconds
	if secs < MinHeartbeatIntervalSeconds {
		secs = MinHeartbeatIntervalSeconds
	}
	return time.Duration(secs) * time.Second
}

// Brokers splits the URL field into a Kafka bootstrap broker list.
func (e *Endpoint) Brokers() []string {
	parts := strings.Split(e.URL, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

// Validate checks configuration invariants common to all check types.
func (e *Endpoint) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("endpoint name is required")
	}
	if !IsValidCheckType(string(e.Type)) {
		return fmt.Errorf("invalid check type %q", e.Type)
	}
	if e.URL == "" {
		return fmt.Errorf("endpoint url is required")
	}
	if e.HeartbeatIntervalSeconds < MinHeartbeatIntervalSeconds {
		return fmt.Errorf("heartbeat interval must be at least %d seconds, got %d",
			MinHeartbeatIntervalSeconds, e.HeartbeatIntervalSeconds)
	}
	if e.Retries < 0 {
		return fmt.Errorf("retries must be non-negative, got %d", e.Retries)
	}
	switch e.Type {
	case CheckTCP:
		if e.TCPPort < 1 || e.TCPPort > 65535 {
			return fmt.Errorf("invalid tcp port %d", e.TCPPort)
		}
	case CheckKafkaProducer, CheckKafkaConsumer:
		if e.KafkaTopic == "" {
			return fmt.Errorf("kafka topic is required for %s checks", e.Type)
		}
		if len(e.Brokers()) == 0 {
			return fmt.Errorf("at least one kafka broker is required")
		}
	}
	return nil
}

// StatusOK reports whether an HTTP response code satisfies the endpoint's
// accepted status set. An empty set means any 2xx is accepted.
func (e *Endpoint) StatusOK(code int) bool {
	if len(e.OKHTTPStatuses) == 0 {
		return code >= 200 && code < 300
	}
	for _, ok := range e.OKHTTPStatuses {
		if code == ok {
			return true
		}
	}
	return false
}
