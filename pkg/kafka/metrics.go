package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProbePublishTotal counts messages published by Kafka producer probes.
	ProbePublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_probe_publish_total",
			Help: "Total number of messages published by Kafka producer probes",
		},
		[]string{"topic"},
	)

	// ProbePublishErrors counts publish failures from Kafka producer probes.
	ProbePublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_probe_publish_errors_total",
			Help: "Total number of publish failures from Kafka producer probes",
		},
		[]string{"topic"},
	)

	// ProbePublishDuration observes the duration of probe publish round trips.
	ProbePublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_probe_publish_duration_seconds",
			Help:    "Duration of Kafka probe publish round trips in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	// ProbeConsumeTotal counts messages fetched by Kafka consumer probes.
	ProbeConsumeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_probe_consume_total",
			Help: "Total number of messages fetched by Kafka consumer probes",
		},
		[]string{"topic", "consumer_group"},
	)

	// ProbeConsumeErrors counts fetch failures from Kafka consumer probes.
	ProbeConsumeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_probe_consume_errors_total",
			Help: "Total number of fetch failures from Kafka consumer probes",
		},
		[]string{"topic", "consumer_group"},
	)
)
