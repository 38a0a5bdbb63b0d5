package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

var (
	fetchedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "touchpoints",
		Subsystem: "kafka_source",
		Name:      "messages_fetched_total",
		Help:      "Number of Kafka messages handed to the loader.",
	}, []string{"topic"})

	committedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "touchpoints",
		Subsystem: "kafka_source",
		Name:      "messages_committed_total",
		Help:      "Number of Kafka messages acknowledged after their batch was stored.",
	}, []string{"topic"})

	commitErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "touchpoints",
		Subsystem: "kafka_source",
		Name:      "commit_errors_total",
		Help:      "Number of failed offset commits per topic.",
	}, []string{"topic"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "touchpoints",
		Subsystem: "kafka_source",
		Name:      "last_message_timestamp_seconds",
		Help:      "Kafka timestamp of the most recently committed message per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(fetchedCounter, committedCounter, commitErrorCounter, lastMessageGauge)
}

func recordFetched(msg kafka.Message) {
	fetchedCounter.WithLabelValues(msg.Topic).Inc()
}

func recordCommitted(msgs []kafka.Message) {
	for _, msg := range msgs {
		committedCounter.WithLabelValues(msg.Topic).Inc()
		if !msg.Time.IsZero() {
			lastMessageGauge.WithLabelValues(msg.Topic).Set(float64(msg.Time.Unix()))
		}
	}
}

func recordCommitError(topic string) {
	commitErrorCounter.WithLabelValues(topic).Inc()
}
