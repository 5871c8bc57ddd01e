package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CommandsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commands_processed_total",
			Help: "Total number of commands processed by the dispatcher (count)",
		},
		[]string{"family", "type", "outcome"},
	)

	CommandProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "command_processing_duration_ms",
			Help:    "Handler execution duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"family", "type"},
	)

	CommandsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commands_enqueued_total",
			Help: "Total number of commands accepted by the producer (count)",
		},
		[]string{"family", "type", "status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of command retries scheduled (count)",
		},
		[]string{"family"},
	)

	RetryQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "retry_queue_depth",
			Help: "Number of commands waiting in the delay scheduler (count)",
		},
		[]string{"family"},
	)

	DLQCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_commands_total",
			Help: "Total number of commands handed to the dead-letter sink (count)",
		},
		[]string{"family", "reason"},
	)

	ReaperSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reaper_swept_total",
			Help: "Total number of stale tracking records failed by the reaper (count)",
		},
	)

	TrackingUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_updates_total",
			Help: "Total number of tracking store status transitions (count)",
		},
		[]string{"status", "result"},
	)

	DuplicateDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duplicate_deliveries_total",
			Help: "Total number of redeliveries absorbed without re-executing a handler (count)",
		},
		[]string{"family"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)
)

func RegisterWorkerMetrics() {
	prometheus.MustRegister(CommandsProcessedTotal)
	prometheus.MustRegister(CommandProcessingDuration)
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(RetryQueueDepth)
	prometheus.MustRegister(DLQCommandsTotal)
	prometheus.MustRegister(ReaperSweptTotal)
	prometheus.MustRegister(TrackingUpdatesTotal)
	prometheus.MustRegister(DuplicateDeliveriesTotal)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterEventsMetrics() {
	prometheus.MustRegister(CommandsEnqueuedTotal)
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func ObserveCommandDuration(family, cmdType string, duration time.Duration) {
	CommandProcessingDuration.WithLabelValues(family, cmdType).Observe(float64(duration.Milliseconds()))
}

func IncCommandProcessed(family, cmdType, outcome string) {
	CommandsProcessedTotal.WithLabelValues(family, cmdType, outcome).Inc()
}

func IncCommandEnqueued(family, cmdType, status string) {
	CommandsEnqueuedTotal.WithLabelValues(family, cmdType, status).Inc()
}

func IncRetryAttempt(family string) {
	RetryAttemptsTotal.WithLabelValues(family).Inc()
}

func IncDLQCommand(family, reason string) {
	DLQCommandsTotal.WithLabelValues(family, reason).Inc()
}

func IncTrackingUpdate(status, result string) {
	TrackingUpdatesTotal.WithLabelValues(status, result).Inc()
}

func IncDuplicateDelivery(family string) {
	DuplicateDeliveriesTotal.WithLabelValues(family).Inc()
}

func AddReaperSwept(n float64) {
	ReaperSweptTotal.Add(n)
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}
