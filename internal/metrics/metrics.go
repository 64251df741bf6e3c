package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	ParticipantsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_participants_registered_total",
			Help: "Total participants registered",
		},
	)

	ConversationsOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_conversations_opened_total",
			Help: "Total conversations created",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_messages_sent_total",
			Help: "Total messages appended",
		},
		[]string{"message_type"}, // "direct", "inquiry" or "booking"
	)

	MessagesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_messages_read_total",
			Help: "Total messages flipped to read",
		},
	)

	TxRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_tx_retries_total",
			Help: "Transactions retried after a transient conflict",
		},
		[]string{"operation"},
	)

	EventPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_event_publish_failures_total",
			Help: "Change events that could not be published",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inbox_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	StoreTxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_store_tx_duration_seconds",
			Help:    "Write transaction latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"driver"},
	)
)
