package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Submission
	MessagesSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_submitted_total",
			Help: "Messages accepted by the submission service",
		},
		[]string{"kind"}, // "user" or "ai"
	)

	SubmitRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_submit_rejected_total",
			Help: "Send requests rejected before any side effect",
		},
		[]string{"kind"},
	)

	Deliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_realtime_deliveries_total",
			Help: "Room deliveries requested by the submission service",
		},
	)

	// Durable enqueue
	PublishOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_broker_publish_total",
			Help: "Durable enqueue outcomes after retry",
		},
		[]string{"outcome"}, // "succeeded" or "exhausted"
	)

	MessagesBuffered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_buffered_total",
			Help: "Messages parked in the cache failure buffer",
		},
	)

	MessagesRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_recovered_total",
			Help: "Buffered messages re-enqueued by the recovery loop",
		},
	)

	// Persistence
	Flushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_persister_flushes_total",
			Help: "Batch flush attempts",
		},
		[]string{"result"}, // "ok" or "error"
	)

	FlushBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_persister_batch_size",
			Help:    "Records per flushed batch",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2500},
		},
	)

	InvalidRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_persister_invalid_records_total",
			Help: "Log records skipped because they could not be parsed",
		},
	)

	BufferedRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_persister_buffered_records",
			Help: "Records consumed but not yet persisted",
		},
	)

	// Reads
	HistoryReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_history_reads_total",
			Help: "History reads by the source that served them",
		},
		[]string{"source"}, // "cache" or "store"
	)

	// Gateway
	Connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_websocket_connections",
			Help: "Open websocket connections",
		},
	)

	TokenRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_websocket_token_refreshes_total",
			Help: "Silent access-token refreshes during the websocket handshake",
		},
	)
)
