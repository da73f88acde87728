package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealroom_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dealroom_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Session metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dealroom_ws_sessions_active",
			Help: "Live websocket sessions",
		},
	)

	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dealroom_users_online",
			Help: "Users with at least one live session or within the presence grace period",
		},
	)

	RejectedSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealroom_ws_sessions_rejected_total",
			Help: "Handshakes refused before upgrade",
		},
		[]string{"reason"},
	)

	MalformedFrames = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dealroom_ws_malformed_frames_total",
			Help: "Inbound frames that could not be decoded",
		},
	)

	// RPC metrics
	RPCCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealroom_rpc_calls_total",
			Help: "RPC calls answered, by method and result code",
		},
		[]string{"method", "code"},
	)

	RPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dealroom_rpc_duration_seconds",
			Help:    "RPC handling time",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method"},
	)

	WorkerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dealroom_worker_queue_depth",
			Help: "Jobs waiting for a worker",
		},
	)

	// Business metrics
	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dealroom_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealroom_messages_appended_total",
			Help: "Total messages appended",
		},
		[]string{"kind"}, // "text" or "contract"
	)

	ContractTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealroom_contract_transitions_total",
			Help: "Contract transitions, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// Fan-out metrics
	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealroom_events_delivered_total",
			Help: "Event frames enqueued on live sessions",
		},
		[]string{"event"},
	)

	SlowConsumersClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dealroom_slow_consumers_closed_total",
			Help: "Sessions closed because their outbound buffer was full",
		},
	)

	PushForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dealroom_push_forwarded_total",
			Help: "Push summaries handed to the push collaborator",
		},
		[]string{"result"},
	)

	// Infrastructure metrics
	StoreRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dealroom_store_read_retries_total",
			Help: "Read operations retried after the store was unavailable",
		},
	)

	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dealroom_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)
