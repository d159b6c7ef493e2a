package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Solver execution metrics
	// ============================================
	SolverExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_solver_executions_total",
			Help: "Total number of solver executions by direction and strategy",
		},
		[]string{"direction", "strategy", "result"},
	)

	SolverValidationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_solver_validation_rejections_total",
			Help: "Total number of intents rejected during validation",
		},
		[]string{"direction", "reason"},
	)

	SolverSettleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_solver_settle_duration_seconds",
			Help:    "Time from submission to terminal outcome",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"strategy"},
	)

	SolverInFlightRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_solver_in_flight_rejections_total",
		Help: "Concurrent solver invocations rejected by the in-flight guard",
	})

	// ============================================
	// Chain read metrics
	// ============================================
	OracleReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_oracle_reads_total",
			Help: "Total chain reads issued by the balance/allowance oracle",
		},
		[]string{"field", "cache"},
	)

	OracleReadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_oracle_read_duration_seconds",
			Help:    "Chain read duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"field"},
	)

	// ============================================
	// Approval metrics
	// ============================================
	ApprovalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_approval_requests_total",
			Help: "Approval attempts by path and result",
		},
		[]string{"path", "result"},
	)

	// ============================================
	// Safe batch metrics
	// ============================================
	SafeProposalPolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_safe_proposal_polls_total",
		Help: "Status polls issued against the multisig proposal service",
	})

	SafeProposalOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_safe_proposal_outcomes_total",
			Help: "Terminal batch proposal statuses",
		},
		[]string{"status"},
	)

	// ============================================
	// NATS metrics
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backend_nats_events_published_total",
			Help: "Execution events published to NATS",
		},
		[]string{"event_type"},
	)

	// ============================================
	// WebSocket metrics
	// ============================================
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backend_websocket_connections",
		Help: "Currently connected websocket status subscribers",
	})
)
