// Package metrics declares the Prometheus metrics for the sync fabric.
//
// Naming convention: namespace_subsystem_name
//   - namespace: sync_fabric (application-level grouping)
//   - subsystem: websocket, room, turn, buffer, lock, storage, circuit_breaker,
//     rate_limit, redis, authfront (feature-level grouping)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveWebSocketConnections tracks the current number of active client connections.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sync_fabric",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of rooms with a live TurnLoop.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sync_fabric",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomClients tracks the number of connected clients per room.
	RoomClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sync_fabric",
		Subsystem: "room",
		Name:      "clients_count",
		Help:      "Number of connected clients in each room",
	}, []string{"room_id"})

	// WebsocketEvents tracks the total number of frames processed per kind.
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sync_fabric",
		Subsystem: "websocket",
		Name:      "frames_total",
		Help:      "Total WebSocket frames processed",
	}, []string{"frame_type", "status"})

	// TurnsCommitted tracks the total number of committed turns per room.
	TurnsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sync_fabric",
		Subsystem: "turn",
		Name:      "committed_total",
		Help:      "Total number of turns committed",
	}, []string{"room_id"})

	// TurnDuration tracks the wall-clock time to process one turn.
	TurnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sync_fabric",
		Subsystem: "turn",
		Name:      "duration_seconds",
		Help:      "Time spent processing one turn",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"room_id"})

	// CurrentCookie tracks the latest committed cookie per room.
	CurrentCookie = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sync_fabric",
		Subsystem: "turn",
		Name:      "cookie",
		Help:      "Current committed cookie for the room",
	}, []string{"room_id"})

	// PokesSent tracks pokes delivered to clients.
	PokesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sync_fabric",
		Subsystem: "turn",
		Name:      "pokes_sent_total",
		Help:      "Total pokes sent to clients",
	}, []string{"room_id"})

	// BufferSize tracks the BufferSizer's current adaptive delay per room.
	BufferSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sync_fabric",
		Subsystem: "buffer",
		Name:      "current_ms",
		Help:      "Current BufferSizer delay window in milliseconds",
	}, []string{"room_id"})

	// BufferDepth tracks the number of pending mutations awaiting a turn.
	BufferDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sync_fabric",
		Subsystem: "buffer",
		Name:      "depth",
		Help:      "Number of mutations currently buffered",
	}, []string{"room_id"})

	// TurnLockWait tracks time spent waiting to acquire the TurnLock.
	TurnLockWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sync_fabric",
		Subsystem: "lock",
		Name:      "wait_seconds",
		Help:      "Time spent waiting to acquire the TurnLock",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
	}, []string{"room_id"})

	// TurnLockStuck counts watchdog warnings for a held lock exceeding its expected duration.
	TurnLockStuck = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sync_fabric",
		Subsystem: "lock",
		Name:      "stuck_total",
		Help:      "Total stuck-lock watchdog warnings",
	}, []string{"room_id"})

	// StorageOperations tracks the total number of durable KV operations.
	StorageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sync_fabric",
		Subsystem: "storage",
		Name:      "operations_total",
		Help:      "Total number of durable KV operations",
	}, []string{"operation", "status"})

	// StorageOperationDuration tracks durable KV operation latency.
	StorageOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sync_fabric",
		Subsystem: "storage",
		Name:      "operation_duration_seconds",
		Help:      "Duration of durable KV operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// CircuitBreakerState tracks circuit breaker state: 0=Closed,1=Open,2=Half-Open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sync_fabric",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks requests rejected by the circuit breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sync_fabric",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks requests that exceeded the rate limit.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sync_fabric",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks requests checked against the rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sync_fabric",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	// RedisOperationsTotal tracks Redis pub/sub and set operations.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sync_fabric",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks Redis operation latency.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sync_fabric",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// AuthFrontInvalidations tracks invalidation dispatch outcomes.
	AuthFrontInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sync_fabric",
		Subsystem: "authfront",
		Name:      "invalidations_total",
		Help:      "Total invalidation calls processed, by kind and outcome",
	}, []string{"kind", "status"})

	// ErrorsTotal tracks error frames and internal errors by kind.
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sync_fabric",
		Subsystem: "errors",
		Name:      "total",
		Help:      "Total errors observed, by ErrorKind",
	}, []string{"kind"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
