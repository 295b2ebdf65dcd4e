// Package metrics declares the Prometheus collectors exposed on /metrics.
//
// Naming convention: namespace_subsystem_name
// - namespace: ptt (application-level grouping)
// - subsystem: connection, room, frame, floor, relay, auth, circuit_breaker, rate_limit, redis
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the current number of live WebSocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ptt",
		Subsystem: "connection",
		Name:      "active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of non-empty rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ptt",
		Subsystem: "room",
		Name:      "active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the number of members in each room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ptt",
		Subsystem: "room",
		Name:      "members",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	// FramesProcessed tracks every inbound frame the router dispatched, by
	// message type and outcome.
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt",
		Subsystem: "frame",
		Name:      "processed_total",
		Help:      "Total inbound frames processed",
	}, []string{"type", "status"})

	// FrameProcessingDuration tracks router dispatch latency per message type.
	FrameProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ptt",
		Subsystem: "frame",
		Name:      "processing_seconds",
		Help:      "Time spent dispatching an inbound frame",
		Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"type"})

	// FloorGrants counts floor requests that succeeded.
	FloorGrants = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ptt",
		Subsystem: "floor",
		Name:      "grants_total",
		Help:      "Total number of floor requests granted",
	})

	// FloorDenials counts floor requests rejected because the floor was held.
	FloorDenials = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ptt",
		Subsystem: "floor",
		Name:      "denials_total",
		Help:      "Total number of floor requests denied",
	})

	// FloorExpirations counts grants reclaimed by TTL rather than an explicit release.
	FloorExpirations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ptt",
		Subsystem: "floor",
		Name:      "expirations_total",
		Help:      "Total number of floor grants reclaimed by TTL expiry",
	})

	// RelayFramesForwarded counts WebRTC relay frames successfully routed to a target.
	RelayFramesForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt",
		Subsystem: "relay",
		Name:      "frames_forwarded_total",
		Help:      "Total WebRTC relay frames forwarded to their target(s)",
	}, []string{"type"})

	// RelayFramesDropped counts relay frames dropped because their target was
	// gone, and offers rejected because the sender did not hold the floor.
	RelayFramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt",
		Subsystem: "relay",
		Name:      "frames_dropped_total",
		Help:      "Total WebRTC relay frames dropped due to a missing target or a sender without the floor",
	}, []string{"type"})

	// AuthOutcomes counts AUTH frame results, by outcome (success, failed, timeout).
	AuthOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt",
		Subsystem: "auth",
		Name:      "outcomes_total",
		Help:      "Total AUTH handshake outcomes",
	}, []string{"outcome"})

	// CircuitBreakerState tracks circuit breaker state: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ptt",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Half-Open, 2: Open)",
	}, []string{"service"})

	// CircuitBreakerFailures counts requests rejected because a breaker was open.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total number of requests rejected by an open circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks requests/frames rejected by a rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded a rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks requests/frames checked against a rate limiter.
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against a rate limiter",
	}, []string{"endpoint"})

	// RedisOperationsTotal tracks fan-out bus operations against Redis.
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ptt",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks fan-out bus operation latency.
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ptt",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
