package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the collaboration server.
//
// Naming convention: namespace_subsystem_name
// - namespace: liveroom (application-level grouping)
// - subsystem: websocket, room, storage (feature-level grouping)
// - name: specific metric (connections_active, ops_applied_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, occupancy)
// - Counter: Cumulative events (frames processed, ops applied)
// - Histogram: Latency distributions (frame processing time)

var (
	// ActiveConnections tracks the current number of open WebSocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "liveroom",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of live rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "liveroom",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomOccupancy tracks the connection count per room.
	RoomOccupancy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "liveroom",
		Subsystem: "room",
		Name:      "occupancy",
		Help:      "Number of connections in each room",
	}, []string{"room_id"})

	// FramesProcessed counts inbound frames by type and outcome.
	// status is "ok" or "dropped" (protocol errors are dropped silently
	// on the wire but still counted here).
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveroom",
		Subsystem: "websocket",
		Name:      "frames_total",
		Help:      "Total inbound WebSocket frames processed",
	}, []string{"frame_type", "status"})

	// FrameProcessingDuration tracks time spent handling inbound frames.
	FrameProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "liveroom",
		Subsystem: "websocket",
		Name:      "frame_processing_seconds",
		Help:      "Time spent processing inbound frames",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	}, []string{"frame_type"})

	// StorageOpsApplied counts CRDT ops applied to room documents.
	StorageOpsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveroom",
		Subsystem: "storage",
		Name:      "ops_applied_total",
		Help:      "Total storage ops applied, by op type",
	}, []string{"op_type"})

	// SnapshotPersistErrors counts failed snapshot store round-trips.
	SnapshotPersistErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "liveroom",
		Subsystem: "storage",
		Name:      "snapshot_persist_errors_total",
		Help:      "Total snapshot persistence failures",
	})

	// HeartbeatTimeouts counts connections downgraded to offline by the reaper.
	HeartbeatTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "liveroom",
		Subsystem: "websocket",
		Name:      "heartbeat_timeouts_total",
		Help:      "Total connections marked offline due to heartbeat timeout",
	})

	// RateLimitExceeded counts rejected requests by endpoint and limit scope.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveroom",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total requests rejected by rate limiting",
	}, []string{"endpoint", "scope"})

	// CircuitBreakerState exposes the current breaker state (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "liveroom",
		Subsystem: "storage",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per backend (0=closed, 1=open, 2=half-open)",
	}, []string{"backend"})

	// CircuitBreakerRejections counts calls refused while a breaker is open.
	CircuitBreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveroom",
		Subsystem: "storage",
		Name:      "circuit_breaker_rejections_total",
		Help:      "Total calls rejected by an open circuit breaker",
	}, []string{"backend"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
