package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric exported by the book engine and
// the replicated store. Registration is process-global via promauto;
// construct once per process.
type Metrics struct {
	// --- Book engine ---
	BookUpdatesApplied *prometheus.CounterVec
	BookErrors         *prometheus.CounterVec
	BookCount          prometheus.Gauge
	ConsolidatedDeltas prometheus.Counter

	// --- Fan-out ---
	HandlerCallbacks *prometheus.CounterVec
	BroadcastFrames  *prometheus.CounterVec
	BroadcastBytes   prometheus.Counter
	ReplayFrames     prometheus.Counter
	PublishErrors    prometheus.Counter

	// --- Ingestion ---
	FeedEvents   *prometheus.CounterVec
	FeedParseErr *prometheus.CounterVec

	// --- Projection ---
	ProjectionRows  *prometheus.CounterVec
	ProjectionDrops prometheus.Counter
	ProjectionDur   prometheus.Histogram

	// --- Replicated store ---
	StoreHostState        *prometheus.GaugeVec
	StoreElections        prometheus.Counter
	StoreHeartbeatsSent   prometheus.Counter
	StoreHeartbeatsRecvd  prometheus.Counter
	StoreHeartbeatTimeout prometheus.Counter
	StoreRecordsCommitted *prometheus.CounterVec
	StoreRecordsAborted   *prometheus.CounterVec
	StoreReplicationSent  prometheus.Counter
	StoreRecoverySent     prometheus.Counter
	StoreReplicationLag   *prometheus.GaugeVec
	StoreReconnects       prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	batchBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
	}

	return &Metrics{
		BookUpdatesApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "book_updates_applied_total",
			Help: "Book mutations applied, by operation",
		}, []string{"op"}),

		BookErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "book_errors_total",
			Help: "Recoverable book errors raised to the exception slot",
		}, []string{"kind"}),

		BookCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "book_order_books",
			Help: "Live order books, consolidated books included",
		}),

		ConsolidatedDeltas: promauto.NewCounter(prometheus.CounterOpts{
			Name: "book_consolidated_deltas_total",
			Help: "Per-level deltas propagated into consolidated books",
		}),

		HandlerCallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "book_handler_callbacks_total",
			Help: "Subscriber handler invocations, by slot",
		}, []string{"slot"}),

		BroadcastFrames: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "book_broadcast_frames_total",
			Help: "Frames written to the broadcast stream, by type",
		}, []string{"type"}),

		BroadcastBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "book_broadcast_bytes_total",
			Help: "Bytes appended to the broadcast stream",
		}),

		ReplayFrames: promauto.NewCounter(prometheus.CounterOpts{
			Name: "book_replay_frames_total",
			Help: "Frames reapplied during replay",
		}),

		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "book_publish_errors_total",
			Help: "Failed NATS publications of broadcast frames",
		}),

		FeedEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "book_feed_events_total",
			Help: "Feed events consumed, by subject class",
		}, []string{"subject"}),

		FeedParseErr: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "book_feed_parse_errors_total",
			Help: "Feed events dropped for malformed payloads",
		}, []string{"subject"}),

		ProjectionRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "book_projection_rows_total",
			Help: "Rows written by the Postgres projection, by table",
		}, []string{"table"}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "book_projection_drops_total",
			Help: "Snapshots dropped due to full projection channel",
		}),

		ProjectionDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "book_projection_batch_seconds",
			Help:    "Projection batch flush duration",
			Buckets: batchBuckets,
		}),

		StoreHostState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "store_host_state",
			Help: "Replicated-store host state (numeric HostState)",
		}, []string{"host"}),

		StoreElections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "store_elections_total",
			Help: "Master elections started",
		}),

		StoreHeartbeatsSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "store_heartbeats_sent_total",
			Help: "Heartbeats sent to peers",
		}),

		StoreHeartbeatsRecvd: promauto.NewCounter(prometheus.CounterOpts{
			Name: "store_heartbeats_received_total",
			Help: "Heartbeats received from peers",
		}),

		StoreHeartbeatTimeout: promauto.NewCounter(prometheus.CounterOpts{
			Name: "store_heartbeat_timeouts_total",
			Help: "Peer links dropped on heartbeat timeout",
		}),

		StoreRecordsCommitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "store_records_committed_total",
			Help: "Records committed, by database",
		}, []string{"db"}),

		StoreRecordsAborted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "store_records_aborted_total",
			Help: "Allocations aborted, by database",
		}, []string{"db"}),

		StoreReplicationSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "store_replication_records_total",
			Help: "Records streamed to the next replication hop",
		}),

		StoreRecoverySent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "store_recovery_records_total",
			Help: "Historical records streamed during peer recovery",
		}),

		StoreReplicationLag: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "store_replication_lag_records",
			Help: "Local RN minus peer RN, by peer and database",
		}, []string{"host", "db"}),

		StoreReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "store_reconnects_total",
			Help: "Peer reconnect attempts",
		}),
	}
}
