package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter and gauge the trading core exports. One
// instance per process, registered on its own registry so tests can create
// as many as they need without collisions.
type Metrics struct {
	registry *prometheus.Registry

	SequenceGaps    *prometheus.CounterVec
	CrossedBooks    *prometheus.CounterVec
	Resyncs         *prometheus.CounterVec
	Reconnects      prometheus.Counter
	OrdersSubmitted prometheus.Counter
	OrdersRejected  prometheus.Counter
	FillsApplied    prometheus.Counter
	DuplicateFills  prometheus.Counter
	ReconcileRuns   prometheus.Counter
	ReconcileFixes  prometheus.Counter
	PositionDrift   prometheus.Counter
	StreamState     prometheus.Gauge
	RateLimitWaits  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SequenceGaps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quant_book_sequence_gaps_total",
			Help: "Sequence gaps detected in the delta stream, per symbol.",
		}, []string{"symbol"}),
		CrossedBooks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quant_book_crossed_total",
			Help: "Crossed-book detections, per symbol.",
		}, []string{"symbol"}),
		Resyncs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quant_book_resyncs_total",
			Help: "Snapshot resyncs performed, per symbol.",
		}, []string{"symbol"}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "quant_stream_reconnects_total",
			Help: "Stream reconnect attempts.",
		}),
		OrdersSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "quant_orders_submitted_total",
			Help: "Orders dispatched to the venue.",
		}),
		OrdersRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "quant_orders_rejected_total",
			Help: "Orders refused by the venue.",
		}),
		FillsApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "quant_fills_applied_total",
			Help: "Incremental fills applied to the order store.",
		}),
		DuplicateFills: factory.NewCounter(prometheus.CounterOpts{
			Name: "quant_fills_duplicate_total",
			Help: "Fills dropped by fill-id dedupe.",
		}),
		ReconcileRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "quant_reconcile_runs_total",
			Help: "Reconciliation passes completed.",
		}),
		ReconcileFixes: factory.NewCounter(prometheus.CounterOpts{
			Name: "quant_reconcile_corrections_total",
			Help: "Local order records corrected toward venue state.",
		}),
		PositionDrift: factory.NewCounter(prometheus.CounterOpts{
			Name: "quant_position_drift_total",
			Help: "Position drift detections against venue snapshots.",
		}),
		StreamState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quant_stream_state",
			Help: "Supervisor connection state (0 disconnected, 1 connecting, 2 subscribed, 3 degraded, 4 resyncing).",
		}),
		RateLimitWaits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quant_rate_limit_waits_total",
			Help: "Calls that blocked on a rate-limit bucket, per bucket.",
		}, []string{"bucket"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
