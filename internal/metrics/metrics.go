package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ledger operation counters and projection histograms.

var (
	OpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainequity",
		Subsystem: "ledger",
		Name:      "operations_total",
		Help:      "Total ledger operations by outcome",
	}, []string{"operation", "outcome"})

	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainequity",
		Subsystem: "ledger",
		Name:      "transfers_total",
		Help:      "Total transfer attempts by result",
	}, []string{"result"})

	EventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainequity",
		Subsystem: "ledger",
		Name:      "events_appended_total",
		Help:      "Total events appended to the ledger log",
	}, []string{"type"})

	StreamPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chainequity",
		Subsystem: "stream",
		Name:      "publish_errors_total",
		Help:      "Total failed event stream publishes",
	})

	CapTableBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainequity",
		Subsystem: "captable",
		Name:      "builds_total",
		Help:      "Total cap table snapshot computations by source",
	}, []string{"source"}) // replay | cache

	CapTableBuildLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chainequity",
		Subsystem: "captable",
		Name:      "build_duration_seconds",
		Help:      "Cap table replay duration",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	ReconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chainequity",
		Subsystem: "reconcile",
		Name:      "runs_total",
		Help:      "Total supply reconciliation runs",
	})

	ReconcileMismatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chainequity",
		Subsystem: "reconcile",
		Name:      "mismatches_total",
		Help:      "Total tokens found with supply drift",
	})

	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainequity",
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Total alerts delivered by channel and type",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chainequity",
		Subsystem: "alerts",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts suppressed by the cooldown window",
	}, []string{"channel", "type"})

	StreamBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chainequity",
		Subsystem: "stream",
		Name:      "breaker_state",
		Help:      "Event stream circuit breaker state (0 closed, 1 open, 2 half-open)",
	})

	HTTPRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chainequity",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "API request duration by route and status",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"route", "status"})
)
