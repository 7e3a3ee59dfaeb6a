package metrics

import "github.com/prometheus/client_golang/prometheus"

var SyncPasses = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "trialsync",
	Subsystem: "engine",
	Name:      "passes_total",
}, []string{"result"})

var PassDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "trialsync",
	Subsystem: "engine",
	Name:      "pass_duration_seconds",
	Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
})

var FilesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "trialsync",
	Subsystem: "engine",
	Name:      "files_total",
}, []string{"outcome"})

var SyncInProgress = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "trialsync",
	Subsystem: "scheduler",
	Name:      "sync_in_progress",
})

var LastPassUnix = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "trialsync",
	Subsystem: "scheduler",
	Name:      "last_pass_timestamp_seconds",
})

var TicksSkipped = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "trialsync",
	Subsystem: "scheduler",
	Name:      "ticks_skipped_total",
})

func init() {
	prometheus.MustRegister(
		SyncPasses,
		PassDuration,
		FilesProcessed,
		SyncInProgress,
		LastPassUnix,
		TicksSkipped,
	)
}
