package export

import "github.com/prometheus/client_golang/prometheus"

var (
	exportAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clipd",
			Subsystem: "export",
			Name:      "attempts_total",
			Help:      "Export attempts by provider and result",
		},
		[]string{"provider", "result"},
	)

	lockOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clipd",
			Subsystem: "export",
			Name:      "lock_outcomes_total",
			Help:      "Outcomes of export coordination (skipped, acquired, waited, timeout)",
		},
		[]string{"outcome"},
	)

	lockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clipd",
			Subsystem: "export",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for another process to finish exporting",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 240, 480},
		},
	)
)

func init() {
	prometheus.MustRegister(exportAttempts, lockOutcomes, lockWait)
}
