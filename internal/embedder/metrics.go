package embedder

import "github.com/prometheus/client_golang/prometheus"

var (
	embedItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clipd",
			Subsystem: "embed",
			Name:      "items_total",
			Help:      "Items embedded by modality",
		},
		[]string{"modality"},
	)

	embedErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clipd",
			Subsystem: "embed",
			Name:      "errors_total",
			Help:      "Embedding failures by kind",
		},
		[]string{"kind"},
	)

	backpressure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clipd",
			Subsystem: "embed",
			Name:      "backpressure_total",
			Help:      "Requests rejected by admission control",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(embedItems, embedErrors, backpressure)
}

func errorKind(err error) string {
	switch {
	case IsNotReady(err):
		return "not_ready"
	case IsUnsupported(err):
		return "unsupported"
	case IsTooBusy(err):
		return "too_busy"
	case IsImageNotFound(err):
		return "image_not_found"
	case IsInvalidInput(err):
		return "invalid_input"
	case IsNoUsableOutput(err):
		return "no_usable_output"
	default:
		return "runtime"
	}
}
