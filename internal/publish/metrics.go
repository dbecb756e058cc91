package publish

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/cratehub/registry/internal/publish")
}

var (
	opLabels = []string{"op", "success"}

	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "registry",
		Subsystem: "publish",
		Name:      "op_duration_seconds",
		Help:      "Duration of a publish pipeline operation, by op and outcome.",
	}, opLabels)
	opTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "publish",
		Name:      "op_total",
		Help:      "Count of publish pipeline operations, by op and outcome.",
	}, opLabels)
)

// observe starts a timer for op and returns a func, meant to be
// deferred immediately, that records the outcome against *err's value
// at the time the deferred call runs.
func observe(op string, err *error) func() {
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		opDuration.WithLabelValues(op, strconv.FormatBool(*err == nil)).Observe(v)
	}))
	return func() {
		opTotal.WithLabelValues(op, strconv.FormatBool(*err == nil)).Inc()
		timer.ObserveDuration()
	}
}
