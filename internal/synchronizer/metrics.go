package synchronizer

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	reorderOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synchronizer",
		Name:      "reorders_total",
		Help:      "Optimistic reorders by final outcome.",
	}, []string{"collection", "outcome"})

	staleResponses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "synchronizer",
		Name:      "stale_responses_total",
		Help:      "Remote responses discarded because newer local state superseded them.",
	}, []string{"collection", "kind"})

	remoteLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "synchronizer",
		Name:      "remote_seconds",
		Help:      "Latency of remote store calls issued by the synchronizer.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"collection", "operation"})

	tracer = otel.Tracer("github.com/example/menu-sync/synchronizer")
)

func init() {
	prometheus.MustRegister(reorderOutcomes, staleResponses, remoteLatency)
}
