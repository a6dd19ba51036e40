package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	queryLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storage",
		Name:      "query_seconds",
		Help:      "Latency of menu store operations.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"operation"})

	publishedRestaurants = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "storage",
		Name:      "published_restaurants",
		Help:      "Restaurants currently published, as of the last listing.",
	})

	tracer = otel.Tracer("github.com/example/menu-sync/storage")
)

func init() {
	prometheus.MustRegister(queryLatency, publishedRestaurants)
}
