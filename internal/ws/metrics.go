package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	gatewayUpgradeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gateway",
		Name:      "upgrade_seconds",
		Help:      "Latency spent upgrading HTTP connections to websockets.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	gatewayConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Name:      "connections",
		Help:      "Active websocket connections.",
	})

	gatewaySendQueueDepth = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gateway",
		Name:      "send_queue_depth",
		Help:      "Buffered outbound frames observed on enqueue.",
		Buckets:   prometheus.LinearBuckets(0, 8, 9),
	})

	tracer = otel.Tracer("github.com/example/menu-sync/ws")
)

func init() {
	prometheus.MustRegister(gatewayUpgradeLatency, gatewayConnections, gatewaySendQueueDepth)
}
