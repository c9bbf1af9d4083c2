package infra

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsRegistry = prometheus.NewRegistry()
	metricsOnce     sync.Once

	unknownFills = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "samco_unknown_fills_total",
		Help: "Fills reported by the broker for order ids this process does not track.",
	})
	watchdogReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "samco_watchdog_reconnects_total",
		Help: "Reconnect attempts triggered by the session watchdog.",
	})
	droppedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "samco_dropped_frames_total",
		Help: "Inbound stream frames dropped as unparseable or unrecognized.",
	})
	brokerRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "samco_broker_rejections_total",
		Help: "Order requests rejected by the broker at the business level.",
	})
	ticksEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "samco_ticks_emitted_total",
			Help: "Market data events emitted, by kind.",
		},
		[]string{"kind"},
	)
)

// InitMetrics registers collectors with the registry once.
func InitMetrics() {
	metricsOnce.Do(func() {
		metricsRegistry.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			unknownFills,
			watchdogReconnects,
			droppedFrames,
			brokerRejections,
			ticksEmitted,
		)
	})
}

// MetricsHandler exposes the Prometheus metrics endpoint handler.
func MetricsHandler() http.Handler {
	InitMetrics()
	return promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{})
}

// IncUnknownFill counts a fill dropped because no tracked order matched.
func IncUnknownFill() {
	InitMetrics()
	unknownFills.Inc()
}

// IncWatchdogReconnect counts a watchdog-triggered reconnect attempt.
func IncWatchdogReconnect() {
	InitMetrics()
	watchdogReconnects.Inc()
}

// IncDroppedFrame counts a dropped inbound stream frame.
func IncDroppedFrame() {
	InitMetrics()
	droppedFrames.Inc()
}

// IncBrokerRejection counts a business-level broker rejection.
func IncBrokerRejection() {
	InitMetrics()
	brokerRejections.Inc()
}

// IncTickEmitted counts an emitted market data event of the given kind.
func IncTickEmitted(kind string) {
	InitMetrics()
	ticksEmitted.WithLabelValues(kind).Inc()
}
