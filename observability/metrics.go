// Package observability exposes the relay's Prometheus metrics.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat_relay"

// Metrics groups every collector of the relay. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	gatherer       prometheus.Gatherer
	connections    prometheus.Gauge
	rooms          prometheus.Gauge
	broadcasts     *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	webhooks       *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
}

// NewMetrics registers the collectors on a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of open client connections.",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of rooms with at least one local member.",
		}),
		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Messages fanned out to a room, by origin.",
		}, []string{"origin"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-recipient delivery attempts, by result.",
		}, []string{"result"}),
		webhooks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Provider webhook requests, by response status.",
		}, []string{"status"}),
		upstreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Failed provider calls, by operation.",
		}, []string{"op"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) Rooms(count int) {
	if m != nil {
		m.rooms.Set(float64(count))
	}
}

func (m *Metrics) Broadcast(local bool) {
	if m == nil {
		return
	}
	origin := "remote"
	if local {
		origin = "local"
	}
	m.broadcasts.WithLabelValues(origin).Inc()
}

func (m *Metrics) Delivery(result string) {
	if m != nil {
		m.deliveries.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Webhook(status int) {
	if m != nil {
		m.webhooks.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}

func (m *Metrics) UpstreamError(op string) {
	if m != nil {
		m.upstreamErrors.WithLabelValues(op).Inc()
	}
}
