// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "socksd"

// Metrics holds every Prometheus collector the proxy reports. A nil
// *Metrics is not usable directly; socks5.Handler instead falls back to a
// no-op implementation of its own metrics interface when none is supplied.
type Metrics struct {
	SOCKS5ConnectionsActive prometheus.Gauge
	SOCKS5ConnectionsTotal  prometheus.Counter
	SOCKS5AuthFailuresTotal prometheus.Counter
	SOCKS5ConnectLatencyHist prometheus.Histogram

	BytesClientToTarget prometheus.Counter
	BytesTargetToClient prometheus.Counter

	WebSocketConnectionsActive prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide Metrics instance, registered against the
// default Prometheus registry on first use.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics registers every collector against the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers every collector against reg, so tests
// and multiple server instances in one process can avoid collector
// re-registration panics.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SOCKS5ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "socks5_connections_active",
			Help:      "Number of SOCKS5 sessions currently relaying traffic",
		}),
		SOCKS5ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socks5_connections_total",
			Help:      "Total SOCKS5 sessions that reached the relay phase",
		}),
		SOCKS5AuthFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socks5_auth_failures_total",
			Help:      "Total RFC 1929 username/password authentication failures",
		}),
		SOCKS5ConnectLatencyHist: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "socks5_connect_latency_seconds",
			Help:      "Time from accepting a CONNECT request to the outbound dial completing",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		BytesClientToTarget: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_bytes_client_to_target_total",
			Help:      "Total bytes relayed from SOCKS5 clients to their dialed targets",
		}),
		BytesTargetToClient: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_bytes_target_to_client_total",
			Help:      "Total bytes relayed from dialed targets back to SOCKS5 clients",
		}),
		WebSocketConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Number of SOCKS5 sessions currently tunneled over WebSocket",
		}),
	}
}

// The methods below satisfy the handlerMetrics interface that
// internal/socks5.Handler depends on, so the package can be wired in
// without socks5 importing Prometheus types directly.

func (m *Metrics) SOCKS5ConnectionOpened() {
	m.SOCKS5ConnectionsActive.Inc()
	m.SOCKS5ConnectionsTotal.Inc()
}

func (m *Metrics) SOCKS5ConnectionClosed() {
	m.SOCKS5ConnectionsActive.Dec()
}

func (m *Metrics) SOCKS5AuthFailure() {
	m.SOCKS5AuthFailuresTotal.Inc()
}

func (m *Metrics) SOCKS5ConnectLatency(d time.Duration) {
	m.SOCKS5ConnectLatencyHist.Observe(d.Seconds())
}

func (m *Metrics) SOCKS5BytesTransferred(clientToTarget, targetToClient int64) {
	if clientToTarget > 0 {
		m.BytesClientToTarget.Add(float64(clientToTarget))
	}
	if targetToClient > 0 {
		m.BytesTargetToClient.Add(float64(targetToClient))
	}
}
