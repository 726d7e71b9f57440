// Package metrics exposes settlement counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Operations *prometheus.CounterVec
	Latency    *prometheus.HistogramVec
	Transfers  *prometheus.CounterVec
	OpenOrders prometheus.Gauge
	Requests   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custodex_operations_total",
				Help: "Settlement operations by kind and result.",
			},
			[]string{"op", "result"},
		),
		Latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "custodex_operation_duration_seconds",
				Help:    "Time spent holding the ledger lock per operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		Transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custodex_gateway_transfers_total",
				Help: "Outbound custody transfers by result.",
			},
			[]string{"result"},
		),
		OpenOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "custodex_open_orders",
			Help: "Orders resting in the book.",
		}),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custodex_http_requests_total",
				Help: "API requests by route and status.",
			},
			[]string{"route", "status"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Operations, m.Latency, m.Transfers, m.OpenOrders, m.Requests)
	}
	return m
}

// NewRegistry returns a registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func (m *Metrics) ObserveOperation(op, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, result).Inc()
	m.Latency.WithLabelValues(op).Observe(took.Seconds())
}

func (m *Metrics) ObserveTransfer(result string) {
	if m == nil {
		return
	}
	m.Transfers.WithLabelValues(result).Inc()
}

func (m *Metrics) SetOpenOrders(n int) {
	if m == nil {
		return
	}
	m.OpenOrders.Set(float64(n))
}

func (m *Metrics) ObserveRequest(route, status string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, status).Inc()
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
