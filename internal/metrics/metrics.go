package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSuccess           = "success"
	OutcomeNotFound          = "not_found"
	OutcomeInsufficientStock = "insufficient_stock"
	OutcomePersistence       = "persistence"
	OutcomeInvalid           = "invalid"
)

type Metrics struct {
	registry *prometheus.Registry

	CheckoutRequests *prometheus.CounterVec
	CheckoutDuration prometheus.Histogram
	HTTPRequests     *prometheus.CounterVec
	OutboxPublished  prometheus.Counter
}

// New registers every collector on its own registry so tests can build as many as they like.
func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": service}

	m := &Metrics{
		registry: reg,
		CheckoutRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "checkout_requests_total",
			Help:        "Checkout attempts by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		CheckoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "checkout_duration_seconds",
			Help:        "Checkout latency including the wait for the product row lock.",
			ConstLabels: labels,
			Buckets:     []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests.",
			ConstLabels: labels,
		}, []string{"route", "status"}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "outbox_published_total",
			Help:        "Outbox records delivered to kafka.",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(
		m.CheckoutRequests,
		m.CheckoutDuration,
		m.HTTPRequests,
		m.OutboxPublished,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
