package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl1809/movie-rental/internal/port"
)

const namespace = "movie_rental"

// Prometheus implements port.Metrics on its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	operations          *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	conflictRetries     *prometheus.CounterVec
	invariantViolations *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	eventsPublished     *prometheus.CounterVec
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	p := &Prometheus{
		registry: registry,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Rental operations by outcome.",
		}, []string{"op", "outcome"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Rental operation latency including retries.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
		conflictRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_retries_total",
			Help:      "Atomic units retried after losing a write race.",
		}, []string{"op"}),
		invariantViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Inventory invariant violations detected, per title.",
		}, []string{"movie_id"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "events_published_total",
			Help:      "Domain events handed to Kafka by result.",
		}, []string{"type", "result"}),
	}

	registry.MustRegister(
		p.operations,
		p.operationDuration,
		p.conflictRetries,
		p.invariantViolations,
		p.httpRequests,
		p.httpDuration,
		p.eventsPublished,
	)
	return p
}

func (p *Prometheus) ObserveOperation(op string, outcome string, d time.Duration) {
	p.operations.WithLabelValues(op, outcome).Inc()
	p.operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (p *Prometheus) IncConflictRetry(op string) {
	p.conflictRetries.WithLabelValues(op).Inc()
}

func (p *Prometheus) IncInvariantViolation(movieID int64) {
	p.invariantViolations.WithLabelValues(strconv.FormatInt(movieID, 10)).Inc()
}

func (p *Prometheus) ObserveHTTP(route string, status int, d time.Duration) {
	p.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (p *Prometheus) ObservePublish(eventType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.eventsPublished.WithLabelValues(eventType, result).Inc()
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

var _ port.Metrics = (*Prometheus)(nil)
