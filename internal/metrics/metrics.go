// Package metrics holds the Prometheus collectors of the ordering engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/example/ec-ordering/internal/apperr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every recording method is then a
// no-op.
type Metrics struct {
	registry          *prometheus.Registry
	cartMutations     *prometheus.CounterVec
	versionConflicts  prometheus.Counter
	idempotentReplays prometheus.Counter
	checkouts         *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		cartMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cart_mutations_total",
			Help: "Cart mutations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		versionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cart_version_conflicts_total",
			Help: "Optimistic concurrency conflicts retried by the cart store.",
		}),
		idempotentReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cart_idempotent_replays_total",
			Help: "Mutations answered from the idempotency store instead of being applied.",
		}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkouts_total",
			Help: "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.cartMutations, m.versionConflicts, m.idempotentReplays, m.checkouts, m.httpDuration)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) CartMutation(operation string, err error) {
	if m == nil {
		return
	}
	m.cartMutations.WithLabelValues(operation, Outcome(err)).Inc()
}

func (m *Metrics) VersionConflict() {
	if m == nil {
		return
	}
	m.versionConflicts.Inc()
}

func (m *Metrics) IdempotentReplay() {
	if m == nil {
		return
	}
	m.idempotentReplays.Inc()
}

func (m *Metrics) Checkout(err error) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(Outcome(err)).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Outcome labels err by its error category.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch apperr.Category(err) {
	case apperr.ErrNotFound:
		return "not_found"
	case apperr.ErrValidation:
		return "invalid"
	case apperr.ErrConflict:
		return "conflict"
	case apperr.ErrTransient:
		return "transient"
	default:
		return "error"
	}
}
