// Package metrics exports business and HTTP metrics to prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/tutorly/core"
)

const namespace = "tutorly"

type Prometheus struct {
	registry *prometheus.Registry

	operations    *prometheus.CounterVec
	ledgerEntries *prometheus.CounterVec
	credits       *prometheus.CounterVec
	notifications *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

var _ core.MetricsRecorder = (*Prometheus)(nil) // interface compliance check

// NewPrometheus registers every collector on a registry of its own, plus the Go and process collectors.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_operations_total",
			Help:      "Session lifecycle operations, labeled by operation and outcome.",
		}, []string{"operation", "outcome"}),
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_entries_total",
			Help:      "Ledger entries written, labeled by kind.",
		}, []string{"kind"}),
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_credits_total",
			Help:      "Absolute credits moved by ledger entries, labeled by kind.",
		}, []string{"kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications handed to the mailer, labeled by kind and outcome.",
		}, []string{"kind", "outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP requests.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "route", "status"}),
	}
	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.operations,
		p.ledgerEntries,
		p.credits,
		p.notifications,
		p.httpDuration,
	)
	return p
}

func (p *Prometheus) ObserveOperation(operation, outcome string) {
	p.operations.WithLabelValues(operation, outcome).Inc()
}

func (p *Prometheus) ObserveLedgerEntry(kind string, amount int) {
	p.ledgerEntries.WithLabelValues(kind).Inc()
	if amount < 0 {
		amount = -amount
	}
	p.credits.WithLabelValues(kind).Add(float64(amount))
}

func (p *Prometheus) ObserveNotification(kind string, delivered bool) {
	outcome := "sent"
	if !delivered {
		outcome = "failed"
	}
	p.notifications.WithLabelValues(kind, outcome).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Middleware times every request by its route pattern, not its raw path.
func (p *Prometheus) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				// render the error now so the response status is known
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := strconv.Itoa(c.Response().Status)
			p.httpDuration.WithLabelValues(c.Request().Method, route, status).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
