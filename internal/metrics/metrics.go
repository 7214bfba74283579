// Package metrics holds the Prometheus collectors of the API.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	OverridesTotal  *prometheus.CounterVec
	PMLogsTotal     *prometheus.CounterVec
	ExportsTotal    *prometheus.CounterVec
}

// New registers the collectors on reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nsj_http_requests_total",
				Help: "HTTP requests by method, route template and status code.",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nsj_http_request_duration_seconds",
				Help:    "HTTP request latency by method and route template.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		OverridesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nsj_overrides_total",
				Help: "Override submissions by resulting status.",
			},
			[]string{"status"},
		),
		PMLogsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nsj_pm_logs_total",
				Help: "PM Backend log entries written, by kind (issue, risk).",
			},
			[]string{"kind"},
		),
		ExportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nsj_exports_total",
				Help: "Executive exports generated, by format.",
			},
			[]string{"format"},
		),
	}
}

// Middleware records request count and latency keyed by the echo route
// template so path parameters do not explode cardinality. Errors are handed
// to the echo error handler first so the recorded status is the one sent.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Response().Status)).Inc()
			m.RequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
