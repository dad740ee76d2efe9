package server

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ZaguanLabs/coach/internal/security"
)

// Metrics holds the Prometheus collectors exported on /metrics.
//
// Metrics:
//   - coach_http_requests_total{method,route,status}
//   - coach_http_request_duration_seconds{method,route}
//   - coach_provider_requests_total{provider,outcome}
//   - coach_provider_duration_seconds{provider}
//   - coach_rate_limited_total
//   - coach_rate_limit_clients (when rate limiting is enabled)
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ProviderRequests *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	RateLimited      prometheus.Counter
}

// NewMetrics creates the collectors on a private registry so several
// servers can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_http_requests_total",
				Help: "Total HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coach_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "route"},
		),
		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_provider_requests_total",
				Help: "Provider calls by provider and outcome (success, error, timeout)",
			},
			[]string{"provider", "outcome"},
		),
		ProviderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coach_provider_duration_seconds",
				Help:    "Provider call duration in seconds, retries included",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"provider"},
		),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coach_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ProviderRequests,
		m.ProviderDuration,
		m.RateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// TrackRateLimiter exports the number of clients the limiter is tracking.
func (m *Metrics) TrackRateLimiter(rl *security.RateLimiter) error {
	return m.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "coach_rate_limit_clients",
			Help: "Clients with requests inside the current rate limit window",
		},
		func() float64 { return float64(rl.TotalKeys()) },
	))
}

// ObserveProvider records one provider call. It matches provider.Observer.
func (m *Metrics) ObserveProvider(provider, outcome string, elapsed time.Duration) {
	m.ProviderRequests.WithLabelValues(provider, outcome).Inc()
	m.ProviderDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Middleware records request counts and latency per route template.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				// The error handler has not written the response yet.
				status = statusFor(err)
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method

			m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.RequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
