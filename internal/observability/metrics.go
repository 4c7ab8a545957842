package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Metrics stores Prometheus collectors used by the API, the scanners,
// and the websocket bridge.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	callsCreatedTotal   prometheus.Counter
	assignmentsTotal    *prometheus.CounterVec
	transitionsTotal    *prometheus.CounterVec
	escalationsTotal    *prometheus.CounterVec
	rateLimitedTotal    *prometheus.CounterVec
	eventsBroadcast     prometheus.Counter
	wsConnections       prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nursecall",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nursecall",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		callsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nursecall",
				Name:      "calls_created_total",
				Help:      "Total number of calls accepted into dispatch.",
			},
		),
		assignmentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nursecall",
				Name:      "assignments_total",
				Help:      "Assignment attempts by path (routine or lock) and outcome.",
			},
			[]string{"path", "outcome"},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nursecall",
				Name:      "call_transitions_total",
				Help:      "Applied call state machine transitions by action.",
			},
			[]string{"action"},
		),
		escalationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nursecall",
				Name:      "escalations_total",
				Help:      "Escalation ladder steps applied by level.",
			},
			[]string{"level"},
		),
		rateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nursecall",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter by endpoint group.",
			},
			[]string{"group"},
		),
		eventsBroadcast: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "nursecall",
				Name:      "events_broadcast_total",
				Help:      "Outbox events pumped to websocket clients.",
			},
		),
		wsConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "nursecall",
				Name:      "ws_connections",
				Help:      "Currently registered websocket connections.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.callsCreatedTotal,
		m.assignmentsTotal,
		m.transitionsTotal,
		m.escalationsTotal,
		m.rateLimitedTotal,
		m.eventsBroadcast,
		m.wsConnections,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FiberHandler adapts the scrape endpoint onto a fiber route.
func (m *Metrics) FiberHandler() fiber.Handler {
	h := fasthttpadaptor.NewFastHTTPHandler(m.Handler())
	return func(c *fiber.Ctx) error {
		h(c.Context())
		return nil
	}
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncCallCreated() {
	if m == nil {
		return
	}
	m.callsCreatedTotal.Inc()
}

func (m *Metrics) IncAssignment(path string, outcome string) {
	if m == nil {
		return
	}
	pathLabel := strings.TrimSpace(strings.ToLower(path))
	if pathLabel == "" {
		pathLabel = "unknown"
	}
	outcomeLabel := strings.TrimSpace(strings.ToLower(outcome))
	if outcomeLabel == "" {
		outcomeLabel = "unknown"
	}
	m.assignmentsTotal.WithLabelValues(pathLabel, outcomeLabel).Inc()
}

func (m *Metrics) IncTransition(action string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(strings.ToLower(strings.TrimSpace(action))).Inc()
}

func (m *Metrics) IncEscalation(level int) {
	if m == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(strconv.Itoa(level)).Inc()
}

func (m *Metrics) IncRateLimited(group string) {
	if m == nil {
		return
	}
	m.rateLimitedTotal.WithLabelValues(strings.ToLower(strings.TrimSpace(group))).Inc()
}

func (m *Metrics) AddEventsBroadcast(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.eventsBroadcast.Add(float64(count))
}

func (m *Metrics) SetWSConnections(count int) {
	if m == nil {
		return
	}
	m.wsConnections.Set(float64(count))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}
