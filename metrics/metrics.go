package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aweist/lab-booking/booking"
	"github.com/aweist/lab-booking/storage"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
	authAttempts *prometheus.CounterVec
	overdue      prometheus.Gauge
	sweeps       *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by route/method/code.",
			},
			[]string{"route", "method", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests by route/method/code.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "code"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reservation_operations_total",
				Help: "Reservation lifecycle operations by operation and result.",
			},
			[]string{"op", "result"},
		),
		authAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_attempts_total",
				Help: "Authentication attempts by purpose and outcome.",
			},
			[]string{"purpose", "outcome"},
		),
		overdue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "reservations_overdue",
				Help: "Reservations past their slot without a usage report, as of the last sweep.",
			},
		),
		sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overdue_sweeps_total",
				Help: "Overdue sweeps by result.",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.transitions,
		m.authAttempts,
		m.overdue,
		m.sweeps,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTransition counts a lifecycle operation. The result label separates
// the kinds of failure so conflicts can be told apart from bad input.
func (m *Metrics) ObserveTransition(op string, err error) {
	m.transitions.WithLabelValues(op, resultLabel(err)).Inc()
}

func (m *Metrics) ObserveAttempt(purpose, outcome string) {
	m.authAttempts.WithLabelValues(purpose, outcome).Inc()
}

func (m *Metrics) ObserveSweep(overdue int, err error) {
	if err != nil {
		m.sweeps.WithLabelValues("error").Inc()
		return
	}
	m.sweeps.WithLabelValues("success").Inc()
	m.overdue.Set(float64(overdue))
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, booking.ErrValidation):
		return "invalid"
	case errors.Is(err, booking.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, storage.ErrConflict):
		return "conflict"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrUnavailable):
		return "unavailable"
	}
	return "error"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latencies by route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		if route == "/metrics" {
			return
		}

		code := strconv.Itoa(rec.status)
		m.httpRequests.WithLabelValues(route, r.Method, code).Inc()
		m.httpDuration.WithLabelValues(route, r.Method, code).Observe(time.Since(start).Seconds())
	})
}
