// Package metrics собирает метрики биллинга для Prometheus: события
// движка, исходы задач очереди и HTTP-запросы.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/magabrotheeeer/escrow-billing/internal/models"
)

// Metrics метрики сервиса.
type Metrics struct {
	EventsTotal     *prometheus.CounterVec
	ChargedAmount   prometheus.Counter
	FeesCollected   prometheus.Counter
	CrankTasksTotal *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New создаёт метрики и регистрирует их в registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_events_total",
				Help: "Total number of billing events by kind",
			},
			[]string{"kind"},
		),
		ChargedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_charged_amount_total",
			Help: "Total amount charged from vaults, in base units",
		}),
		FeesCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_fees_collected_total",
			Help: "Total protocol fee collected, in base units",
		}),
		CrankTasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_crank_tasks_total",
				Help: "Total number of automation tasks processed by result",
			},
			[]string{"result"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		gatherer: registry,
	}

	registry.MustRegister(
		m.EventsTotal,
		m.ChargedAmount,
		m.FeesCollected,
		m.CrankTasksTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// RecordEvent учитывает событие движка.
func (m *Metrics) RecordEvent(event models.Event) {
	m.EventsTotal.WithLabelValues(string(event.Kind)).Inc()
	if event.Kind == models.EventCharged {
		m.ChargedAmount.Add(float64(event.Amount))
		m.FeesCollected.Add(float64(event.Fee))
	}
}

// RecordTask учитывает исход задачи очереди.
func (m *Metrics) RecordTask(result string) {
	m.CrankTasksTotal.WithLabelValues(result).Inc()
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware учитывает запросы. Путь берётся из шаблона маршрута chi,
// чтобы адреса в URL не раздували число серий.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
