package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Исходы загрузки
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeStale   = "stale"
)

var (
	// HTTP метрики
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoview",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "geoview",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	// Метрики запросов по viewport
	ViewportEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoview",
		Subsystem: "viewport",
		Name:      "events_total",
		Help:      "Viewport notifications received from map hosts, by result (dirty, duplicate, invalid)",
	}, []string{"result"})

	DebounceCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoview",
		Subsystem: "viewport",
		Name:      "debounce_coalesced_total",
		Help:      "Dirty events that restarted an already armed settle timer",
	})

	Fetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoview",
		Subsystem: "viewport",
		Name:      "fetches_total",
		Help:      "Record fetches issued by map sessions, by outcome",
	}, []string{"outcome"})

	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "geoview",
		Subsystem: "viewport",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of record fetches issued by map sessions",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
	})

	MarkersRendered = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "geoview",
		Subsystem: "viewport",
		Name:      "markers_rendered",
		Help:      "Markers per rendered result set",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 6),
	})

	ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "geoview",
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Live map sessions by host kind",
	}, []string{"host"})

	// Метрики бэкенда записей
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoview",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Cache hits by cache name",
	}, []string{"cache"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoview",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Cache misses by cache name",
	}, []string{"cache"})
)

// ObserveFetch учитывает одну завершённую загрузку
func ObserveFetch(outcome string, elapsed time.Duration) {
	Fetches.WithLabelValues(outcome).Inc()
	FetchDuration.Observe(elapsed.Seconds())
}

// Middleware собирает метрики запросов
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)

		return err
	}
}

// Handler возвращает Fiber обработчик для Prometheus /metrics
func Handler() fiber.Handler {
	handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	return func(c *fiber.Ctx) error {
		handler(c.Context())
		return nil
	}
}
