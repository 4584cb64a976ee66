package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total number of text-generation requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "Text-generation request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)

	ScoreRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "score_requests_total",
			Help: "Total number of compatibility scoring calls by outcome",
		},
		[]string{"outcome"},
	)
	ScoreLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "score_latency_seconds",
			Help:    "End-to-end latency of one compatibility scoring call",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
	ScoreDistribution = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "score_overall_distribution",
			Help:    "Distribution of overall compatibility scores [0,100]",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)
	DegradedResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "score_degraded_results_total",
			Help: "Total number of fallback score results by failure reason",
		},
		[]string{"reason"},
	)

	ThrottleQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "throttle_queue_depth",
			Help: "Callers currently queued for an outbound lease",
		},
	)
	ThrottleWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "throttle_wait_duration_seconds",
			Help:    "Time queued callers waited for an outbound lease",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)
	ThrottleRetriesExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "throttle_retries_exhausted_total",
			Help: "Submissions that exhausted all rate-limit retries",
		},
	)

	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "score_cache_hits_total",
			Help: "Score cache hits",
		},
	)
	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "score_cache_misses_total",
			Help: "Score cache misses",
		},
	)
)

// InitMetrics registers all Prometheus collectors once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(LLMRequestsTotal)
	prometheus.MustRegister(LLMRequestDuration)
	prometheus.MustRegister(ScoreRequestsTotal)
	prometheus.MustRegister(ScoreLatency)
	prometheus.MustRegister(ScoreDistribution)
	prometheus.MustRegister(DegradedResultsTotal)
	prometheus.MustRegister(ThrottleQueueDepth)
	prometheus.MustRegister(ThrottleWaitDuration)
	prometheus.MustRegister(ThrottleRetriesExhausted)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}
