package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/city-weather-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Provider call rate by endpoint (now, 3d) and outcome. Watch for: auth_failed means a bad credential.
	UpstreamCallsTotal *prometheus.CounterVec

	// Provider latency per call. Watch for: p99 approaching the client timeout.
	UpstreamDuration *prometheus.HistogramVec

	// Cache hits. Hit rate = hits/(hits+misses).
	CacheHitsTotal *prometheus.CounterVec

	// Cache misses; each miss costs one provider call pair or one mock generation.
	CacheMissesTotal *prometheus.CounterVec

	// Evictions by reason (capacity, expired). Watch for: sustained capacity evictions = max_size too small.
	CacheEvictionsTotal *prometheus.CounterVec

	// Live entries in the in-process cache as of the last stats read.
	CacheSize prometheus.Gauge

	// Cache backend errors by operation (get, set) and category. Errors degrade to a miss, never a failure.
	CacheErrorsTotal *prometheus.CounterVec

	// Concurrent misses on the same key. Watch for: many per second = TTL too short or warming off.
	CacheStampedeDetectedTotal *prometheus.CounterVec

	// Misses answered by another request's in-flight fetch instead of a new provider call pair.
	RequestCoalescingHitsTotal *prometheus.CounterVec

	// Reports served from the fallback generator, by reason.
	FallbackTotal *prometheus.CounterVec

	// Weather lookups by resolved city and language. Cardinality is bounded by the supported city set.
	WeatherQueriesTotal *prometheus.CounterVec

	// Circuit breaker state: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState prometheus.Gauge

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Warming runs by outcome.
	CacheWarmingRunsTotal *prometheus.CounterVec

	// Wall time of a full warming pass.
	CacheWarmingDuration prometheus.Histogram

	trafficGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total number of weather provider calls",
		},
		[]string{"endpoint", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Weather provider latency in seconds (per call)",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"endpoint", "status"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses",
		},
		[]string{"cacheType"},
	)
	CacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheEvictionsTotal",
			Help: "Total number of cache evictions by reason",
		},
		[]string{"reason"},
	)
	CacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cacheSize",
			Help: "Live entries in the in-process weather cache",
		},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Cache misses that found another miss for the same key in progress",
		},
		[]string{"city"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Misses that shared an in-flight fetch",
		},
		[]string{"city"},
	)
	FallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallbackTotal",
			Help: "Reports served from generated mock data, by reason",
		},
		[]string{"reason"},
	)
	WeatherQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherQueriesTotal",
			Help: "Weather lookups by resolved city and language",
		},
		[]string{"city", "lang"},
	)
	CircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Provider circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CacheWarmingRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheWarmingRunsTotal",
			Help: "Cache warming passes by outcome",
		},
		[]string{"outcome"},
	)
	CacheWarmingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Wall time of one cache warming pass",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30},
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration,
		CacheHitsTotal, CacheMissesTotal, CacheEvictionsTotal, CacheSize, CacheErrorsTotal,
		CacheStampedeDetectedTotal, RequestCoalescingHitsTotal,
		FallbackTotal, WeatherQueriesTotal,
		CircuitBreakerState, RateLimitDeniedTotal,
		CacheWarmingRunsTotal, CacheWarmingDuration,
	)
}

// RegisterTrafficGauges registers sliding-window gauges over the traffic tracker.
// Call from main after config load; later calls are no-ops.
func RegisterTrafficGauges(window time.Duration) {
	trafficGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "weatherRequestsInWindow",
					Help: "Weather lookups (live + fallback + denied) in the sliding window",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "fallbackRequestsInWindow",
					Help: "Lookups answered with mock data in the sliding window",
				},
				func() float64 {
					fb, _ := traffic.FallbackRate(window)
					return float64(fb)
				},
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in the sliding window",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// RecordWeatherQuery records a lookup for a resolved city key.
func RecordWeatherQuery(city, lang string) {
	WeatherQueriesTotal.WithLabelValues(city, lang).Inc()
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
