package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"
)

func benchmarkRoute(b *testing.B, router http.Handler, target string) {
	b.Helper()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	}
}

// BenchmarkRouter_GetWeather_CacheHit measures the full middleware stack on a warm key.
func BenchmarkRouter_GetWeather_CacheHit(b *testing.B) {
	router := newTestRouter(b, &fakeProvider{}, Options{}, RouterConfig{})
	do(router, http.MethodGet, "/weather?city=beijing&lang=zh")
	benchmarkRoute(b, router, "/weather?city=beijing&lang=zh")
}

// BenchmarkRouter_GetWeather_MockMode measures generated reports served from cache.
func BenchmarkRouter_GetWeather_MockMode(b *testing.B) {
	router := newTestRouter(b, nil, Options{}, RouterConfig{})
	benchmarkRoute(b, router, "/weather?city=%E6%B7%B1%E5%9C%B3&lang=en")
}

// BenchmarkRouter_GetWeather_ValidationError measures the 400 path.
func BenchmarkRouter_GetWeather_ValidationError(b *testing.B) {
	router := newTestRouter(b, &fakeProvider{}, Options{}, RouterConfig{})
	benchmarkRoute(b, router, "/weather?city=beijing&lang=fr")
}

// BenchmarkRouter_GetWeather_RateLimited measures limiter overhead with ample burst.
func BenchmarkRouter_GetWeather_RateLimited(b *testing.B) {
	router := newTestRouter(b, &fakeProvider{}, Options{}, RouterConfig{
		Limiter: rate.NewLimiter(rate.Inf, 1),
	})
	benchmarkRoute(b, router, "/weather?city=shanghai")
}

// BenchmarkRouter_GetHealth measures the health endpoint.
func BenchmarkRouter_GetHealth(b *testing.B) {
	router := newTestRouter(b, &fakeProvider{}, Options{}, RouterConfig{})
	benchmarkRoute(b, router, "/health")
}
