package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather-service/internal/cache"
	"github.com/kjstillabower/city-weather-service/internal/circuitbreaker"
	"github.com/kjstillabower/city-weather-service/internal/city"
	"github.com/kjstillabower/city-weather-service/internal/client"
	"github.com/kjstillabower/city-weather-service/internal/fallback"
	"github.com/kjstillabower/city-weather-service/internal/lifecycle"
	"github.com/kjstillabower/city-weather-service/internal/models"
	"github.com/kjstillabower/city-weather-service/internal/service"
	"github.com/kjstillabower/city-weather-service/internal/traffic"
)

const upstreamNow = `{"code":"200","updateTime":"2026-10-15T10:25+08:00","now":{"obsTime":"2026-10-15T10:20+08:00","temp":"18","feelsLike":"17","icon":"101","text":"多云","wind360":"90","windSpeed":"18","humidity":"64","pressure":"1013"}}`

const upstreamDaily = `{"code":"200","daily":[
{"fxDate":"2026-10-15","tempMax":"22","tempMin":"14","iconDay":"100","textDay":"晴","iconNight":"151","textNight":"多云"},
{"fxDate":"2026-10-16","tempMax":"20","tempMin":"13","iconDay":"305","textDay":"小雨","iconNight":"305","textNight":"小雨"},
{"fxDate":"2026-10-17","tempMax":"19","tempMin":"12","iconDay":"104","textDay":"阴","iconNight":"150","textNight":"晴"}]}`

// fakeQWeather serves the two v7 endpoints. status, when non-zero, replaces every answer.
type fakeQWeather struct {
	hits    atomic.Int32
	status  atomic.Int32
	mu      sync.Mutex
	corrIDs []string
}

func (f *fakeQWeather) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	f.mu.Lock()
	f.corrIDs = append(f.corrIDs, r.Header.Get("X-Correlation-ID"))
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if s := int(f.status.Load()); s != 0 {
		w.WriteHeader(s)
		_, _ = w.Write([]byte(`{"code":"500"}`))
		return
	}
	switch r.URL.Path {
	case "/v7/weather/now":
		_, _ = w.Write([]byte(upstreamNow))
	case "/v7/weather/3d":
		_, _ = w.Write([]byte(upstreamDaily))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// setupStack wires the real client, breaker, service and router against a fake upstream.
func setupStack(t *testing.T) (http.Handler, *fakeQWeather, *circuitbreaker.CircuitBreaker) {
	t.Helper()
	traffic.Reset()
	lifecycle.SetPhase(lifecycle.Serving)

	upstream := &fakeQWeather{}
	server := httptest.NewServer(upstream)
	t.Cleanup(server.Close)

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 2,
		Timeout:          time.Minute,
		Component:        "qweather",
		IsFailure:        client.CountsAsOutage,
	})
	qw, err := client.NewQWeatherClient(server.URL+"/v7", client.StaticToken("stack-token"), time.Second,
		client.WithLocation(cst),
		client.WithClock(clock),
		client.WithCircuitBreaker(breaker),
	)
	if err != nil {
		t.Fatalf("NewQWeatherClient() error = %v", err)
	}

	resolver, err := city.NewResolver(models.Beijing)
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	svc, err := service.NewWeatherService(service.Config{
		Resolver:  resolver,
		Cache:     cache.NewInMemoryCache(50, 600*time.Second),
		Generator: fallback.New(cst, fallback.WithClock(clock)),
		Provider:  qw,
		Breaker:   breaker,
		Location:  cst,
		Clock:     clock,
	})
	if err != nil {
		t.Fatalf("NewWeatherService() error = %v", err)
	}
	return NewRouter(NewHandler(svc, zap.NewNop(), Options{}), RouterConfig{RequestTimeout: 2 * time.Second}), upstream, breaker
}

func TestIntegration_LiveReportThroughStack(t *testing.T) {
	router, upstream, _ := setupStack(t)

	req := httptest.NewRequest(http.MethodGet, "/weather?city=%E4%B8%8A%E6%B5%B7%E5%B8%82&lang=en", nil)
	req.Header.Set("X-Correlation-ID", "stack-corr")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var report models.WeatherReport
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.SourceMode != models.SourceAPI || report.Current.City != models.Shanghai {
		t.Fatalf("report = %s/%s, want api/shanghai", report.SourceMode, report.Current.City)
	}
	if report.CityName != "Shanghai" {
		t.Errorf("city_name = %q", report.CityName)
	}
	if report.Current.Condition.Description != "Clouds" {
		t.Errorf("current description = %q, want English label", report.Current.Condition.Description)
	}
	if report.Current.WindSpeed != 5 {
		t.Errorf("wind_speed = %v, want 5 m/s", report.Current.WindSpeed)
	}
	if len(report.Forecast) != 3 || report.Forecast[2].Date != "2026-10-17" {
		t.Errorf("forecast = %+v", report.Forecast)
	}

	if n := upstream.hits.Load(); n != 2 {
		t.Errorf("upstream hits = %d, want 2 (now + 3d)", n)
	}
	upstream.mu.Lock()
	for _, id := range upstream.corrIDs {
		if id != "stack-corr" {
			t.Errorf("upstream X-Correlation-ID = %q, want stack-corr", id)
		}
	}
	upstream.mu.Unlock()

	// Cached: no further upstream traffic.
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/weather?city=shanghai&lang=en", nil))
	if n := upstream.hits.Load(); n != 2 {
		t.Errorf("upstream hits after cached request = %d, want 2", n)
	}
}

// TestIntegration_OutageOpensBreaker verifies that a failing provider degrades to mock
// data, opens the breaker and is then no longer called.
func TestIntegration_OutageOpensBreaker(t *testing.T) {
	router, upstream, breaker := setupStack(t)
	upstream.status.Store(http.StatusServiceUnavailable)

	for _, c := range []string{"beijing", "guangzhou", "shenzhen"} {
		w := do(router, http.MethodGet, "/weather?city="+c)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d", c, w.Code)
		}
		var report models.WeatherReport
		_ = json.NewDecoder(w.Body).Decode(&report)
		if report.SourceMode != models.SourceMock {
			t.Errorf("%s source_mode = %q, want mock", c, report.SourceMode)
		}
	}

	if breaker.State() != circuitbreaker.StateOpen {
		t.Fatalf("breaker state = %s, want open", breaker.State())
	}
	if n := upstream.hits.Load(); n > 2 {
		t.Errorf("upstream hits = %d, want at most 2 before the circuit opened", n)
	}

	w := do(router, http.MethodGet, "/health")
	var info models.HealthInfo
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Status != service.StatusDegraded {
		t.Errorf("status = %q, want degraded", info.Status)
	}
	if info.DataSources["circuit_breaker"] != "open" || info.CurrentMode != models.SourceMock {
		t.Errorf("health = %+v", info)
	}
}

func TestIntegration_AuthFailureKeepsBreakerClosed(t *testing.T) {
	router, upstream, breaker := setupStack(t)
	upstream.status.Store(http.StatusUnauthorized)

	for _, c := range []string{"beijing", "guangzhou", "shenzhen", "hangzhou"} {
		if w := do(router, http.MethodGet, "/weather?city="+c); w.Code != http.StatusOK {
			t.Fatalf("%s status = %d", c, w.Code)
		}
	}
	if breaker.State() != circuitbreaker.StateClosed {
		t.Errorf("breaker state = %s, want closed on auth failures", breaker.State())
	}
	if n := upstream.hits.Load(); n != 8 {
		t.Errorf("upstream hits = %d, want 8", n)
	}
}
