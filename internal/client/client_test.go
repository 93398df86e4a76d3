package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/city-weather-service/internal/circuitbreaker"
	"github.com/kjstillabower/city-weather-service/internal/localize"
	"github.com/kjstillabower/city-weather-service/internal/models"
)

var cst = time.FixedZone("CST", 8*3600)

const nowBody = `{
	"code": "200",
	"updateTime": "2026-10-15T21:35+08:00",
	"now": {
		"obsTime": "2026-10-15T21:30+08:00",
		"temp": "18",
		"feelsLike": "17",
		"icon": "101",
		"text": "多云",
		"wind360": "135",
		"windDir": "东南风",
		"windSpeed": "18",
		"humidity": "72",
		"pressure": "1012"
	}
}`

const dailyBody = `{
	"code": "200",
	"daily": [
		{"fxDate": "2026-10-15", "tempMax": "22", "tempMin": "14", "iconDay": "100", "textDay": "晴", "iconNight": "151", "textNight": "多云"},
		{"fxDate": "2026-10-16", "tempMax": "20", "tempMin": "13", "iconDay": "305", "textDay": "小雨", "iconNight": "305", "textNight": "小雨"},
		{"fxDate": "2026-10-17", "tempMax": "19", "tempMin": "12", "iconDay": "104", "textDay": "阴", "iconNight": "150", "textNight": "晴"}
	]
}`

func newTestClient(t *testing.T, url string, opts ...Option) *QWeatherClient {
	t.Helper()
	opts = append([]Option{
		WithLocation(cst),
		WithClock(func() time.Time { return time.Date(2026, 10, 15, 21, 40, 0, 0, cst) }),
	}, opts...)
	c, err := NewQWeatherClient(url, StaticToken("test-token"), 2*time.Second, opts...)
	if err != nil {
		t.Fatalf("NewQWeatherClient() error = %v", err)
	}
	return c
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestNewQWeatherClient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		tokens  TokenSource
		wantErr bool
	}{
		{"valid", "https://devapi.qweather.com/v7", StaticToken("t"), false},
		{"missing token source", "https://devapi.qweather.com/v7", nil, true},
		{"relative url", "devapi.qweather.com/v7", StaticToken("t"), true},
		{"bad scheme", "ftp://devapi.qweather.com", StaticToken("t"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewQWeatherClient(tt.url, tt.tokens, time.Second)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewQWeatherClient() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && c == nil {
				t.Fatal("NewQWeatherClient() returned nil client")
			}
		})
	}
}

func TestQWeatherClient_FetchCurrent_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v7/weather/now" {
			t.Errorf("path = %s, want /v7/weather/now", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		if got := r.URL.Query().Get("location"); got != "101020100" {
			t.Errorf("location = %q, want Shanghai's id", got)
		}
		if got := r.URL.Query().Get("lang"); got != "zh" {
			t.Errorf("lang = %q, want zh", got)
		}
		if got := r.Header.Get("X-Correlation-ID"); got != "corr-1" {
			t.Errorf("X-Correlation-ID = %q, want corr-1", got)
		}
		respond(http.StatusOK, nowBody)(w, r)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL+"/v7/")
	ctx := context.WithValue(context.Background(), "correlation_id", "corr-1")

	got, err := c.FetchCurrent(ctx, models.Shanghai, models.LangZH)
	if err != nil {
		t.Fatalf("FetchCurrent() error = %v", err)
	}

	if got.City != models.Shanghai {
		t.Errorf("City = %q, want shanghai", got.City)
	}
	if got.Temperature != 18 || got.FeelsLike != 17 {
		t.Errorf("Temperature/FeelsLike = %v/%v, want 18/17", got.Temperature, got.FeelsLike)
	}
	if got.Humidity != 72 || got.Pressure != 1012 || got.WindDirection != 135 {
		t.Errorf("Humidity/Pressure/WindDirection = %d/%d/%d", got.Humidity, got.Pressure, got.WindDirection)
	}
	if got.WindSpeed != 5 {
		t.Errorf("WindSpeed = %v, want 5 (m/s)", got.WindSpeed)
	}
	wantCond := models.WeatherCondition{MainCode: localize.CodeClouds, Description: "多云", IconID: "101"}
	if got.Condition != wantCond {
		t.Errorf("Condition = %+v, want %+v", got.Condition, wantCond)
	}
	if want := time.Date(2026, 10, 15, 21, 30, 0, 0, cst); !got.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, want)
	}
	if _, off := got.Timestamp.Zone(); off != 8*3600 {
		t.Errorf("Timestamp offset = %d, want +08:00 preserved", off)
	}
}

func TestQWeatherClient_FetchForecast_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/weather/3d" {
			t.Errorf("path = %s, want /weather/3d", r.URL.Path)
		}
		respond(http.StatusOK, dailyBody)(w, r)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	days, err := c.FetchForecast(context.Background(), models.Beijing, models.LangEN)
	if err != nil {
		t.Fatalf("FetchForecast() error = %v", err)
	}
	if len(days) != models.ForecastDays {
		t.Fatalf("len(days) = %d, want %d", len(days), models.ForecastDays)
	}
	if days[0].Date != "2026-10-15" || days[2].Date != "2026-10-17" {
		t.Errorf("dates = %s..%s", days[0].Date, days[2].Date)
	}
	if days[0].HighTemp != 22 || days[0].LowTemp != 14 {
		t.Errorf("day 0 temps = %v/%v, want 22/14", days[0].HighTemp, days[0].LowTemp)
	}
	if days[0].Condition.MainCode != localize.CodeClear || days[0].Night.MainCode != localize.CodeClouds {
		t.Errorf("day 0 codes = %q/%q", days[0].Condition.MainCode, days[0].Night.MainCode)
	}
	if days[0].Night.Description != "多云" {
		t.Errorf("night description = %q, want provider text", days[0].Night.Description)
	}
}

func TestQWeatherClient_ErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"http 401", http.StatusUnauthorized, `{"code":"401"}`, ErrAuthenticationFailed},
		{"http 403", http.StatusForbidden, ``, ErrAuthenticationFailed},
		{"http 429", http.StatusTooManyRequests, ``, ErrRateLimited},
		{"http 500", http.StatusInternalServerError, ``, ErrUpstreamUnavailable},
		{"http 503", http.StatusServiceUnavailable, ``, ErrUpstreamUnavailable},
		{"http 404", http.StatusNotFound, ``, ErrMalformedResponse},
		{"body code 401", http.StatusOK, `{"code":"401"}`, ErrAuthenticationFailed},
		{"body code 402", http.StatusOK, `{"code":"402"}`, ErrAuthenticationFailed},
		{"body code 429", http.StatusOK, `{"code":"429"}`, ErrRateLimited},
		{"body code 500", http.StatusOK, `{"code":"500"}`, ErrUpstreamUnavailable},
		{"body code 204", http.StatusOK, `{"code":"204"}`, ErrMalformedResponse},
		{"invalid json", http.StatusOK, `{not json`, ErrMalformedResponse},
		{"missing now", http.StatusOK, `{"code":"200"}`, ErrMalformedResponse},
		{"non-numeric temp", http.StatusOK, `{"code":"200","now":{"obsTime":"2026-10-15T21:30+08:00","temp":"warm","feelsLike":"1","humidity":"1","pressure":"1","windSpeed":"1","wind360":"1"}}`, ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(respond(tt.status, tt.body))
			defer server.Close()

			c := newTestClient(t, server.URL)
			_, err := c.FetchCurrent(context.Background(), models.Beijing, models.LangEN)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("FetchCurrent() error = %v, want %v", err, tt.wantErr)
			}
			var pe *ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("error %T is not a *ProviderError", err)
			}
		})
	}
}

func TestQWeatherClient_FetchForecast_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"too few days", `{"code":"200","daily":[{"fxDate":"2026-10-15","tempMax":"1","tempMin":"0"}]}`},
		{"not ascending", `{"code":"200","daily":[
			{"fxDate":"2026-10-16","tempMax":"1","tempMin":"0"},
			{"fxDate":"2026-10-15","tempMax":"1","tempMin":"0"},
			{"fxDate":"2026-10-17","tempMax":"1","tempMin":"0"}]}`},
		{"starts before today", `{"code":"200","daily":[
			{"fxDate":"2026-10-14","tempMax":"1","tempMin":"0"},
			{"fxDate":"2026-10-15","tempMax":"1","tempMin":"0"},
			{"fxDate":"2026-10-16","tempMax":"1","tempMin":"0"}]}`},
		{"bad date", `{"code":"200","daily":[
			{"fxDate":"15/10/2026","tempMax":"1","tempMin":"0"},
			{"fxDate":"2026-10-16","tempMax":"1","tempMin":"0"},
			{"fxDate":"2026-10-17","tempMax":"1","tempMin":"0"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(respond(http.StatusOK, tt.body))
			defer server.Close()

			c := newTestClient(t, server.URL)
			_, err := c.FetchForecast(context.Background(), models.Beijing, models.LangEN)
			if !errors.Is(err, ErrMalformedResponse) {
				t.Fatalf("FetchForecast() error = %v, want ErrMalformedResponse", err)
			}
		})
	}
}

func TestQWeatherClient_FetchForecast_TruncatesExtraDays(t *testing.T) {
	body := `{"code":"200","daily":[
		{"fxDate":"2026-10-15","tempMax":"1","tempMin":"0"},
		{"fxDate":"2026-10-16","tempMax":"1","tempMin":"0"},
		{"fxDate":"2026-10-17","tempMax":"1","tempMin":"0"},
		{"fxDate":"2026-10-18","tempMax":"1","tempMin":"0"}]}`
	server := httptest.NewServer(respond(http.StatusOK, body))
	defer server.Close()

	days, err := newTestClient(t, server.URL).FetchForecast(context.Background(), models.Beijing, models.LangEN)
	if err != nil {
		t.Fatalf("FetchForecast() error = %v", err)
	}
	if len(days) != models.ForecastDays {
		t.Errorf("len(days) = %d, want %d", len(days), models.ForecastDays)
	}
}

func TestQWeatherClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c, err := NewQWeatherClient(server.URL, StaticToken("t"), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewQWeatherClient() error = %v", err)
	}

	start := time.Now()
	_, err = c.FetchCurrent(context.Background(), models.Beijing, models.LangEN)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("FetchCurrent() error = %v, want ErrUpstreamUnavailable", err)
	}
	if got := CategorizeError(err); got != ErrorCategoryTimeout {
		t.Errorf("CategorizeError() = %q, want timeout", got)
	}
	if elapsed > time.Second {
		t.Errorf("FetchCurrent() took %v, want bounded by the 50ms timeout", elapsed)
	}
}

func TestQWeatherClient_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(respond(http.StatusOK, nowBody))
	url := server.URL
	server.Close()

	c := newTestClient(t, url)
	_, err := c.FetchCurrent(context.Background(), models.Beijing, models.LangEN)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("FetchCurrent() error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestQWeatherClient_NoRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, _ = c.FetchCurrent(context.Background(), models.Beijing, models.LangEN)
	if n := calls.Load(); n != 1 {
		t.Errorf("provider calls = %d, want 1", n)
	}
}

func TestQWeatherClient_CircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 2,
		Timeout:          time.Hour,
		IsFailure:        CountsAsOutage,
	})
	c := newTestClient(t, server.URL, WithCircuitBreaker(cb))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _ = c.FetchCurrent(ctx, models.Beijing, models.LangEN)
	}
	_, err := c.FetchCurrent(ctx, models.Beijing, models.LangEN)

	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("FetchCurrent() error = %v, want ErrUpstreamUnavailable", err)
	}
	if got := CategorizeError(err); got != ErrorCategoryCircuitOpen {
		t.Errorf("CategorizeError() = %q, want circuit_open", got)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("provider calls = %d, want 2 (third short-circuited)", n)
	}
}

func TestQWeatherClient_AuthFailuresDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(respond(http.StatusUnauthorized, ``))
	defer server.Close()

	cb := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Hour, IsFailure: CountsAsOutage})
	c := newTestClient(t, server.URL, WithCircuitBreaker(cb))

	for i := 0; i < 3; i++ {
		_, err := c.FetchCurrent(context.Background(), models.Beijing, models.LangEN)
		if !errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("call %d error = %v, want ErrAuthenticationFailed", i, err)
		}
	}
	if cb.State() != circuitbreaker.StateClosed {
		t.Errorf("breaker state = %v, want closed", cb.State())
	}
}

func TestQWeatherClient_Ping(t *testing.T) {
	server := httptest.NewServer(respond(http.StatusOK, nowBody))
	defer server.Close()

	if err := newTestClient(t, server.URL).Ping(context.Background(), models.Beijing); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestProviderError_Message(t *testing.T) {
	err := newError(ErrRateLimited, "fetch now", 429, nil)
	if got, want := err.Error(), "fetch now: rate limited (status 429)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
