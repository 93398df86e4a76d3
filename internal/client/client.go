// Package client talks to the QWeather v7 API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather-service/internal/circuitbreaker"
	"github.com/kjstillabower/city-weather-service/internal/localize"
	"github.com/kjstillabower/city-weather-service/internal/models"
	"github.com/kjstillabower/city-weather-service/internal/observability"
)

// WeatherClient is the provider surface WeatherService depends on.
type WeatherClient interface {
	FetchCurrent(ctx context.Context, city models.CityKey, lang models.Language) (models.CurrentWeather, error)
	FetchForecast(ctx context.Context, city models.CityKey, lang models.Language) ([]models.ForecastDay, error)
}

const (
	endpointNow      = "now"
	endpointForecast = "3d"

	// obsTimeLayout is QWeather's minute-precision timestamp, e.g. 2026-10-15T21:40+08:00.
	obsTimeLayout = "2006-01-02T15:04Z07:00"

	DefaultTimeout = 5 * time.Second
)

var errCircuitOpen = circuitbreaker.ErrOpen

type QWeatherClient struct {
	http    *resty.Client
	tokens  TokenSource
	timeout time.Duration
	loc     *time.Location
	now     func() time.Time
	breaker *circuitbreaker.CircuitBreaker
}

// Option configures a QWeatherClient.
type Option func(*QWeatherClient)

// WithLocation sets the zone used to decide what "today" is when checking forecast dates.
func WithLocation(loc *time.Location) Option {
	return func(c *QWeatherClient) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *QWeatherClient) { c.now = now }
}

// WithLogger routes resty's internal warnings through logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *QWeatherClient) {
		if logger != nil {
			c.http.SetLogger(logger.Named("resty").Sugar())
		}
	}
}

// WithCircuitBreaker sets an optional circuit breaker. When set, calls are wrapped with cb.Call.
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *QWeatherClient) { c.breaker = cb }
}

// NewQWeatherClient builds a client for baseURL (e.g. https://devapi.qweather.com/v7).
// Every call is bounded by timeout and is never retried.
func NewQWeatherClient(baseURL string, tokens TokenSource, timeout time.Duration, opts ...Option) (*QWeatherClient, error) {
	if tokens == nil {
		return nil, fmt.Errorf("%w: no token source configured", ErrAuthenticationFailed)
	}
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid provider base url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	c := &QWeatherClient{
		http:    rc,
		tokens:  tokens,
		timeout: timeout,
		loc:     time.UTC,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type envelope interface {
	bodyCode() string
}

type nowResponse struct {
	Code       string `json:"code"`
	UpdateTime string `json:"updateTime"`
	Now        *struct {
		ObsTime   string `json:"obsTime"`
		Temp      string `json:"temp"`
		FeelsLike string `json:"feelsLike"`
		Icon      string `json:"icon"`
		Text      string `json:"text"`
		Wind360   string `json:"wind360"`
		WindSpeed string `json:"windSpeed"`
		Humidity  string `json:"humidity"`
		Pressure  string `json:"pressure"`
	} `json:"now"`
}

func (r *nowResponse) bodyCode() string { return r.Code }

type dailyResponse struct {
	Code  string `json:"code"`
	Daily []struct {
		FxDate    string `json:"fxDate"`
		TempMax   string `json:"tempMax"`
		TempMin   string `json:"tempMin"`
		IconDay   string `json:"iconDay"`
		TextDay   string `json:"textDay"`
		IconNight string `json:"iconNight"`
		TextNight string `json:"textNight"`
	} `json:"daily"`
}

func (r *dailyResponse) bodyCode() string { return r.Code }

// FetchCurrent returns current conditions with provider-raw descriptions.
func (c *QWeatherClient) FetchCurrent(ctx context.Context, city models.CityKey, lang models.Language) (models.CurrentWeather, error) {
	var resp nowResponse
	if err := c.get(ctx, endpointNow, city, lang, &resp); err != nil {
		return models.CurrentWeather{}, err
	}
	cw, err := mapCurrent(city, &resp)
	if err != nil {
		return models.CurrentWeather{}, newError(ErrMalformedResponse, "fetch current", 0, err)
	}
	return cw, nil
}

// FetchForecast returns exactly models.ForecastDays days, ascending, starting no earlier than today.
func (c *QWeatherClient) FetchForecast(ctx context.Context, city models.CityKey, lang models.Language) ([]models.ForecastDay, error) {
	var resp dailyResponse
	if err := c.get(ctx, endpointForecast, city, lang, &resp); err != nil {
		return nil, err
	}
	days, err := mapForecast(&resp, c.now().In(c.loc))
	if err != nil {
		return nil, newError(ErrMalformedResponse, "fetch forecast", 0, err)
	}
	return days, nil
}

// Ping checks credentials and reachability with a current-conditions call for city.
func (c *QWeatherClient) Ping(ctx context.Context, city models.CityKey) error {
	var resp nowResponse
	return c.get(ctx, endpointNow, city, models.LangEN, &resp)
}

func (c *QWeatherClient) get(ctx context.Context, endpoint string, city models.CityKey, lang models.Language, out envelope) error {
	start := time.Now()
	call := func() error { return c.call(ctx, endpoint, city, lang, out) }

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, call)
	} else {
		err = call()
	}
	if err != nil && kindOf(err) == nil {
		err = newError(ErrUpstreamUnavailable, "fetch "+endpoint, 0, err)
	}

	status := "success"
	if err != nil {
		status = string(CategorizeError(err))
	}
	observability.UpstreamCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.UpstreamDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
	return err
}

func (c *QWeatherClient) call(ctx context.Context, endpoint string, city models.CityKey, lang models.Language, out envelope) error {
	op := "fetch " + endpoint
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	token, err := c.tokens.Token(reqCtx)
	if err != nil {
		if kindOf(err) == nil {
			err = newError(ErrAuthenticationFailed, op, 0, err)
		}
		return err
	}

	req := c.http.R().
		SetContext(reqCtx).
		SetAuthToken(token).
		SetQueryParams(map[string]string{
			"location": city.LocationID(),
			"lang":     string(lang),
		})
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.SetHeader("X-Correlation-ID", corrID)
	}

	resp, err := req.Get("/weather/" + endpoint)
	if err != nil {
		return newError(ErrUpstreamUnavailable, op, 0, err)
	}
	if err := statusError(op, resp.StatusCode()); err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return newError(ErrMalformedResponse, op, resp.StatusCode(), err)
	}
	return bodyCodeError(op, out.bodyCode())
}

func statusError(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newError(ErrAuthenticationFailed, op, status, nil)
	case status == http.StatusTooManyRequests:
		return newError(ErrRateLimited, op, status, nil)
	case status >= 500:
		return newError(ErrUpstreamUnavailable, op, status, nil)
	}
	return newError(ErrMalformedResponse, op, status, nil)
}

// bodyCodeError maps QWeather's in-body status code. The API can answer HTTP 200 with
// a failure code, so both layers are checked.
func bodyCodeError(op, code string) error {
	n, err := strconv.Atoi(code)
	if err != nil {
		return newError(ErrMalformedResponse, op, 0, fmt.Errorf("body code %q", code))
	}
	switch {
	case n == 200:
		return nil
	case n == 401 || n == 402 || n == 403:
		return newError(ErrAuthenticationFailed, op, n, nil)
	case n == 429:
		return newError(ErrRateLimited, op, n, nil)
	case n >= 500:
		return newError(ErrUpstreamUnavailable, op, n, nil)
	}
	return newError(ErrMalformedResponse, op, n, nil)
}

func mapCurrent(city models.CityKey, r *nowResponse) (models.CurrentWeather, error) {
	if r.Now == nil {
		return models.CurrentWeather{}, errors.New("missing now object")
	}
	n := r.Now
	var p numParser
	cw := models.CurrentWeather{
		City:        city,
		Temperature: p.float("temp", n.Temp),
		FeelsLike:   p.float("feelsLike", n.FeelsLike),
		Humidity:    p.int("humidity", n.Humidity),
		Pressure:    p.int("pressure", n.Pressure),
		WindSpeed:   kmhToMS(p.float("windSpeed", n.WindSpeed)),
		Condition:   condition(n.Icon, n.Text),
	}
	cw.WindDirection = p.int("wind360", n.Wind360)
	if p.err != nil {
		return models.CurrentWeather{}, p.err
	}
	if cw.Humidity < 0 || cw.Humidity > 100 {
		return models.CurrentWeather{}, fmt.Errorf("humidity %d out of range", cw.Humidity)
	}
	cw.WindDirection = ((cw.WindDirection % 360) + 360) % 360

	ts, err := parseObsTime(n.ObsTime)
	if err != nil {
		if ts, err = parseObsTime(r.UpdateTime); err != nil {
			return models.CurrentWeather{}, fmt.Errorf("obsTime %q: %w", n.ObsTime, err)
		}
	}
	cw.Timestamp = ts
	return cw, nil
}

func mapForecast(r *dailyResponse, now time.Time) ([]models.ForecastDay, error) {
	if len(r.Daily) < models.ForecastDays {
		return nil, fmt.Errorf("forecast has %d days, want %d", len(r.Daily), models.ForecastDays)
	}
	var p numParser
	days := make([]models.ForecastDay, 0, models.ForecastDays)
	for _, d := range r.Daily[:models.ForecastDays] {
		days = append(days, models.ForecastDay{
			Date:      d.FxDate,
			HighTemp:  p.float("tempMax", d.TempMax),
			LowTemp:   p.float("tempMin", d.TempMin),
			Condition: condition(d.IconDay, d.TextDay),
			Night:     condition(d.IconNight, d.TextNight),
		})
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := models.ValidateForecast(days, now); err != nil {
		return nil, err
	}
	return days, nil
}

// condition keeps the provider text as Description; localization happens in the service.
func condition(icon, text string) models.WeatherCondition {
	return models.WeatherCondition{
		MainCode:    localize.CodeForIcon(icon),
		Description: text,
		IconID:      icon,
	}
}

// kmhToMS converts the provider's km/h to m/s, rounded to 0.1.
func kmhToMS(v float64) float64 {
	return math.Round(v/3.6*10) / 10
}

func parseObsTime(s string) (time.Time, error) {
	if t, err := time.Parse(obsTimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// numParser parses QWeather's string-encoded numbers and keeps the first error.
type numParser struct{ err error }

func (p *numParser) float(field, s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("field %s: %w", field, err)
	}
	return v
}

func (p *numParser) int(field, s string) int {
	return int(math.Round(p.float(field, s)))
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}
