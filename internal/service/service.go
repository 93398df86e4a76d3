package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/city-weather-service/internal/cache"
	"github.com/kjstillabower/city-weather-service/internal/circuitbreaker"
	"github.com/kjstillabower/city-weather-service/internal/city"
	"github.com/kjstillabower/city-weather-service/internal/client"
	"github.com/kjstillabower/city-weather-service/internal/fallback"
	"github.com/kjstillabower/city-weather-service/internal/localize"
	"github.com/kjstillabower/city-weather-service/internal/models"
	"github.com/kjstillabower/city-weather-service/internal/observability"
	"github.com/kjstillabower/city-weather-service/internal/traffic"
)

// Health status values reported by HealthInfo.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Fallback reasons used as metric labels.
const (
	reasonMockMode      = "mock_mode"
	reasonInvalidReport = "invalid_report"
	reasonCanceled      = "canceled"
)

// BreakerState is the read side of a circuit breaker, reported in HealthInfo.
type BreakerState interface {
	State() circuitbreaker.State
}

// Config carries WeatherService dependencies. Resolver, Cache and Generator are required.
type Config struct {
	Resolver  *city.Resolver
	Cache     cache.Cache
	Generator *fallback.Generator
	// Provider may be nil: the service then runs in mock mode.
	Provider client.WeatherClient
	// ForceMock serves generated data even when Provider is set.
	ForceMock bool
	// ProviderName labels the primary source in HealthInfo.
	ProviderName string
	Breaker      BreakerState
	Analyzer     Analyzer
	TTL          time.Duration
	Location     *time.Location
	Clock        func() time.Time
	Logger       *zap.Logger
	// DegradedWindow and DegradedRatio decide when HealthInfo reports degraded:
	// the share of lookups served from fallback within the window reaches the ratio.
	DegradedWindow time.Duration
	DegradedRatio  float64
}

// WeatherService orchestrates weather lookups: resolve, cache-aside, live fetch with
// fallback to generated data, localization and caching. GetWeather never fails on
// provider errors; they degrade to sourceMode "mock".
type WeatherService struct {
	resolver        *city.Resolver
	cache           cache.Cache
	generator       *fallback.Generator
	provider        client.WeatherClient
	providerName    string
	breaker         BreakerState
	analyzer        Analyzer
	ttl             time.Duration
	loc             *time.Location
	now             func() time.Time
	logger          *zap.Logger
	degradedWindow  time.Duration
	degradedRatio   float64
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer
	mode            atomic.Value // models.SourceMode
}

// NewWeatherService creates a WeatherService from cfg.
func NewWeatherService(cfg Config) (*WeatherService, error) {
	if cfg.Resolver == nil || cfg.Cache == nil || cfg.Generator == nil {
		return nil, errors.New("weather service: resolver, cache and generator are required")
	}
	s := &WeatherService{
		resolver:        cfg.Resolver,
		cache:           cfg.Cache,
		generator:       cfg.Generator,
		provider:        cfg.Provider,
		providerName:    cfg.ProviderName,
		breaker:         cfg.Breaker,
		analyzer:        cfg.Analyzer,
		ttl:             cfg.TTL,
		loc:             cfg.Location,
		now:             cfg.Clock,
		logger:          cfg.Logger,
		degradedWindow:  cfg.DegradedWindow,
		degradedRatio:   cfg.DegradedRatio,
		stampedeTracker: newStampedeTracker(),
		coalescer:       newRequestCoalescer(),
	}
	if cfg.ForceMock {
		s.provider = nil
	}
	if s.ttl <= 0 {
		s.ttl = 600 * time.Second
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.providerName == "" {
		s.providerName = "qweather"
	}
	if s.degradedWindow <= 0 {
		s.degradedWindow = time.Minute
	}
	if s.degradedRatio <= 0 {
		s.degradedRatio = 0.5
	}
	if s.provider == nil {
		s.mode.Store(models.SourceMock)
	} else {
		s.mode.Store(models.SourceAPI)
	}
	return s, nil
}

// loggerFromContext extracts the request-scoped logger, falling back to the service logger.
func (s *WeatherService) loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return s.logger
}

// GetWeather returns the report for rawCity in lang. Unknown cities resolve to the
// default city. The only error is models.ErrInvariantViolation. A caller whose context
// ends while waiting on a shared fetch gets generated data, which is not cached.
func (s *WeatherService) GetWeather(ctx context.Context, rawCity string, lang models.Language) (models.WeatherReport, error) {
	cityKey := s.resolver.Resolve(rawCity)
	observability.RecordWeatherQuery(string(cityKey), string(lang))
	report, err := s.lookup(ctx, cityKey, lang)
	if err != nil {
		return models.WeatherReport{}, err
	}
	s.recordServed(report.SourceMode)
	return report, nil
}

// Prefetch makes sure a current report for (cityKey, lang) is cached. It is not counted
// as served traffic, so it leaves health ratios and CurrentMode alone.
func (s *WeatherService) Prefetch(ctx context.Context, cityKey models.CityKey, lang models.Language) error {
	if !cityKey.Valid() {
		return fmt.Errorf("prefetch: unsupported city %q", cityKey)
	}
	_, err := s.lookup(ctx, cityKey, lang)
	return err
}

func (s *WeatherService) lookup(ctx context.Context, cityKey models.CityKey, lang models.Language) (models.WeatherReport, error) {
	start := time.Now()
	logger := s.loggerFromContext(ctx)
	key := models.CacheKey(cityKey, lang)

	cached, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	case ok:
		// An entry written before local midnight can outlive its first forecast day.
		if verr := cached.Validate(s.today()); verr != nil {
			logger.Debug("cached report outdated, refreshing", zap.String("key", key), zap.Error(verr))
			break
		}
		observability.CacheHitsTotal.WithLabelValues("weather").Inc()
		logger.Debug("weather served",
			zap.String("key", key),
			zap.Bool("cached", true),
			zap.String("source_mode", string(cached.SourceMode)),
			zap.Duration("duration", time.Since(start)))
		return cached, nil
	}
	observability.CacheMissesTotal.WithLabelValues("weather").Inc()

	if concurrent := s.stampedeTracker.RecordMiss(key); concurrent > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(string(cityKey)).Inc()
	}
	defer s.stampedeTracker.RecordDone(key)

	report, shared, err := s.coalescer.Do(ctx, key, func() (models.WeatherReport, error) {
		return s.assemble(ctx, cityKey, lang, key)
	})
	if err != nil {
		if errors.Is(err, models.ErrInvariantViolation) {
			logger.Error("report invariant violated", zap.String("key", key), zap.Error(err))
			return models.WeatherReport{}, err
		}
		// Only the caller's own context ends a wait early.
		observability.FallbackTotal.WithLabelValues(reasonCanceled).Inc()
		report = s.generator.Generate(cityKey, lang)
	}
	if shared {
		observability.RequestCoalescingHitsTotal.WithLabelValues(string(cityKey)).Inc()
	}

	logger.Debug("weather served",
		zap.String("key", key),
		zap.Bool("cached", false),
		zap.Bool("coalesced", shared),
		zap.String("source_mode", string(report.SourceMode)),
		zap.Duration("duration", time.Since(start)))
	return report, nil
}

// assemble builds a fresh report for (cityKey, lang) and caches it. It runs once per
// coalesced miss on behalf of every waiter, so it is detached from the cancellation of
// the caller that started it. Provider calls stay bounded by the client timeout.
func (s *WeatherService) assemble(ctx context.Context, cityKey models.CityKey, lang models.Language, key string) (models.WeatherReport, error) {
	logger := s.loggerFromContext(ctx)
	ctx = context.WithoutCancel(ctx)

	report, reason := s.fetchLive(ctx, cityKey, lang)
	if reason == "" {
		if err := report.Validate(s.today()); err != nil {
			logger.Error("provider report rejected", zap.String("key", key), zap.Error(err))
			reason = reasonInvalidReport
		}
	}
	if reason != "" {
		observability.FallbackTotal.WithLabelValues(reason).Inc()
		report = s.generator.Generate(cityKey, lang)
		if err := report.Validate(s.today()); err != nil {
			return models.WeatherReport{}, fmt.Errorf("generated report for %s: %w", key, err)
		}
	}

	s.analyze(ctx, logger, report)

	if err := s.cache.Set(ctx, key, report, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return report, nil
}

// fetchLive runs both provider calls concurrently. A non-empty reason means the live
// result was discarded; partial results are never returned.
func (s *WeatherService) fetchLive(ctx context.Context, cityKey models.CityKey, lang models.Language) (models.WeatherReport, string) {
	if s.provider == nil {
		return models.WeatherReport{}, reasonMockMode
	}

	var current models.CurrentWeather
	var forecast []models.ForecastDay
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = s.provider.FetchCurrent(gctx, cityKey, lang)
		return err
	})
	g.Go(func() error {
		var err error
		forecast, err = s.provider.FetchForecast(gctx, cityKey, lang)
		return err
	})
	if err := g.Wait(); err != nil {
		category := string(client.CategorizeError(err))
		s.loggerFromContext(ctx).Warn("live fetch failed, using fallback",
			zap.String("city", string(cityKey)),
			zap.String("lang", string(lang)),
			zap.String("category", category),
			zap.Error(err))
		return models.WeatherReport{}, category
	}

	return localize.Report(models.WeatherReport{
		Current:    current,
		Forecast:   forecast,
		SourceMode: models.SourceAPI,
	}, lang), ""
}

func (s *WeatherService) recordServed(mode models.SourceMode) {
	s.mode.Store(mode)
	if mode == models.SourceAPI {
		traffic.RecordLive()
	} else {
		traffic.RecordFallback()
	}
}

func (s *WeatherService) today() time.Time {
	return s.now().In(s.loc)
}

// CurrentMode returns the source mode of the most recently served report.
func (s *WeatherService) CurrentMode() models.SourceMode {
	return s.mode.Load().(models.SourceMode)
}

// ErrClearUnsupported is returned by ClearCache when the configured cache cannot be cleared.
var ErrClearUnsupported = errors.New("cache backend does not support clear")

// ClearCache drops every cached report so the next lookups rebuild them.
func (s *WeatherService) ClearCache(ctx context.Context) error {
	c, ok := s.cache.(cache.Clearer)
	if !ok {
		return ErrClearUnsupported
	}
	if err := c.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	s.loggerFromContext(ctx).Info("cache cleared")
	return nil
}

// CacheStats is a passthrough to the cache.
func (s *WeatherService) CacheStats(ctx context.Context) (models.CacheStats, error) {
	return s.cache.Stats(ctx)
}

// HealthInfo summarizes cache occupancy, configured sources and the current mode.
func (s *WeatherService) HealthInfo(ctx context.Context) (models.HealthInfo, error) {
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return models.HealthInfo{}, fmt.Errorf("cache stats: %w", err)
	}

	sources := map[string]string{"mock": "generator"}
	if s.provider == nil {
		sources["primary"] = "disabled"
	} else {
		sources["primary"] = s.providerName
	}

	status := StatusHealthy
	if s.breaker != nil {
		state := s.breaker.State()
		sources["circuit_breaker"] = state.String()
		if state == circuitbreaker.StateOpen {
			status = StatusDegraded
		}
	}
	if s.provider != nil {
		fb, served := traffic.FallbackRate(s.degradedWindow)
		if served > 0 && float64(fb)/float64(served) >= s.degradedRatio {
			status = StatusDegraded
		}
	}

	return models.HealthInfo{
		Status:      status,
		CacheStats:  stats,
		DataSources: sources,
		CurrentMode: s.CurrentMode(),
	}, nil
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
