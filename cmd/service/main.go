package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-weather-service/internal/cache"
	"github.com/kjstillabower/city-weather-service/internal/circuitbreaker"
	"github.com/kjstillabower/city-weather-service/internal/city"
	"github.com/kjstillabower/city-weather-service/internal/client"
	"github.com/kjstillabower/city-weather-service/internal/config"
	"github.com/kjstillabower/city-weather-service/internal/fallback"
	httphandler "github.com/kjstillabower/city-weather-service/internal/http"
	"github.com/kjstillabower/city-weather-service/internal/lifecycle"
	"github.com/kjstillabower/city-weather-service/internal/models"
	"github.com/kjstillabower/city-weather-service/internal/observability"
	"github.com/kjstillabower/city-weather-service/internal/service"
)

const serviceName = "city-weather-service"

func main() {
	logger, err := observability.NewLogger(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	lifecycle.SetPhase(lifecycle.Starting)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	resolver, err := city.NewResolver(cfg.DefaultCity)
	if err != nil {
		logger.Fatal("city resolver", zap.Error(err))
	}

	cacheSvc, memcached, err := newCache(cfg)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	logger.Info("cache backend", zap.String("backend", cfg.CacheBackend), zap.Int("max_size", cfg.CacheMaxSize))

	svcCfg := service.Config{
		Resolver:       resolver,
		Cache:          cacheSvc,
		Generator:      fallback.New(cfg.Location),
		TTL:            cfg.CacheTTL,
		Location:       cfg.Location,
		Logger:         logger,
		DegradedWindow: cfg.DegradedWindow,
		DegradedRatio:  cfg.DegradedRatio,
	}
	if cfg.AnalyticsEnabled {
		svcCfg.Analyzer = service.TrendAnalyzer{}
	}
	if cfg.UseMock() {
		logger.Warn("serving generated weather data", zap.String("mode", cfg.WeatherMode), zap.Bool("credentials", cfg.HasCredentials()))
	} else {
		provider, breaker, err := newProvider(cfg, logger)
		if err != nil {
			logger.Fatal("weather provider", zap.Error(err))
		}
		svcCfg.Provider = provider
		if breaker != nil {
			svcCfg.Breaker = breaker
		}
		checkProvider(provider, cfg.DefaultCity, logger)
	}
	weatherService, err := service.NewWeatherService(svcCfg)
	if err != nil {
		logger.Fatal("weather service", zap.Error(err))
	}

	opts := httphandler.Options{MaxCityLength: cfg.MaxCityLength}
	if memcached != nil {
		opts.CachePing = memcached.Ping
	}
	handler := httphandler.NewHandler(weatherService, logger, opts)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
	})
	observability.RegisterTrafficGauges(cfg.DegradedWindow)

	var warmer *cache.CacheWarmer
	if cfg.WarmingEnabled {
		warmer = cache.NewCacheWarmer(weatherService, logger.Named("warmer"))
		if err := warmer.Start(cache.AllTargets(), cfg.WarmingInterval); err != nil {
			logger.Error("cache warming disabled", zap.Error(err))
			warmer = nil
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()
	lifecycle.SetPhase(lifecycle.Serving)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetPhase(lifecycle.Draining)
	if warmer != nil {
		if err := warmer.Stop(); err != nil {
			logger.Warn("cache warmer stop", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if memcached != nil {
		if err := memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer flushCancel()
	if err := observability.FlushTelemetry(flushCtx, logger); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
}

// newCache returns the configured report cache. The memcached handle is returned
// separately for health pings and Close.
func newCache(cfg *config.Config) (cache.Cache, *cache.MemcachedCache, error) {
	if cfg.CacheBackend == config.BackendMemcached {
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.CacheMaxSize, cfg.CacheTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("memcached cache: %w", err)
		}
		return mc, mc, nil
	}
	return cache.NewInMemoryCache(cfg.CacheMaxSize, cfg.CacheTTL), nil, nil
}

// newTokenSource prefers a self-signed JWT when a key id is configured.
func newTokenSource(cfg *config.Config) (client.TokenSource, error) {
	if cfg.JWTKeyID == "" {
		return client.StaticToken(cfg.BearerToken), nil
	}
	key, err := client.LoadEd25519Key(cfg.JWTPrivateKeyFile)
	if err != nil {
		return nil, err
	}
	return client.NewJWTSource(cfg.JWTKeyID, cfg.JWTSubject, key, cfg.JWTTTL)
}

// newProvider builds the QWeather client and, when enabled, its circuit breaker.
func newProvider(cfg *config.Config, logger *zap.Logger) (*client.QWeatherClient, *circuitbreaker.CircuitBreaker, error) {
	tokens, err := newTokenSource(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("token source: %w", err)
	}
	opts := []client.Option{
		client.WithLocation(cfg.Location),
		client.WithLogger(logger),
	}

	var breaker *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreakerEnabled {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        "qweather",
			IsFailure:        client.CountsAsOutage,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.CircuitBreakerState.Set(float64(to))
				logger.Warn("circuit breaker state change",
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
		observability.CircuitBreakerState.Set(float64(circuitbreaker.StateClosed))
		opts = append(opts, client.WithCircuitBreaker(breaker))
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	qw, err := client.NewQWeatherClient(cfg.WeatherAPIURL, tokens, cfg.WeatherAPITimeout, opts...)
	if err != nil {
		return nil, nil, err
	}
	return qw, breaker, nil
}

// checkProvider probes credentials once at startup. Failure is logged, not fatal:
// lookups fall back to generated data until the provider recovers.
func checkProvider(qw *client.QWeatherClient, c models.CityKey, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := qw.Ping(ctx, c); err != nil {
		logger.Warn("weather provider check failed",
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err))
		return
	}
	logger.Info("weather provider reachable")
}
