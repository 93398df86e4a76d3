package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather-service/internal/models"
	"github.com/kjstillabower/city-weather-service/internal/observability"
)

// Prefetcher is implemented by the service layer. Used by CacheWarmer to avoid a
// circular dependency on the service package. Prefetch fills the cache entry for
// (city, lang) without counting as served traffic.
type Prefetcher interface {
	Prefetch(ctx context.Context, city models.CityKey, lang models.Language) error
}

// Target is one (city, language) cache entry to keep warm.
type Target struct {
	City models.CityKey
	Lang models.Language
}

// AllTargets returns every supported city in both languages.
func AllTargets() []Target {
	var out []Target
	for _, c := range models.SupportedCities() {
		for _, l := range []models.Language{models.LangZH, models.LangEN} {
			out = append(out, Target{City: c, Lang: l})
		}
	}
	return out
}

// CacheWarmer prefetches reports through the service so the first request for a
// supported city does not pay for the provider round trip.
type CacheWarmer struct {
	fetcher   Prefetcher
	logger    *zap.Logger
	mu        sync.Mutex
	scheduler gocron.Scheduler
}

// NewCacheWarmer creates a CacheWarmer that uses the given fetcher and logger.
func NewCacheWarmer(fetcher Prefetcher, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm fetches every target concurrently. Returns the joined errors of failed targets.
func (w *CacheWarmer) Warm(ctx context.Context, targets []Target) error {
	start := time.Now()
	w.logger.Info("warming cache", zap.Int("targets", len(targets)))

	var wg sync.WaitGroup
	errs := make([]error, len(targets))
	for i, t := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.fetcher.Prefetch(ctx, t.City, t.Lang); err != nil {
				errs[i] = fmt.Errorf("warm %s: %w", models.CacheKey(t.City, t.Lang), err)
			}
		}()
	}
	wg.Wait()

	err := errors.Join(errs...)
	duration := time.Since(start)
	observability.CacheWarmingDuration.Observe(duration.Seconds())
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.CacheWarmingRunsTotal.WithLabelValues(outcome).Inc()
	w.logger.Info("cache warming complete",
		zap.Int("targets", len(targets)),
		zap.String("outcome", outcome),
		zap.Duration("duration", duration))
	if err != nil {
		return fmt.Errorf("cache warming: %w", err)
	}
	return nil
}

// Start schedules Warm every interval, with the first run immediately. Overlapping
// runs are skipped. Call Stop to shut the scheduler down.
func (w *CacheWarmer) Start(targets []Target, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("cache warming interval must be positive, got %v", interval)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scheduler != nil {
		return errors.New("cache warmer already started")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func(ctx context.Context) {
			if err := w.Warm(ctx, targets); err != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}),
		gocron.WithName("cache-warming"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("schedule cache warming: %w", err)
	}
	s.Start()
	w.scheduler = s
	return nil
}

// Stop shuts the scheduler down, waiting for a running pass to return.
func (w *CacheWarmer) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.scheduler == nil {
		return nil
	}
	err := w.scheduler.Shutdown()
	w.scheduler = nil
	return err
}
