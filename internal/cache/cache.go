package cache

import (
	"context"
	"time"

	"github.com/kjstillabower/city-weather-service/internal/models"
	"github.com/kjstillabower/city-weather-service/internal/observability"
)

// Cache defines the interface for weather report caching implementations.
// Get returns cached data if present and not expired, Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (models.WeatherReport, bool, error)
	Set(ctx context.Context, key string, value models.WeatherReport, ttl time.Duration) error
	Stats(ctx context.Context) (models.CacheStats, error)
}

// Clearer is implemented by caches that can drop all of their own entries.
// MemcachedCache does not: a flush would also remove keys owned by other clients.
type Clearer interface {
	Clear(ctx context.Context) error
}

// InMemoryCache implements Cache on a TTLCache of reports. Reports are cloned on
// Set and Get so callers can never mutate cached state.
type InMemoryCache struct {
	ttl *TTLCache[models.WeatherReport]
}

// NewInMemoryCache creates an in-memory cache holding at most maxSize reports.
func NewInMemoryCache(maxSize int, ttl time.Duration) *InMemoryCache {
	return &InMemoryCache{
		ttl: NewTTLCache(maxSize, ttl,
			WithClone(models.WeatherReport.Clone),
			WithEvictHook[models.WeatherReport](func(_ string, reason EvictReason) {
				observability.CacheEvictionsTotal.WithLabelValues(string(reason)).Inc()
			}),
		),
	}
}

// Get returns (report, true, nil) on a hit and (zero, false, nil) on miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.WeatherReport, bool, error) {
	v, ok := c.ttl.Get(key)
	return v, ok, nil
}

// Set stores a copy of value under key for ttl.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.WeatherReport, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.ttl.Set(key, value, ttl)
	return nil
}

// Stats implements Cache.Stats.
func (c *InMemoryCache) Stats(ctx context.Context) (models.CacheStats, error) {
	s := c.ttl.Stats()
	observability.CacheSize.Set(float64(s.CurrentSize))
	return s, nil
}

// Len returns the number of live entries.
func (c *InMemoryCache) Len() int {
	return c.ttl.Len()
}

// Clear drops every cached report.
func (c *InMemoryCache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.ttl.Clear()
	return nil
}
