package service

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

// requestCoalescer prevents cache stampede by coalescing concurrent misses for the same
// key into one assembly (one provider call pair).
type requestCoalescer struct {
	group singleflight.Group
}

func newRequestCoalescer() *requestCoalescer {
	return &requestCoalescer{}
}

// Do runs fn for key unless a call for key is already in flight, in which case it waits
// for that call. Each caller waits under its own ctx and gets its own copy of the report.
// shared reports whether the result was delivered to more than one caller.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func() (models.WeatherReport, error)) (report models.WeatherReport, shared bool, err error) {
	ch := rc.group.DoChan(key, func() (interface{}, error) {
		return fn()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return models.WeatherReport{}, res.Shared, res.Err
		}
		return res.Val.(models.WeatherReport).Clone(), res.Shared, nil
	case <-ctx.Done():
		return models.WeatherReport{}, false, ctx.Err()
	}
}
