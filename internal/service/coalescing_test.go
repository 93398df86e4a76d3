package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

func TestRequestCoalescer_SharesInFlightCall(t *testing.T) {
	rc := newRequestCoalescer()
	var calls atomic.Int32
	release := make(chan struct{})
	fn := func() (models.WeatherReport, error) {
		calls.Add(1)
		<-release
		return models.WeatherReport{
			CityName: "Beijing",
			Forecast: []models.ForecastDay{{Date: "2026-10-15"}},
		}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]models.WeatherReport, callers)
	var sharedCount atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, shared, err := rc.Do(context.Background(), "beijing:en", fn)
			if err != nil {
				t.Errorf("Do() error = %v", err)
			}
			if shared {
				sharedCount.Add(1)
			}
			results[i] = r
		}(i)
	}

	// Let every caller join before the fetch finishes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("fn calls = %d, want 1", n)
	}
	if n := sharedCount.Load(); n != callers {
		t.Errorf("shared results = %d, want %d", n, callers)
	}

	// Each caller owns its forecast slice.
	results[0].Forecast[0].Date = "mutated"
	if results[1].Forecast[0].Date != "2026-10-15" {
		t.Error("callers share the forecast backing array")
	}
}

func TestRequestCoalescer_CallerContextEndsWait(t *testing.T) {
	rc := newRequestCoalescer()
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := rc.Do(ctx, "k", func() (models.WeatherReport, error) {
		<-release
		return models.WeatherReport{}, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Do() error = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Do() did not return when the caller's context ended")
	}
}

func TestRequestCoalescer_PropagatesError(t *testing.T) {
	rc := newRequestCoalescer()
	want := errors.New("boom")
	_, _, err := rc.Do(context.Background(), "k", func() (models.WeatherReport, error) {
		return models.WeatherReport{}, want
	})
	if !errors.Is(err, want) {
		t.Errorf("Do() error = %v, want %v", err, want)
	}
}
