// Package traffic keeps sliding windows of weather lookup outcomes. Health reporting
// reads the fallback ratio from it; the metrics registry exposes the window counts.
package traffic

import (
	"sync"
	"time"
)

// retention bounds how far back any window query can see.
const retention = 5 * time.Minute

var defaultTracker = NewTracker(time.Now)

// RecordLive records a lookup answered with provider data (fresh or cached).
func RecordLive() {
	defaultTracker.RecordLive()
}

// RecordFallback records a lookup answered with generated mock data.
func RecordFallback() {
	defaultTracker.RecordFallback()
}

// RecordDenied records a rate-limit denial (429).
func RecordDenied() {
	defaultTracker.RecordDenied()
}

// RequestCount returns the number of outcomes (live + fallback + denied) within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.DenialCount(window)
}

// FallbackRate returns (fallbackCount, servedCount) within the window. Denials are not served.
func FallbackRate(window time.Duration) (fallback, served int) {
	return defaultTracker.FallbackRate(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker maintains sliding windows of outcome timestamps.
type Tracker struct {
	mu            sync.Mutex
	now           func() time.Time
	liveTimes     []time.Time
	fallbackTimes []time.Time
	deniedTimes   []time.Time
}

// NewTracker returns an empty tracker reading time from now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

func (t *Tracker) RecordLive()     { t.recordOutcome(&t.liveTimes) }
func (t *Tracker) RecordFallback() { t.recordOutcome(&t.fallbackTimes) }
func (t *Tracker) RecordDenied()   { t.recordOutcome(&t.deniedTimes) }

func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// RequestCount returns the total number of outcomes within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return countSince(t.liveTimes, cutoff) +
		countSince(t.fallbackTimes, cutoff) +
		countSince(t.deniedTimes, cutoff)
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.deniedTimes, t.now().Add(-window))
}

// FallbackRate returns (fallbackCount, live+fallback) within the window.
func (t *Tracker) FallbackRate(window time.Duration) (fallback, served int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	fb := countSince(t.fallbackTimes, cutoff)
	return fb, fb + countSince(t.liveTimes, cutoff)
}

// Reset clears all recorded outcomes from the tracker.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.liveTimes = nil
	t.fallbackTimes = nil
	t.deniedTimes = nil
}

// countSince counts timestamps that are not before cutoff.
func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.liveTimes)
	prune(&t.fallbackTimes)
	prune(&t.deniedTimes)
}
