package source

import (
	"context"
	"sync"
	"time"

	"v20-scanner/internal/models"
)

// RateLimiter is a token bucket: burst tokens at most, refilled at rate per
// second. A non-positive rate disables limiting.
type RateLimiter struct {
	mu         sync.Mutex
	rate       float64
	burst      float64
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
}

func NewRateLimiter(rate float64, burst int) *RateLimiter {
	b := float64(max(burst, 1))
	return &RateLimiter{rate: rate, burst: b, tokens: b, lastUpdate: time.Now(), now: time.Now}
}

// reserve takes a token if one is available and otherwise reports how long
// until the next one.
func (r *RateLimiter) reserve() (time.Duration, bool) {
	if r.rate <= 0 {
		return 0, true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.tokens = min(r.burst, r.tokens+now.Sub(r.lastUpdate).Seconds()*r.rate)
	r.lastUpdate = now

	if r.tokens >= 1 {
		r.tokens--
		return 0, true
	}
	return time.Duration((1 - r.tokens) / r.rate * float64(time.Second)), false
}

// Allow takes a token without blocking.
func (r *RateLimiter) Allow() bool {
	_, ok := r.reserve()
	return ok
}

// Wait blocks until a token is taken or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait, ok := r.reserve()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Throttled is a HistorySource whose remote calls each take a limiter token
// first. Suspension probes count against the same budget.
type Throttled struct {
	inner   HistorySource
	limiter *RateLimiter
}

func NewThrottled(src HistorySource, rate float64, burst int) *Throttled {
	return &Throttled{inner: src, limiter: NewRateLimiter(rate, burst)}
}

func (t *Throttled) Name() string { return t.inner.Name() }

func (t *Throttled) Unwrap() HistorySource { return t.inner }

func (t *Throttled) FetchHistory(ctx context.Context, symbol string, from, to time.Time) ([]models.RawRow, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return t.inner.FetchHistory(ctx, symbol, from, to)
}

// IsSuspended reports "not suspended" without a call when the wrapped
// source cannot probe.
func (t *Throttled) IsSuspended(ctx context.Context, symbol string) (bool, string, error) {
	probe, ok := t.inner.(SuspensionChecker)
	if !ok {
		return false, "", nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return false, "", err
	}
	return probe.IsSuspended(ctx, symbol)
}
