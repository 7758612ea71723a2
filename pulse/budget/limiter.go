package budget

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/teranos/courseforge/errors"
)

// ErrRateLimited is returned by Allow when no call slot is free
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter caps provider calls per minute with a token bucket.
// A non-positive limit disables limiting.
type Limiter struct {
	maxCallsPerMinute int
	bucket            *rate.Limiter
	timeNow           func() time.Time // Injectable for testing
}

// NewLimiter creates a rate limiter with real time
func NewLimiter(maxCallsPerMinute int) *Limiter {
	return NewLimiterWithClock(maxCallsPerMinute, time.Now)
}

// NewLimiterWithClock creates a rate limiter with injectable clock (for testing)
func NewLimiterWithClock(maxCallsPerMinute int, timeNow func() time.Time) *Limiter {
	l := &Limiter{maxCallsPerMinute: maxCallsPerMinute, timeNow: timeNow}
	if maxCallsPerMinute > 0 {
		l.bucket = rate.NewLimiter(rate.Every(time.Minute/time.Duration(maxCallsPerMinute)), maxCallsPerMinute)
	}
	return l
}

// Allow takes a call slot or returns ErrRateLimited
func (r *Limiter) Allow() error {
	if r == nil || r.bucket == nil {
		return nil
	}
	if r.bucket.AllowN(r.timeNow(), 1) {
		return nil
	}
	err := errors.Wrapf(ErrRateLimited, "%d calls per minute", r.maxCallsPerMinute)
	err = errors.WithDetail(err, fmt.Sprintf("Max calls per minute: %d", r.maxCallsPerMinute))
	return err
}

// Wait blocks until a call slot is free or ctx is done
func (r *Limiter) Wait(ctx context.Context) error {
	if r == nil || r.bucket == nil {
		return nil
	}
	return r.bucket.Wait(ctx)
}

// Stats returns the configured limit and the slots available now
func (r *Limiter) Stats() (limit int, remaining int) {
	if r == nil || r.bucket == nil {
		return 0, 0
	}
	remaining = int(r.bucket.TokensAt(r.timeNow()))
	if remaining < 0 {
		remaining = 0
	}
	return r.maxCallsPerMinute, remaining
}
