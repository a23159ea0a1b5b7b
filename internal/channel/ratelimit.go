package channel

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps log forwarding under the destination channel's send
// limits. Callers learn the wait up front instead of queueing behind it.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter allows maxBurst sends at once, refilled at ratePerMinute.
func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 10
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 120
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Limit(ratePerMinute/60), maxBurst)}
}

// Take claims one send slot and returns how long the caller must wait
// before using it. If that wait would exceed maxWait the claim is given
// back and ok is false; delay still reports the wait that was refused.
func (rl *RateLimiter) Take(maxWait time.Duration) (delay time.Duration, ok bool) {
	now := time.Now()
	r := rl.lim.ReserveN(now, 1)
	if !r.OK() {
		return 0, false
	}
	delay = r.DelayFrom(now)
	if delay > maxWait {
		r.CancelAt(now)
		return delay, false
	}
	return delay, true
}
