package timecamp

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds how the client retries transient failures.
type RetryPolicy struct {
	// MaxAttempts counts the first try. Values below 1 mean a single try.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff and the rate limit fallback wait.
	BaseDelay time.Duration
	// MaxDelay caps a single backoff step.
	MaxDelay time.Duration
	// MaxRateLimitWait caps a server-requested Retry-After wait.
	MaxRateLimitWait time.Duration
}

// DefaultRetryPolicy mirrors the source's documented rate limits.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      5,
		BaseDelay:        time.Second,
		MaxDelay:         30 * time.Second,
		MaxRateLimitWait: 2 * time.Minute,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) backoff() retry.Backoff {
	attempts := p.attempts()
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// rateLimitWait is the mandatory pause after a 429, or a 5xx carrying
// Retry-After, on the given attempt (1-based). Retry-After wins when present; the result never exceeds
// MaxRateLimitWait.
func (p RetryPolicy) rateLimitWait(h http.Header, attempt int) time.Duration {
	wait := p.BaseDelay * time.Duration(attempt)
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			wait = time.Duration(secs) * time.Second
		} else if at, err := http.ParseTime(v); err == nil {
			wait = time.Until(at)
		}
	}
	if wait < 0 {
		wait = 0
	}
	if p.MaxRateLimitWait > 0 && wait > p.MaxRateLimitWait {
		wait = p.MaxRateLimitWait
	}
	return wait
}

// sleep blocks for d or until ctx is done. Replaced in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
