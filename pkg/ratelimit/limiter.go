// Package ratelimit controls the pace of outbound requests to exchange
// APIs. Every exchange publishes request ceilings and bans clients that
// exceed them; the REST client takes a token from a limiter before each
// call so the library stays under those ceilings even when the scheduler,
// the fetcher and live resubscribes all hit one venue at once.
//
// The package wraps Uber's token-bucket limiter behind a small interface
// so the rest of the code never depends on the concrete implementation
// and tests can substitute an unlimited one.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/ratelimit"
)

// Rate expresses a limit as a number of operations per time interval,
// e.g. {Limit: 120, Interval: time.Minute}.
type Rate struct {
	// Limit is the maximum number of operations allowed within Interval
	Limit int

	// Interval is the window over which Limit applies
	Interval time.Duration
}

// RateLimiter paces operations according to a configured Rate.
type RateLimiter interface {
	// Wait blocks until an operation is permitted or the context is
	// cancelled. Call it immediately before the rate-limited operation.
	Wait(ctx context.Context) error

	// SetLimit replaces the rate configuration at runtime. Returns an
	// error for non-positive limits or intervals.
	SetLimit(limit Rate) error
}

// uberLimiter implements RateLimiter on top of Uber's token bucket.
type uberLimiter struct {
	limiter ratelimit.Limiter
	rate    Rate
}

// NewTokenBucketLimiter creates a rate limiter for the given Rate. The
// rate is converted to operations per second for the underlying bucket;
// rates below one per second are clamped to one per second.
func NewTokenBucketLimiter(rate Rate) RateLimiter {
	return &uberLimiter{
		limiter: ratelimit.New(perSecond(rate)),
		rate:    rate,
	}
}

func perSecond(rate Rate) int {
	rps := int(float64(rate.Limit) / rate.Interval.Seconds())
	if rps < 1 {
		rps = 1
	}
	return rps
}

// Wait implements the RateLimiter interface.
func (l *uberLimiter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
	default:
		l.limiter.Take()
		return nil
	}
}

// SetLimit implements the RateLimiter interface.
func (l *uberLimiter) SetLimit(rate Rate) error {
	if rate.Limit <= 0 || rate.Interval <= 0 {
		return fmt.Errorf("invalid rate limit: %+v", rate)
	}
	l.limiter = ratelimit.New(perSecond(rate))
	l.rate = rate
	return nil
}
