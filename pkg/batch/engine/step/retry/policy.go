// Package retry bounds and paces the retries of transient reader and writer failures.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

// RetryPolicy decides whether a failed operation is attempted again.
type RetryPolicy interface {
	// ShouldRetry reports whether err may be retried after attempt attempts (starting at 1).
	ShouldRetry(err error, attempt int) bool
	// Backoff returns the wait before attempt+1.
	Backoff(attempt int) time.Duration
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts() int
}

// Config holds the settings of the default policy.
type Config struct {
	MaxAttempts         int
	InitialInterval     time.Duration
	Multiplier          float64
	MaxInterval         time.Duration
	RetryableExceptions []string
}

// NewDefaultRetryPolicy creates a RetryPolicy with exponential backoff.
// A MaxAttempts below 1 is treated as 1 (no retry).
func NewDefaultRetryPolicy(cfg Config) RetryPolicy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &defaultRetryPolicy{cfg: cfg}
}

type defaultRetryPolicy struct {
	cfg Config
}

func (p *defaultRetryPolicy) MaxAttempts() int {
	return p.cfg.MaxAttempts
}

func (p *defaultRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.cfg.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var be *exception.BatchError
	if errors.As(err, &be) && be.IsRetryable() {
		return true
	}
	for _, name := range p.cfg.RetryableExceptions {
		if exception.IsErrorOfType(err, name) {
			return true
		}
	}
	return false
}

func (p *defaultRetryPolicy) Backoff(attempt int) time.Duration {
	if p.cfg.InitialInterval <= 0 {
		return 0
	}
	d := float64(p.cfg.InitialInterval) * math.Pow(p.cfg.Multiplier, float64(attempt-1))
	if p.cfg.MaxInterval > 0 && d > float64(p.cfg.MaxInterval) {
		return p.cfg.MaxInterval
	}
	return time.Duration(d)
}

// NoRetryPolicy never retries.
type NoRetryPolicy struct{}

// ShouldRetry always returns false.
func (NoRetryPolicy) ShouldRetry(err error, attempt int) bool { return false }

// Backoff returns 0.
func (NoRetryPolicy) Backoff(attempt int) time.Duration { return 0 }

// MaxAttempts returns 1.
func (NoRetryPolicy) MaxAttempts() int { return 1 }

// Do calls fn until it succeeds, the policy refuses another attempt, or ctx is done.
// onRetry, if not nil, is called before every retry with the attempt that failed.
// The last error is returned unchanged.
func Do(ctx context.Context, policy RetryPolicy, fn func(attempt int) error, onRetry func(attempt int, err error)) error {
	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if !policy.ShouldRetry(err, attempt) {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if wait := policy.Backoff(attempt); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return err
		}
	}
}

var (
	_ RetryPolicy = (*defaultRetryPolicy)(nil)
	_ RetryPolicy = NoRetryPolicy{}
)
