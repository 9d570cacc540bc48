package connector

import (
	"context"
	"math"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMultiplier  = 2.0
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Attempt is one scheduled connect attempt and the delay that precedes it.
type Attempt struct {
	Index int
	Delay time.Duration
}

// RetryPolicy describes connect retries. The delay after failed attempt i
// (zero-based) is BaseDelay × Multiplier^i; nothing is slept after the last
// attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64

	// Jitter, when set, perturbs each delay by up to ±Jitter.
	Jitter time.Duration
	// MaxElapsed, when set, stops retrying once the total backoff budget is
	// spent.
	MaxElapsed time.Duration

	// Sleep defaults to a context-aware timer.
	Sleep Sleeper
}

// DefaultRetryPolicy is 3 attempts with 1s and 2s between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// Backoff returns the delay sequence between attempts. It stops after
// MaxAttempts-1 delays.
func (p RetryPolicy) Backoff() retry.Backoff {
	p = p.normalized()

	var b retry.Backoff
	if p.Multiplier == 2 {
		b = retry.NewExponential(p.BaseDelay)
	} else {
		var i int
		base, mult := float64(p.BaseDelay), p.Multiplier
		b = retry.BackoffFunc(func() (time.Duration, bool) {
			d := base * math.Pow(mult, float64(i))
			i++
			if d >= math.MaxInt64 {
				return math.MaxInt64, false
			}
			return time.Duration(d), false
		})
	}
	if p.Jitter > 0 {
		b = retry.WithJitter(p.Jitter, b)
	}
	if p.MaxElapsed > 0 {
		b = retry.WithMaxDuration(p.MaxElapsed, b)
	}
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

// Schedule lists every attempt with the delay slept before it. It is only
// meaningful without jitter.
func (p RetryPolicy) Schedule() []Attempt {
	p = p.normalized()
	b := p.Backoff()
	attempts := []Attempt{{Index: 0}}
	for i := 1; i < p.MaxAttempts; i++ {
		d, stop := b.Next()
		if stop {
			break
		}
		attempts = append(attempts, Attempt{Index: i, Delay: d})
	}
	return attempts
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
