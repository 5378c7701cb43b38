package consumer

import (
	"context"
	"time"
)

// Breaker counts consecutive transport failures. Once maxFailures is
// reached, Wait suspends the caller for the cooldown and resets the count.
// It is owned by a single receive loop and is not safe for concurrent use.
type Breaker struct {
	maxFailures int
	cooldown    time.Duration
	failures    int
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewBreaker creates a breaker. maxFailures <= 0 is treated as 1.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		sleep:       sleepContext,
	}
}

// Success resets the failure count
func (b *Breaker) Success() {
	b.failures = 0
}

// Failure records one receive error and reports whether the breaker is open
func (b *Breaker) Failure() bool {
	b.failures++
	return b.Open()
}

// Open reports whether the failure threshold has been reached
func (b *Breaker) Open() bool {
	return b.failures >= b.maxFailures
}

// Failures current consecutive failure count
func (b *Breaker) Failures() int {
	return b.failures
}

// Wait sleeps out the cooldown if the breaker is open, then closes it.
// It returns ctx.Err() if the context ends first.
func (b *Breaker) Wait(ctx context.Context) error {
	if !b.Open() {
		return nil
	}
	if err := b.sleep(ctx, b.cooldown); err != nil {
		return err
	}
	b.failures = 0
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
