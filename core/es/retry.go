package es

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

const (
	defaultRetryAttempts = 5
	defaultRetryBase     = 10 * time.Millisecond
	defaultRetryJitter   = 0.3
)

type RetryOptions struct {
	// MaxAttempts bounds the total number of tries, first one included.
	MaxAttempts int
	// Base is the delay before the second attempt; it doubles per attempt.
	Base time.Duration
	// Jitter randomizes each delay by +/- this fraction to keep two
	// conflicting writers from colliding again in lockstep.
	Jitter float64
}

type RetryOption func(*RetryOptions)

func RetryAttempts(n int) RetryOption {
	return func(o *RetryOptions) { o.MaxAttempts = n }
}

func RetryBase(d time.Duration) RetryOption {
	return func(o *RetryOptions) { o.Base = d }
}

// Retry runs fn until it succeeds, fails with a non-conflict error, exhausts
// its attempts or the context ends. Only ErrConcurrencyConflict is retried:
// a conflict means the aggregate was stale, so fn must reload it and rebuild
// the command from fresh state on every attempt.
func Retry(ctx context.Context, fn func(ctx context.Context) error, opts ...RetryOption) error {
	options := RetryOptions{
		MaxAttempts: defaultRetryAttempts,
		Base:        defaultRetryBase,
		Jitter:      defaultRetryJitter,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.MaxAttempts < 1 {
		options.MaxAttempts = 1
	}

	var err error
	delay := options.Base
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !IsConcurrencyConflict(err) {
			return err
		}
		if attempt >= options.MaxAttempts {
			break
		}

		d := delay
		if options.Jitter > 0 {
			f := 1 + options.Jitter*(2*rand.Float64()-1)
			d = time.Duration(float64(d) * f)
		}
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}

	return fmt.Errorf("gave up after %d attempts: %w", options.MaxAttempts, err)
}
