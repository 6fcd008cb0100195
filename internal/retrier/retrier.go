// Package retrier wraps flaky operations with exponential backoff,
// treating a typed not-found outcome as terminal rather than transient.
package retrier

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Config controls how many attempts an operation gets and the backoff
// applied between them.
type Config struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultConfig matches the original mill's default of three attempts.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// NotFoundError marks err as a typed absence: Do returns it immediately
// without spending further attempts.
type NotFoundError struct {
	Err error
}

func (e *NotFoundError) Error() string { return e.Err.Error() }
func (e *NotFoundError) Unwrap() error { return e.Err }

// NotFound wraps err so Do treats it as terminal.
func NotFound(err error) error {
	if err == nil {
		return nil
	}
	return &NotFoundError{Err: err}
}

// Do runs op, retrying transient failures with exponential backoff for
// at most cfg.MaxAttempts attempts in total, the first one included. An error wrapped with NotFound is returned
// immediately on first occurrence, never retried.
func Do[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval

	return backoff.Retry(ctx, func() (T, error) {
		result, err := op()
		if err == nil {
			return result, nil
		}

		var nf *NotFoundError
		if errors.As(err, &nf) {
			return result, backoff.Permanent(nf.Err)
		}

		return result, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(cfg.MaxAttempts)))
}
