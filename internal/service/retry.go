package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pulsemetrics/pulse/internal/apperr"
)

// RetryPolicy bounds Retry. OnRetry, when set, is called before each wait.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	OnRetry        func(err error, wait time.Duration)
}

// DefaultRetryPolicy makes three attempts, waiting 100ms then 200ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// Retryable reports whether err is a transient failure worth another
// attempt: an internal error that is not a context cancellation.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return apperr.KindOf(err) == apperr.KindInternal
}

// Retry runs fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done. Backoff doubles from InitialBackoff up to
// MaxBackoff without jitter. An error left after the last attempt is
// reported as internal.
func Retry(ctx context.Context, p RetryPolicy, fn func(context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialBackoff
	eb.MaxInterval = p.MaxBackoff
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)

	op := func() error {
		err := fn(ctx)
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = p.OnRetry
	}

	err := backoff.RetryNotify(op, b, notify)
	if err == nil || !Retryable(err) {
		return err
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Internal("Internal server error", err)
}
