package downloader

import (
	"context"
	"errors"
	"time"

	"nagare/internal/errs"
)

// Retry retries transient transfer failures with exponential backoff.
type Retry struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Backoff is the first wait, doubled before every further retry.
	Backoff time.Duration
}

// Do calls fn until it succeeds, fails with a non transient error or runs out
// of retries. onRetry is called before each wait.
func (r Retry) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error,
	onRetry func(attempt int, wait time.Duration, err error),
) error {
	wait := r.Backoff

	for attempt := 0; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil || !errors.Is(err, errs.ErrTransientTransfer) || attempt >= r.MaxRetries {
			return err
		}

		if onRetry != nil {
			onRetry(attempt+1, wait, err)
		}

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		case <-timer.C:
		}

		wait *= 2
	}
}
