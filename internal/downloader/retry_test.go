package downloader

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"testing/synctest"
	"time"

	"nagare/internal/errs"
)

func TestRetryBackoff(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		r := Retry{MaxRetries: 5, Backoff: 10 * time.Second}

		var (
			calls int
			waits []time.Duration
			last  = time.Now()
		)

		err := r.Do(context.Background(), func(context.Context, int) error {
			now := time.Now()
			if calls > 0 {
				waits = append(waits, now.Sub(last))
			}

			last = now
			calls++

			return fmt.Errorf("429: %w", errs.ErrTransientTransfer)
		}, nil)

		if !errors.Is(err, errs.ErrTransientTransfer) {
			t.Fatalf("Do() error = %v, want transient", err)
		}

		if calls != 6 {
			t.Errorf("calls = %d, want 6", calls)
		}

		want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second, 160 * time.Second}
		if !slices.Equal(waits, want) {
			t.Errorf("waits = %v, want %v", waits, want)
		}
	})
}

func TestRetryStops(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{
			name:      "success first",
			errs:      []error{nil},
			wantCalls: 1,
		},
		{
			name:      "success after transient",
			errs:      []error{errs.ErrTransientTransfer, errs.ErrTransientTransfer, nil},
			wantCalls: 3,
		},
		{
			name:      "terminal is not retried",
			errs:      []error{errs.ErrTerminalTransfer},
			wantCalls: 1,
			wantErr:   errs.ErrTerminalTransfer,
		},
		{
			name:      "transient then terminal",
			errs:      []error{errs.ErrTransientTransfer, errs.ErrTerminalTransfer},
			wantCalls: 2,
			wantErr:   errs.ErrTerminalTransfer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			synctest.Test(t, func(t *testing.T) {
				r := Retry{MaxRetries: 5, Backoff: time.Second}
				calls := 0

				var retries []int

				err := r.Do(context.Background(), func(_ context.Context, attempt int) error {
					if attempt != calls {
						t.Errorf("attempt = %d, want %d", attempt, calls)
					}

					err := tt.errs[calls]
					calls++

					return err
				}, func(attempt int, _ time.Duration, _ error) {
					retries = append(retries, attempt)
				})

				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Do() error = %v, want %v", err, tt.wantErr)
				}

				if calls != tt.wantCalls {
					t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
				}

				if len(retries) != tt.wantCalls-1 {
					t.Errorf("onRetry calls = %v", retries)
				}
			})
		})
	}
}

func TestRetryContextCancel(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		r := Retry{MaxRetries: 5, Backoff: 10 * time.Second}
		calls := 0

		err := r.Do(ctx, func(context.Context, int) error {
			calls++

			return errs.ErrTransientTransfer
		}, nil)

		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Do() error = %v, want deadline exceeded", err)
		}

		if calls != 2 {
			t.Errorf("calls = %d, want 2", calls)
		}
	})
}
