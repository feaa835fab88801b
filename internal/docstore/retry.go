package docstore

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

const (
	retryBase = 5 * time.Millisecond
	retryMax  = 250 * time.Millisecond
)

// RetryConflicts calls attempt until it returns something other than
// ErrConflict, sleeping with jittered exponential backoff in between.
func RetryConflicts(ctx context.Context, attempt func() error) error {
	delay := retryBase
	for {
		err := attempt()
		if !errors.Is(err, ErrConflict) {
			return err
		}
		jitter := time.Duration(rand.Int64N(int64(delay)))
		t := time.NewTimer(delay/2 + jitter)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if delay < retryMax {
			delay *= 2
		}
	}
}
