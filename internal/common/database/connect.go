package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WaitFor calls ping until it succeeds, retrying up to maxRetries times with
// exponential backoff. A cancelled ctx stops the wait.
func WaitFor(ctx context.Context, name string, maxRetries uint64, ping func(context.Context) error) error {
	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = 500 * time.Millisecond
	ebo.MaxInterval = 10 * time.Second
	ebo.Reset()

	attempt := 0
	op := func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := ping(pingCtx); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(ebo, maxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("%s unreachable after %d attempts: %w", name, attempt, err)
	}
	return nil
}
