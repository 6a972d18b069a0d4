package provideradapter

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// CallWithRetry invokes call once, and on a retryable classified failure
// retries exactly once more with exponential backoff, never exceeding
// deadline (§4.8: "retryable errors may be retried once with exponential
// backoff capped by the deadline; other errors flow back unchanged").
func CallWithRetry(ctx context.Context, deadline time.Time, call func(context.Context) (*Response, error)) (*Response, error) {
	resp, err := call(ctx)
	if err == nil {
		return resp, nil
	}

	callErr, ok := err.(*CallError)
	if !ok || callErr.Class != ErrorRetryable {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond

	if !deadline.IsZero() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, err
		}
		b.MaxElapsedTime = remaining
	}

	wait := b.NextBackOff()
	if wait == backoff.Stop {
		return nil, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	return call(ctx)
}
