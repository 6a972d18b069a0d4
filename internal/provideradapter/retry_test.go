package provideradapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallWithRetry_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	resp, err := CallWithRetry(context.Background(), time.Now().Add(time.Second), func(ctx context.Context) (*Response, error) {
		calls++
		return &Response{Content: "ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 1, calls)
}

func TestCallWithRetry_RetriesOnceOnRetryableError(t *testing.T) {
	calls := 0
	resp, err := CallWithRetry(context.Background(), time.Now().Add(5*time.Second), func(ctx context.Context) (*Response, error) {
		calls++
		if calls == 1 {
			return nil, &CallError{Class: ErrorRetryable, Message: "transient"}
		}
		return &Response{Content: "recovered"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, 2, calls)
}

func TestCallWithRetry_NonRetryableNeverRetries(t *testing.T) {
	calls := 0
	_, err := CallWithRetry(context.Background(), time.Now().Add(5*time.Second), func(ctx context.Context) (*Response, error) {
		calls++
		return nil, &CallError{Class: ErrorNonRetryable, Message: "bad request"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCallWithRetry_PastDeadlineNeverRetries(t *testing.T) {
	calls := 0
	_, err := CallWithRetry(context.Background(), time.Now().Add(-time.Second), func(ctx context.Context) (*Response, error) {
		calls++
		return nil, &CallError{Class: ErrorRetryable, Message: "transient"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestCallError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	ce := &CallError{Class: ErrorRetryable, Message: "wrapped", Cause: cause}
	assert.ErrorIs(t, ce, cause)
}
