package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, WithInitialDelay(1), WithMaxDelay(1))

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("transient"))
		}
		return nil
	}, WithMaxAttempts(5), WithInitialDelay(1), WithMaxDelay(1))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	cause := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(cause)
	}, WithMaxAttempts(5), WithInitialDelay(1))

	assert.Equal(t, cause, err)
	assert.Equal(t, 1, calls)
}

func TestDoTreatsPlainErrorsAsPermanent(t *testing.T) {
	cause := errors.New("unclassified")
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return cause
	}, WithMaxAttempts(5), WithInitialDelay(1))

	assert.Equal(t, cause, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	cause := errors.New("still down")
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Retryable(cause)
	}, WithMaxAttempts(3), WithInitialDelay(1), WithMaxDelay(1))

	assert.Equal(t, cause, err)
	assert.Equal(t, 3, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func(ctx context.Context) error {
		t.Fatal("operation should not run with a canceled context")
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestWrappersPassNilThrough(t *testing.T) {
	assert.NoError(t, Retryable(nil))
	assert.NoError(t, Permanent(nil))
}
