package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsFirstTry(t *testing.T) {
	t.Parallel()

	calls := 0
	attempts, err := Do(context.Background(), Policy{MaxAttempts: 3}, func(context.Context, int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	var seen []int
	var retried []int
	p := Policy{
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		OnRetry:     func(attempt int, _ error) { retried = append(retried, attempt) },
	}
	attempts, err := Do(context.Background(), p, func(_ context.Context, attempt int) error {
		seen = append(seen, attempt)
		if attempt < 2 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []int{1, 2}, seen)
	assert.Equal(t, []int{1}, retried)
}

func TestDoExhaustsBudget(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	calls := 0
	attempts, err := Do(context.Background(), FromBudget(2, time.Millisecond), func(context.Context, int) error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDoZeroBudgetRunsOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := Do(context.Background(), Policy{}, func(context.Context, int) error {
		calls++
		return errors.New("nope")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsWhenContextCanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	attempts, err := Do(ctx, Policy{MaxAttempts: 5, Backoff: time.Hour}, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("fail")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
}
