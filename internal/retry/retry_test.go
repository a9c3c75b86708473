package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crmsync/internal/model"
)

func testPolicy(attempts int) Policy {
	p := DefaultPolicy().WithMaxAttempts(attempts)
	p.Sleep = NoSleep
	return p
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := testPolicy(3).Do(context.Background(), "find", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientFailures(t *testing.T) {
	calls := 0
	err := testPolicy(3).Do(context.Background(), "find", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return model.NewRemoteUnavailable("find", 503, nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsAfterBudget(t *testing.T) {
	calls := 0
	err := testPolicy(2).Do(context.Background(), "create", func(ctx context.Context) error {
		calls++
		return model.NewRemoteUnavailable("create", 502, nil)
	})
	require.Error(t, err)
	assert.True(t, model.IsRemoteUnavailable(err))
	assert.Equal(t, 2, calls)
}

func TestDo_NeverRetriesRejections(t *testing.T) {
	calls := 0
	err := testPolicy(5).Do(context.Background(), "patch", func(ctx context.Context) error {
		calls++
		return model.NewRemoteRejected("patch", 422, nil)
	})
	require.Error(t, err)
	assert.True(t, model.IsRemoteRejected(err))
	assert.Equal(t, 1, calls)
}

func TestDo_CustomPredicate(t *testing.T) {
	sentinel := errors.New("flaky")
	p := testPolicy(3)
	p.Retryable = func(err error) bool { return errors.Is(err, sentinel) }

	calls := 0
	_ = p.Do(context.Background(), "x", func(ctx context.Context) error {
		calls++
		return sentinel
	})
	assert.Equal(t, 3, calls)
}

func TestDo_CancelledContextStopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := testPolicy(5).Do(ctx, "find", func(ctx context.Context) error {
		calls++
		cancel()
		return model.NewRemoteUnavailable("find", 0, nil)
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDelay_ExponentialAndCapped(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	assert.Equal(t, 500*time.Millisecond, p.Delay(4))
	assert.Equal(t, 500*time.Millisecond, p.Delay(10))
}

func TestDelay_ZeroBase(t *testing.T) {
	assert.Equal(t, time.Duration(0), Policy{}.Delay(3))
}

func TestAttempts_Clamped(t *testing.T) {
	assert.Equal(t, 1, Policy{}.Attempts())
	assert.Equal(t, 1, DefaultPolicy().WithMaxAttempts(0).Attempts())
	assert.Equal(t, DefaultMaxAttempts, DefaultPolicy().Attempts())
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := SleepContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
