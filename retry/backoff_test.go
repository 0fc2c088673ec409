package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/datalayer/types"
)

var errTransient = errors.New("connection refused")

func testPolicy(t *testing.T, maxRetries int) Policy {
	return Policy{
		MaxRetries:  maxRetries,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
		IsTransient: func(err error) bool { return errors.Is(err, errTransient) },
		Logger:      zaptest.NewLogger(t),
	}
}

func TestDo_Success(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), testPolicy(t, 3), func() error {
		callCount++
		return nil // 第一次就成功
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
}

func TestDo_RetryAndSuccess(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), testPolicy(t, 3), func() error {
		callCount++
		if callCount < 3 {
			return errTransient // 前两次失败
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount, "应该调用三次")
}

func TestDo_MaxRetriesExceeded(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), testPolicy(t, 2), func() error {
		callCount++
		return errTransient
	})

	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrRetryExhausted))
	assert.ErrorIs(t, err, errTransient, "最后一次错误应作为 Cause 保留")
	assert.Equal(t, 3, callCount, "应该调用三次（初始+2次重试）")
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	permanent := errors.New("password authentication failed")

	callCount := 0
	err := Do(context.Background(), testPolicy(t, 3), func() error {
		callCount++
		return permanent
	})

	assert.Same(t, permanent, err)
	assert.False(t, types.IsErrorCode(err, types.ErrRetryExhausted), "永久错误不应包装为重试耗尽")
	assert.Equal(t, 1, callCount, "不应该重试")
}

func TestDo_NilPredicateNeverRetries(t *testing.T) {
	p := testPolicy(t, 3)
	p.IsTransient = nil

	callCount := 0
	err := Do(context.Background(), p, func() error {
		callCount++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, callCount)
}

func TestDo_ContextCanceled(t *testing.T) {
	p := testPolicy(t, 5)
	p.BaseDelay = 100 * time.Millisecond
	p.MaxDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	callCount := 0
	err := Do(ctx, p, func() error {
		callCount++
		return errTransient
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, callCount)
}

func TestDo_AttemptBudget(t *testing.T) {
	// k 次连续瞬时失败：k 次重试在最后一次成功，k-1 次重试则耗尽
	const k = 3
	failing := func(calls *int) func() error {
		return func() error {
			*calls++
			if *calls <= k {
				return errTransient
			}
			return nil
		}
	}

	calls := 0
	require.NoError(t, Do(context.Background(), testPolicy(t, k), failing(&calls)))
	assert.Equal(t, k+1, calls)

	calls = 0
	err := Do(context.Background(), testPolicy(t, k-1), failing(&calls))
	assert.True(t, types.IsErrorCode(err, types.ErrRetryExhausted))
	assert.Equal(t, k, calls)
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond}, // 初始延迟
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second}, // 达到最大延迟
		{64, 1 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestPolicy_Defaults(t *testing.T) {
	p := Policy{MaxRetries: -1, MaxDelay: time.Millisecond}.normalized()
	assert.Equal(t, 0, p.MaxRetries)
	assert.Equal(t, DefaultBaseDelay, p.BaseDelay)
	assert.Equal(t, DefaultBaseDelay, p.MaxDelay, "上限不得低于初始延迟")
	assert.NotNil(t, p.Logger)
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	var delays []time.Duration

	p := testPolicy(t, 2)
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		assert.ErrorIs(t, err, errTransient)
		attempts = append(attempts, attempt)
		delays = append(delays, delay)
	}

	callCount := 0
	_ = Do(context.Background(), p, func() error {
		callCount++
		if callCount < 3 {
			return errTransient
		}
		return nil
	})

	assert.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestDoValue(t *testing.T) {
	callCount := 0
	val, err := DoValue(context.Background(), testPolicy(t, 3), func() (string, error) {
		callCount++
		if callCount < 3 {
			return "", errTransient
		}
		return "done", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "done", val)
	assert.Equal(t, 3, callCount)

	n, err := DoValue(context.Background(), testPolicy(t, 0), func() (int, error) {
		return 7, errTransient
	})
	assert.Error(t, err)
	assert.Zero(t, n, "失败时返回零值")
}
