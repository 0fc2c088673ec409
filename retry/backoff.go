package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/datalayer/types"
)

// 默认退避参数
const (
	DefaultBaseDelay = 1 * time.Second
	DefaultMaxDelay  = 30 * time.Second
)

// Policy 定义一次重试循环的参数
type Policy struct {
	MaxRetries  int                                               // 最大重试次数（0 表示只尝试一次）
	BaseDelay   time.Duration                                     // 第一次重试前的等待
	MaxDelay    time.Duration                                     // 等待上限
	IsTransient func(err error) bool                              // 瞬时故障判定，nil 时所有错误均视为永久故障
	OnRetry     func(attempt int, err error, delay time.Duration) // 每次等待前回调
	Logger      *zap.Logger
}

// normalized 填充缺省值
func (p Policy) normalized() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	return p
}

// Delay 计算第 attempt 次重试前的等待时间（attempt 从 1 开始）
// delay = base * 2^(attempt-1)，上限为 MaxDelay
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		if delay >= p.MaxDelay/2 {
			return p.MaxDelay
		}
		delay *= 2
	}
	return min(delay, p.MaxDelay)
}

// Do 执行 fn，瞬时故障按退避重试；永久故障原样返回，
// 重试耗尽返回 RETRY_EXHAUSTED（Cause 为最后一次错误）。等待期间响应 ctx 取消。
func Do(ctx context.Context, p Policy, fn func() error) error {
	_, err := DoValue(ctx, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoValue 与 Do 相同，但返回 fn 的结果
func DoValue[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	p = p.normalized()

	var zero T
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		// 第一次执行不延迟
		if attempt > 0 {
			delay := p.Delay(attempt)
			p.Logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", p.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if p.OnRetry != nil {
				p.OnRetry(attempt, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}

		result, err := fn()
		if err == nil {
			if attempt > 0 {
				p.Logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		// 调用方取消时不再重试
		if ctx.Err() != nil {
			return zero, err
		}
		if p.IsTransient == nil || !p.IsTransient(err) {
			p.Logger.Debug("error is not retryable", zap.Error(err))
			return zero, err
		}
	}

	p.Logger.Warn("retries exhausted",
		zap.Int("attempts", p.MaxRetries+1),
		zap.Error(lastErr),
	)
	return zero, types.Errorf(types.ErrRetryExhausted, "failed after %d retries", p.MaxRetries).
		WithCause(lastErr)
}
