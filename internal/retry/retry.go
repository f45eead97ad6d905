package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrExhausted 表示瞬时错误在达到最大尝试次数后仍未恢复。
var ErrExhausted = errors.New("retry: 重试次数耗尽")

// Classifier 对错误归类：返回规整后的错误以及是否值得重试。
type Classifier func(err error) (normalized error, retryable bool)

// Policy 描述有界指数退避重试策略。零值字段按 normalized 的默认值处理。
type Policy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy 返回默认重试策略。
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		MinDelay:    500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.MinDelay <= 0 {
		p.MinDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.MinDelay > p.MaxDelay {
		p.MinDelay = p.MaxDelay
	}
	return p
}

// Delay 返回第 attempt 次失败后的等待时长，attempt 从1开始计数。
// 序列为 MinDelay, MinDelay*2, MinDelay*4, ... 封顶于 MaxDelay。
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}

	delay := p.MinDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay || delay <= 0 {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Do 以该策略执行 op。classify 判定的瞬时错误按指数退避重试，
// 其余错误立即返回；耗尽尝试次数后返回包裹 ErrExhausted 的错误。
func (p Policy) Do(ctx context.Context, logger *zap.Logger, operation string, classify Classifier, op func() error) error {
	p = p.normalized()
	if logger == nil {
		logger = zap.NewNop()
	}
	if classify == nil {
		classify = func(err error) (error, bool) { return err, false }
	}

	attempt := 0
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := op()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				logger.Info("调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retryable := classify(err)

		if !retryable {
			logger.Error("调用失败且不可重试",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if attempt >= p.MaxAttempts {
			logger.Error("调用失败且重试耗尽",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return fmt.Errorf("%w: %w", ErrExhausted, normalizedErr)
		}

		wait := p.Delay(attempt)
		logger.Warn("调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
