package order_manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pump-trader-go/internal/clock"
)

// ErrExhausted 有限重试次数用尽。
var ErrExhausted = errors.New("retry attempts exhausted")

// DefaultBackoff 每次失败后的固定间隔。
const DefaultBackoff = 200 * time.Millisecond

// Policy 重试策略；MaxAttempts <= 0 表示无限重试，只有 ctx 结束才会停止。
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Bounded 最多尝试 n 次。
func Bounded(n int) Policy {
	return Policy{MaxAttempts: n, Backoff: DefaultBackoff}
}

// Unbounded 一直重试直到成功或 ctx 结束。
func Unbounded() Policy {
	return Policy{Backoff: DefaultBackoff}
}

// Unlimited 是否无限重试。
func (p Policy) Unlimited() bool {
	return p.MaxAttempts <= 0
}

// Retry 按策略重复执行 fn，attempt 从 1 开始。
// 有限策略耗尽时返回包装了最后一次错误的 ErrExhausted；ctx 结束时返回 ctx.Err()。
func Retry(ctx context.Context, clk clock.Clock, p Policy, op string, fn func(attempt int) error) error {
	var last error
	for attempt := 1; p.Unlimited() || attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(attempt)
		if last == nil {
			return nil
		}
		if !p.Unlimited() && attempt == p.MaxAttempts {
			break
		}
		if err := clk.Sleep(ctx, p.Backoff); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s: %w after %d attempts: %v", op, ErrExhausted, p.MaxAttempts, last)
}
