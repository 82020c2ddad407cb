package hubspot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy 重试策略
type RetryPolicy struct {
	MaxAttempts            int           // 单次请求最多尝试次数
	DefaultRetryAfter      time.Duration // 限流且未给出 Retry-After 时的等待
	BaseBackoff            time.Duration // 其它临时错误: BaseBackoff * 2^(attempt-1)
	MaxBackoff             time.Duration
	MaxConsecutiveFailures int // 跨请求连续失败上限
}

// DefaultRetryPolicy 默认策略
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:            5,
		DefaultRetryAfter:      10 * time.Second,
		BaseBackoff:            time.Second,
		MaxBackoff:             time.Minute,
		MaxConsecutiveFailures: 8,
	}
}

// SleepFunc 可取消的等待
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep 默认等待实现
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retrier 按策略重试，连续失败计数在同一个 Retrier 的所有调用间共享，
// 任何一次调用成功即清零。
type Retrier struct {
	policy RetryPolicy
	sleep  SleepFunc
	logger *zap.Logger

	mu          sync.Mutex
	consecutive int
}

// NewRetrier 创建 Retrier
func NewRetrier(policy RetryPolicy, logger *zap.Logger) *Retrier {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{policy: policy, sleep: Sleep, logger: logger}
}

// WithSleep 替换等待函数
func (r *Retrier) WithSleep(fn SleepFunc) *Retrier {
	r.sleep = fn
	return r
}

// ConsecutiveFailures 当前连续失败数
func (r *Retrier) ConsecutiveFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consecutive
}

// Reset 清零连续失败计数
func (r *Retrier) Reset() {
	r.mu.Lock()
	r.consecutive = 0
	r.mu.Unlock()
}

func (r *Retrier) fail() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consecutive++
	return r.consecutive
}

// Delay 第 attempt 次失败后的等待时间
func (r *Retrier) Delay(attempt int, err error) time.Duration {
	if rl, ok := IsRateLimit(err); ok {
		if rl.RetryAfter > 0 {
			return rl.RetryAfter
		}
		return r.policy.DefaultRetryAfter
	}
	d := r.policy.BaseBackoff << (attempt - 1)
	if r.policy.MaxBackoff > 0 && (d > r.policy.MaxBackoff || d <= 0) {
		d = r.policy.MaxBackoff
	}
	return d
}

// Do 执行 fn，临时错误按策略重试
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			r.Reset()
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return err
		}

		failures := r.fail()
		if r.policy.MaxConsecutiveFailures > 0 && failures > r.policy.MaxConsecutiveFailures {
			return fmt.Errorf("%s: %w (%d): %w", op, ErrTooManyFailures, failures, err)
		}
		if attempt == r.policy.MaxAttempts {
			break
		}

		delay := r.Delay(attempt, err)
		r.logger.Warn("请求失败，等待重试",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.policy.MaxAttempts),
			zap.Int("consecutive_failures", failures),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := r.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: 等待重试时中断: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w (%d 次): %w", op, ErrRetriesExhausted, r.policy.MaxAttempts, lastErr)
}
