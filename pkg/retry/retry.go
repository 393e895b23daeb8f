package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Policy 描述有界重试策略：最大尝试次数与指数退避。
type Policy struct {
	MaxAttempts    int           // 总尝试次数（含首次）
	InitialBackoff time.Duration // 首次重试前的等待
	MaxBackoff     time.Duration // 退避上限
	Jitter         bool          // 是否附加 ±20% 抖动
}

// DefaultPolicy 返回端口适配器默认使用的策略。
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Jitter:         true,
	}
}

// NoRetry 只执行一次。
func NoRetry() Policy {
	return Policy{MaxAttempts: 1}
}

// permanentError 标记不可重试的错误。
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 包装一个错误，使 Do 立即停止重试。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 判断错误是否被标记为不可重试。
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do 按策略执行 fn，直到成功、遇到 Permanent 错误、上下文取消或次数耗尽。
// fn 收到从 0 开始的尝试序号。
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= attempts-1 {
			break
		}

		if !Sleep(ctx, p.Backoff(attempt)) {
			return ctx.Err()
		}
	}

	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}

// Backoff 返回第 attempt 次失败后的等待时间。
func (p Policy) Backoff(attempt int) time.Duration {
	d := ExpBackoff(attempt, p.InitialBackoff, p.MaxBackoff)
	if p.Jitter {
		d = WithJitter(d)
	}
	return d
}

// Sleep 等待 d，若上下文先结束则返回 false。
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func ExpBackoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		return 0
	}
	if attempt <= 0 {
		return initial
	}
	d := initial << attempt
	if d <= 0 {
		return max
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

func WithJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	// +/-20% jitter.
	j := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(d) * j)
}
