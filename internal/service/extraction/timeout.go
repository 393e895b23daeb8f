package extraction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
	"github.com/zhouzirui/briefing/backend/pkg/retry"
)

// TimeoutExtractor 为下游抽取器加上单次调用超时与有界重试。
// 所有尝试都超时返回 ErrExtractionTimeout，其他失败返回 ErrExtractionFailed。
type TimeoutExtractor struct {
	next    Extractor
	policy  retry.Policy
	timeout time.Duration
}

// NewTimeoutExtractor 包装 next。timeout<=0 时不设置单次超时。
func NewTimeoutExtractor(next Extractor, policy retry.Policy, timeout time.Duration) *TimeoutExtractor {
	return &TimeoutExtractor{next: next, policy: policy, timeout: timeout}
}

func (e *TimeoutExtractor) Extract(ctx context.Context, text string, q briefing.Question) (Result, error) {
	var (
		result   Result
		timedOut bool
	)

	err := e.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		attemptCtx := ctx
		if e.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, e.timeout)
			defer cancel()
		}

		res, err := e.next.Extract(attemptCtx, text, q)
		if err != nil {
			timedOut = errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() == context.DeadlineExceeded
			log.Printf("[extraction] attempt %d for question=%s failed: %v", attempt+1, q.ID, err)
			return err
		}
		timedOut = false
		result = res
		return nil
	})
	if err == nil {
		return result, nil
	}

	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	if timedOut {
		return Result{}, fmt.Errorf("%w: %v", ErrExtractionTimeout, err)
	}
	return Result{}, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
}
