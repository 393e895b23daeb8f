package extraction

import (
	"context"
	"errors"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
)

var (
	// ErrExtractionTimeout 表示抽取调用超时；编排器将其视为 valid=false 并重新提问。
	ErrExtractionTimeout = errors.New("extraction timed out")
	// ErrExtractionFailed 表示抽取在重试后仍然失败。
	ErrExtractionFailed = errors.New("extraction failed")
)

// Result 是一次抽取的结构化候选答案。
type Result struct {
	Valid      bool    `json:"valid"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
	// Insight 记录用户主动提供、但不属于当前问题的信息（旁路通道，不影响问题进度）。
	Insight string `json:"insight,omitempty"`
}

// Extractor 把自由文本映射为针对某个问题的结构化答案。
// 实现不保证确定性：同样的文本重试可能得到不同的值，调用方不得缓存结果。
type Extractor interface {
	Extract(ctx context.Context, text string, q briefing.Question) (Result, error)
}

// Func 将普通函数适配为 Extractor。
type Func func(ctx context.Context, text string, q briefing.Question) (Result, error)

// Extract 调用 f。
func (f Func) Extract(ctx context.Context, text string, q briefing.Question) (Result, error) {
	return f(ctx, text, q)
}

// Invalid 构造一个无效结果。
func Invalid(reason string) Result {
	return Result{Valid: false, Reason: reason}
}
