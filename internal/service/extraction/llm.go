package extraction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
)

// LLMConfig 控制 LLM 抽取行为。
type LLMConfig struct {
	// MinConfidence 低于该置信度的候选答案视为无效。
	MinConfidence float64
	// FallbackOnError 模型调用失败或输出无法解析时是否回退到规则抽取。
	FallbackOnError bool
}

// DefaultLLMConfig 返回默认配置。
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{MinConfidence: 0.5, FallbackOnError: true}
}

type chainInvoker interface {
	Invoke(ctx context.Context, input map[string]any, opts ...compose.Option) (*schema.Message, error)
}

// LLMExtractor 使用 eino 链（提示模板 + 聊天模型）抽取答案，并用规则抽取器复核结构化类型。
type LLMExtractor struct {
	cfg      LLMConfig
	chain    chainInvoker
	rules    *RuleExtractor
	fallback Extractor
}

// NewLLMExtractor 基于已有聊天模型编译抽取链。
func NewLLMExtractor(ctx context.Context, chatModel model.BaseChatModel, cfg LLMConfig) (*LLMExtractor, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(extractionSystemPrompt),
		schema.UserMessage(extractionUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile extraction chain: %w", err)
	}

	return newLLMExtractor(runnable, cfg), nil
}

func newLLMExtractor(chain chainInvoker, cfg LLMConfig) *LLMExtractor {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultLLMConfig().MinConfidence
	}
	rules := NewRuleExtractor()
	return &LLMExtractor{cfg: cfg, chain: chain, rules: rules, fallback: rules}
}

// Extract 调用模型；上下文超时直接返回错误，其余失败按配置回退到规则抽取。
func (e *LLMExtractor) Extract(ctx context.Context, text string, q briefing.Question) (Result, error) {
	msg, err := e.chain.Invoke(ctx, promptVariables(text, q))
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return Result{}, err
		}
		return e.fallbackOr(ctx, text, q, fmt.Errorf("invoke extraction chain: %w", err))
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return e.fallbackOr(ctx, text, q, fmt.Errorf("empty model output"))
	}

	result, err := parseModelOutput(msg.Content)
	if err != nil {
		return e.fallbackOr(ctx, text, q, fmt.Errorf("parse model output: %w", err))
	}

	return e.review(ctx, result, q)
}

// review 对模型给出的有效答案做置信度与类型复核。
func (e *LLMExtractor) review(ctx context.Context, result Result, q briefing.Question) (Result, error) {
	if !result.Valid {
		return result, nil
	}
	if result.Confidence < e.cfg.MinConfidence {
		result.Valid = false
		result.Reason = fmt.Sprintf("low confidence %.2f", result.Confidence)
		return result, nil
	}
	if q.Type == briefing.TypeText || q.Type == "" {
		return result, nil
	}

	checked, err := e.rules.Extract(ctx, result.Value, q)
	if err != nil {
		return Result{}, err
	}
	if !checked.Valid {
		result.Valid = false
		result.Reason = "model value rejected: " + checked.Reason
		return result, nil
	}
	result.Value = checked.Value
	return result, nil
}

func (e *LLMExtractor) fallbackOr(ctx context.Context, text string, q briefing.Question, cause error) (Result, error) {
	if !e.cfg.FallbackOnError || e.fallback == nil {
		return Result{}, cause
	}
	log.Printf("[extraction] llm failed for question=%s, use rules: %v", q.ID, cause)
	return e.fallback.Extract(ctx, text, q)
}
