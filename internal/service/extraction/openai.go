package extraction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAIConfig 描述 OpenAI 兼容接口的抽取配置。
type OpenAIConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
	LLM            LLMConfig
}

type completionFunc func(ctx context.Context, system, user string) (string, error)

// OpenAIExtractor 通过 openai-go 直接调用 Chat Completions。
type OpenAIExtractor struct {
	cfg      OpenAIConfig
	complete completionFunc
	review   *LLMExtractor
}

// NewOpenAIExtractor 创建 OpenAI 抽取器。SDK 自身不重试，重试由 TimeoutExtractor 的策略负责。
func NewOpenAIExtractor(cfg OpenAIConfig) (*OpenAIExtractor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultOpenAIModel
	}

	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")),
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(0),
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}
	client := openaigo.NewClient(opts...)
	modelName := strings.TrimSpace(cfg.Model)

	complete := func(ctx context.Context, system, user string) (string, error) {
		resp, err := client.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
			Model: openaigo.ChatModel(modelName),
			Messages: []openaigo.ChatCompletionMessageParamUnion{
				openaigo.SystemMessage(system),
				openaigo.UserMessage(user),
			},
		})
		if err != nil {
			return "", err
		}
		if resp == nil || len(resp.Choices) == 0 {
			return "", fmt.Errorf("llm returned empty choices")
		}
		return resp.Choices[0].Message.Content, nil
	}

	return newOpenAIExtractor(cfg, complete), nil
}

func newOpenAIExtractor(cfg OpenAIConfig, complete completionFunc) *OpenAIExtractor {
	return &OpenAIExtractor{
		cfg:      cfg,
		complete: complete,
		review:   newLLMExtractor(nil, cfg.LLM),
	}
}

// Extract 与 LLMExtractor 共享提示词契约与复核逻辑。
func (e *OpenAIExtractor) Extract(ctx context.Context, text string, q briefing.Question) (Result, error) {
	user := renderUserPrompt(promptVariables(text, q))

	content, err := e.complete(ctx, extractionSystemPrompt, user)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return Result{}, err
		}
		return e.review.fallbackOr(ctx, text, q, fmt.Errorf("openai completion: %w", err))
	}

	result, err := parseModelOutput(content)
	if err != nil {
		log.Printf("[extraction] openai output unparsable for question=%s", q.ID)
		return e.review.fallbackOr(ctx, text, q, fmt.Errorf("parse model output: %w", err))
	}
	return e.review.review(ctx, result, q)
}
