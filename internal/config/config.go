package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	OpenAI    OpenAIConfig
	WhatsApp  WhatsAppConfig
	Briefing  BriefingConfig
	Storage   StorageConfig
	Templates TemplatesConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	openai, err := loadOpenAIConfig()
	if err != nil {
		return nil, err
	}

	whatsapp, err := loadWhatsAppConfig()
	if err != nil {
		return nil, err
	}

	briefing, err := loadBriefingConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		AI:        ai,
		OpenAI:    openai,
		WhatsApp:  whatsapp,
		Briefing:  briefing,
		Storage:   loadStorageConfig(),
		Templates: TemplatesConfig{Dir: getEnvOrDefault("TEMPLATES_DIR", "")},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述 Ark 大模型相关配置，用于答案抽取。
type AIConfig struct {
	APIKey        string
	AccessKey     string
	SecretKey     string
	Model         string
	BaseURL       string
	Region        string
	Temperature   *float64
	TopP          *float64
	MaxTokens     *int
	MinConfidence float64
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	minConfidence := 0.5
	if override, err := parseOptionalFloatEnv("EXTRACTION_MIN_CONFIDENCE"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		if *override < 0 || *override > 1 {
			return AIConfig{}, fmt.Errorf("invalid EXTRACTION_MIN_CONFIDENCE value %v: must be within [0,1]", *override)
		}
		minConfidence = *override
	}

	// 兼容旧变量名 Model。
	modelName := getEnvOrDefault("ARK_MODEL", strings.TrimSpace(os.Getenv("Model")))

	return AIConfig{
		APIKey:        strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:     strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:     strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:         modelName,
		BaseURL:       getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:        getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:   temperature,
		TopP:          topP,
		MaxTokens:     maxTokens,
		MinConfidence: minConfidence,
	}, nil
}

// OpenAIConfig 描述 OpenAI 兼容接口，Ark 未配置时作为抽取后端。
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Enabled 表示是否提供了 API Key。
func (c OpenAIConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadOpenAIConfig() (OpenAIConfig, error) {
	return OpenAIConfig{
		APIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		BaseURL: getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		Model:   getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
	}, nil
}

// WhatsAppConfig 描述 WhatsApp Business Cloud API 配置。
type WhatsAppConfig struct {
	Token         string
	PhoneNumberID string
	BaseURL       string
	APIVersion    string
	VerifyToken   string
	AppSecret     string
	Timeout       time.Duration
}

// Enabled 表示是否可以真实发送消息；否则使用日志通道。
func (c WhatsAppConfig) Enabled() bool {
	return c.Token != "" && c.PhoneNumberID != ""
}

func loadWhatsAppConfig() (WhatsAppConfig, error) {
	timeout, err := parseDurationEnv("WHATSAPP_TIMEOUT", 10*time.Second)
	if err != nil {
		return WhatsAppConfig{}, err
	}

	return WhatsAppConfig{
		Token:         strings.TrimSpace(os.Getenv("WHATSAPP_TOKEN")),
		PhoneNumberID: strings.TrimSpace(os.Getenv("WHATSAPP_PHONE_NUMBER_ID")),
		BaseURL:       getEnvOrDefault("WHATSAPP_BASE_URL", "https://graph.facebook.com"),
		APIVersion:    getEnvOrDefault("WHATSAPP_API_VERSION", "v18.0"),
		VerifyToken:   strings.TrimSpace(os.Getenv("WHATSAPP_VERIFY_TOKEN")),
		AppSecret:     strings.TrimSpace(os.Getenv("WHATSAPP_APP_SECRET")),
		Timeout:       timeout,
	}, nil
}

// BriefingConfig 描述编排器、端口重试与后台任务参数。
type BriefingConfig struct {
	MaxRetries         int
	MaxCASAttempts     int
	ExtractionTimeout  time.Duration
	ExtractionAttempts int
	SendAttempts       int
	InactivityWindow   time.Duration
	SweepInterval      time.Duration
	DedupWindow        time.Duration
	RedeliverInterval  time.Duration
	// RulesFallback 为 true 时，模型失败后退回规则抽取。
	RulesFallback bool
}

func loadBriefingConfig() (BriefingConfig, error) {
	cfg := BriefingConfig{}
	var err error

	if cfg.MaxRetries, err = parseIntEnv("BRIEFING_MAX_RETRIES", 3, 1); err != nil {
		return BriefingConfig{}, err
	}
	if cfg.MaxCASAttempts, err = parseIntEnv("BRIEFING_MAX_CAS_ATTEMPTS", 5, 1); err != nil {
		return BriefingConfig{}, err
	}
	if cfg.ExtractionAttempts, err = parseIntEnv("EXTRACTION_ATTEMPTS", 2, 1); err != nil {
		return BriefingConfig{}, err
	}
	if cfg.SendAttempts, err = parseIntEnv("SEND_ATTEMPTS", 3, 1); err != nil {
		return BriefingConfig{}, err
	}
	if cfg.ExtractionTimeout, err = parseDurationEnv("EXTRACTION_TIMEOUT", 15*time.Second); err != nil {
		return BriefingConfig{}, err
	}
	if cfg.InactivityWindow, err = parseDurationEnv("BRIEFING_INACTIVITY_WINDOW", 72*time.Hour); err != nil {
		return BriefingConfig{}, err
	}
	if cfg.SweepInterval, err = parseDurationEnv("BRIEFING_SWEEP_INTERVAL", time.Hour); err != nil {
		return BriefingConfig{}, err
	}
	if cfg.DedupWindow, err = parseDurationEnv("DEDUP_WINDOW", 24*time.Hour); err != nil {
		return BriefingConfig{}, err
	}
	if cfg.RedeliverInterval, err = parseDurationEnv("REDELIVER_INTERVAL", time.Minute); err != nil {
		return BriefingConfig{}, err
	}
	if cfg.RulesFallback, err = parseBoolEnv("EXTRACTION_RULES_FALLBACK", true); err != nil {
		return BriefingConfig{}, err
	}
	return cfg, nil
}

// StorageConfig 选择持久化后端。DBPath 为空时使用内存存储。
type StorageConfig struct {
	DBPath string
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{DBPath: getEnvOrDefault("DB_PATH", "")}
}

// TemplatesConfig 描述额外的模板目录（YAML）。
type TemplatesConfig struct {
	Dir string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseIntEnv 读取整数，小于 min 时报错。
func parseIntEnv(key string, defaultValue, min int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	if *val < min {
		return 0, fmt.Errorf("invalid %s value %d: must be >= %d", key, *val, min)
	}
	return *val, nil
}

// parseDurationEnv 支持 "90s"、"72h" 等 Go 时长格式。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}
