package config

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Session SessionConfig
	Memory  MemoryConfig
	Facts   FactsConfig
	Persona PersonaConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	if cfg.AI.MaxToolRounds < 1 {
		cfg.AI.MaxToolRounds = 1
	}
	return cfg, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	Addr            string
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey        string   `env:"ARK_API_KEY"`
	AccessKey     string   `env:"ARK_ACCESS_KEY"`
	SecretKey     string   `env:"ARK_SECRET_KEY"`
	Model         string   `env:"ARK_MODEL"`
	BaseURL       string   `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	Region        string   `env:"ARK_REGION" envDefault:"cn-beijing"`
	Temperature   *float64 `env:"ARK_TEMPERATURE"`
	TopP          *float64 `env:"ARK_TOP_P"`
	MaxTokens     *int     `env:"ARK_MAX_TOKENS"`
	MaxToolRounds int      `env:"AI_MAX_TOOL_ROUNDS" envDefault:"4"`
	HistoryLimit  int      `env:"AI_HISTORY_LIMIT" envDefault:"40"`
	Screening     bool     `env:"SPAM_SCREENING" envDefault:"true"`
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

// SessionConfig 描述会话编排相关配置。
type SessionConfig struct {
	PhoneRoomPrefix string        `env:"PHONE_ROOM_PREFIX" envDefault:"call-"`
	TeardownTimeout time.Duration `env:"SESSION_TEARDOWN_TIMEOUT" envDefault:"10s"`
}

// MemoryConfig 描述外部记忆/日志服务。
type MemoryConfig struct {
	QueryURL        string        `env:"MEMORY_QUERY_URL"`
	TranscriptURL   string        `env:"MEMORY_TRANSCRIPT_URL"`
	Timeout         time.Duration `env:"MEMORY_TIMEOUT" envDefault:"10s"`
	DeliveryTimeout time.Duration `env:"MEMORY_DELIVERY_TIMEOUT" envDefault:"30s"`
	Timezone        string        `env:"TRANSCRIPT_TIMEZONE" envDefault:"America/Los_Angeles"`
}

// Enabled 表示是否配置了任一端点。
func (c MemoryConfig) Enabled() bool {
	return c.QueryURL != "" || c.TranscriptURL != ""
}

// Location 返回转录时间戳使用的时区，无法解析时回退到 UTC。
func (c MemoryConfig) Location() *time.Location {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("[config] unknown TRANSCRIPT_TIMEZONE %q, using UTC: %v", name, err)
		return time.UTC
	}
	return loc
}

// FactsConfig 描述事实存储。
type FactsConfig struct {
	Path string `env:"FACTS_PATH"`
}

// Enabled 表示是否开启 record_fact 工具。
func (c FactsConfig) Enabled() bool {
	return strings.TrimSpace(c.Path) != ""
}

// PersonaConfig 描述人设中的称呼。
type PersonaConfig struct {
	PrincipalName string `env:"PRINCIPAL_NAME" envDefault:"James"`
	AssistantName string `env:"ASSISTANT_NAME" envDefault:"Sarah"`
}
