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
	"gopkg.in/yaml.v3"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Store      StoreConfig
	Generation GenerationConfig
	AI         AIConfig
	Escalation EscalationConfig
	Notify     NotifyConfig
	Session    SessionConfig
}

// Lookup resolves a configuration key, reporting whether it was set.
type Lookup func(key string) (string, bool)

// Load 从环境变量加载配置。HAVEN_CONFIG_FILE 指向的 YAML 文件提供默认值，环境变量优先。
func Load() (*Config, error) {
	lookup := Lookup(os.LookupEnv)

	if path := strings.TrimSpace(os.Getenv("HAVEN_CONFIG_FILE")); path != "" {
		fileValues, err := readFile(path)
		if err != nil {
			return nil, err
		}
		lookup = layered(lookup, fileValues)
	}

	return LoadFrom(lookup)
}

// LoadFrom builds a Config from an arbitrary key source.
func LoadFrom(lookup Lookup) (*Config, error) {
	src := source{lookup: lookup}

	server, err := src.serverConfig()
	if err != nil {
		return nil, err
	}

	store, err := src.storeConfig()
	if err != nil {
		return nil, err
	}

	generation, err := src.generationConfig()
	if err != nil {
		return nil, err
	}

	ai, err := src.aiConfig(generation)
	if err != nil {
		return nil, err
	}

	escalation, err := src.escalationConfig()
	if err != nil {
		return nil, err
	}

	notify, err := src.notifyConfig()
	if err != nil {
		return nil, err
	}

	session, err := src.sessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:     server,
		Log:        src.logConfig(),
		Store:      store,
		Generation: generation,
		AI:         ai,
		Escalation: escalation,
		Notify:     notify,
		Session:    session,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string
	Format string // json | console
}

// StoreConfig selects the chat history backend.
type StoreConfig struct {
	Driver        string // memory | sqlite | redis | postgres
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	DatabaseURL   string
}

// GenerationConfig 描述文本生成服务配置。
type GenerationConfig struct {
	Provider      string // cohere | openai | ark
	APIKey        string
	Endpoint      string
	Model         string
	OpenAIBaseURL string
	MaxTokens     int
	Timeout       time.Duration
}

// AIConfig 描述 Ark 大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// EscalationConfig holds the risk threshold and who gets contacted.
type EscalationConfig struct {
	Threshold        float64
	EmergencyContact string
	Cooldown         time.Duration
	NoticeTimeout    time.Duration
}

// SessionConfig bounds how long an unused session stays in memory.
type SessionConfig struct {
	IdleTTL       time.Duration // 0 关闭淘汰
	SweepInterval time.Duration
}

// NotifyConfig 描述紧急通知渠道。未配置的渠道不会启用。
type NotifyConfig struct {
	WebhookURL     string
	WebhookToken   string
	NATSURL        string
	NATSToken      string
	TelegramToken  string
	TelegramChatID int64
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

type source struct {
	lookup Lookup
}

// serverConfig 解析服务器监听地址。
func (s source) serverConfig() (ServerConfig, error) {
	port := s.getOrDefault("PORT", "8080")

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

func (s source) logConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(s.getOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(s.getOrDefault("LOG_FORMAT", "json")),
	}
}

func (s source) storeConfig() (StoreConfig, error) {
	driver := strings.ToLower(s.getOrDefault("STORE_DRIVER", "memory"))
	switch driver {
	case "memory", "sqlite", "redis", "postgres":
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value %q", driver)
	}

	redisDB, err := s.parseInt("REDIS_DB", 0)
	if err != nil {
		return StoreConfig{}, err
	}

	redisTTL, err := s.parseDuration("REDIS_TTL", 0)
	if err != nil {
		return StoreConfig{}, err
	}

	cfg := StoreConfig{
		Driver:        driver,
		SQLitePath:    s.getOrDefault("STORE_SQLITE_PATH", "data/haven.db"),
		RedisAddr:     s.getOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: s.get("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		RedisTTL:      redisTTL,
		DatabaseURL:   s.get("DATABASE_URL"),
	}

	if driver == "postgres" && cfg.DatabaseURL == "" {
		return StoreConfig{}, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
	}
	return cfg, nil
}

func (s source) generationConfig() (GenerationConfig, error) {
	provider := strings.ToLower(s.getOrDefault("GENERATION_PROVIDER", "cohere"))
	switch provider {
	case "cohere", "openai", "ark":
	default:
		return GenerationConfig{}, fmt.Errorf("invalid GENERATION_PROVIDER value %q", provider)
	}

	maxTokens, err := s.parseInt("GENERATION_MAX_TOKENS", 100)
	if err != nil {
		return GenerationConfig{}, err
	}
	if maxTokens < 1 {
		return GenerationConfig{}, fmt.Errorf("invalid GENERATION_MAX_TOKENS value %d: must be positive", maxTokens)
	}

	timeout, err := s.parseDuration("GENERATION_TIMEOUT", 8*time.Second)
	if err != nil {
		return GenerationConfig{}, err
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	defaultModel := "command"
	if provider == "openai" {
		defaultModel = "gpt-4o-mini"
	}

	return GenerationConfig{
		Provider:      provider,
		APIKey:        s.get("GENERATION_API_KEY"),
		Endpoint:      s.getOrDefault("GENERATION_ENDPOINT", "https://api.cohere.ai/v1/generate"),
		Model:         s.getOrDefault("GENERATION_MODEL", defaultModel),
		OpenAIBaseURL: s.get("OPENAI_BASE_URL"),
		MaxTokens:     maxTokens,
		Timeout:       timeout,
	}, nil
}

func (s source) aiConfig(generation GenerationConfig) (AIConfig, error) {
	temperature, err := s.parseOptionalFloat("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := s.parseOptionalFloat("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens := generation.MaxTokens

	return AIConfig{
		APIKey:      s.get("ARK_API_KEY"),
		AccessKey:   s.get("ARK_ACCESS_KEY"),
		SecretKey:   s.get("ARK_SECRET_KEY"),
		Model:       s.get("ARK_MODEL"),
		BaseURL:     s.getOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      s.getOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   &maxTokens,
	}, nil
}

func (s source) escalationConfig() (EscalationConfig, error) {
	threshold, err := s.parseFloat("ESCALATION_THRESHOLD", -2)
	if err != nil {
		return EscalationConfig{}, err
	}

	cooldown, err := s.parseDuration("ESCALATION_COOLDOWN", 0)
	if err != nil {
		return EscalationConfig{}, err
	}
	if cooldown < 0 {
		cooldown = 0
	}

	noticeTimeout, err := s.parseDuration("ESCALATION_NOTICE_TIMEOUT", 3*time.Second)
	if err != nil {
		return EscalationConfig{}, err
	}
	if noticeTimeout <= 0 {
		return EscalationConfig{}, fmt.Errorf("invalid ESCALATION_NOTICE_TIMEOUT value %s: must be positive", noticeTimeout)
	}

	return EscalationConfig{
		Threshold:        threshold,
		EmergencyContact: s.getOrDefault("EMERGENCY_CONTACT", "+1234567890"),
		Cooldown:         cooldown,
		NoticeTimeout:    noticeTimeout,
	}, nil
}

func (s source) sessionConfig() (SessionConfig, error) {
	idle, err := s.parseDuration("SESSION_IDLE_TTL", 30*time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}
	if idle < 0 {
		idle = 0
	}

	interval, err := s.parseDuration("SESSION_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}
	if interval <= 0 {
		return SessionConfig{}, fmt.Errorf("invalid SESSION_SWEEP_INTERVAL value %s: must be positive", interval)
	}

	return SessionConfig{IdleTTL: idle, SweepInterval: interval}, nil
}

func (s source) notifyConfig() (NotifyConfig, error) {
	var chatID int64
	if raw := s.get("TELEGRAM_CONTACT_CHAT_ID"); raw != "" {
		val, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return NotifyConfig{}, fmt.Errorf("invalid TELEGRAM_CONTACT_CHAT_ID value %q: %w", raw, err)
		}
		chatID = val
	}

	return NotifyConfig{
		WebhookURL:     s.get("NOTIFY_WEBHOOK_URL"),
		WebhookToken:   s.get("NOTIFY_WEBHOOK_TOKEN"),
		NATSURL:        s.get("NATS_URL"),
		NATSToken:      s.get("NATS_TOKEN"),
		TelegramToken:  s.get("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: chatID,
	}, nil
}

func (s source) get(key string) string {
	raw, ok := s.lookup(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(raw)
}

func (s source) getOrDefault(key, defaultValue string) string {
	if value := s.get(key); value != "" {
		return value
	}
	return defaultValue
}

func (s source) parseInt(key string, defaultValue int) (int, error) {
	value := s.get(key)
	if value == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return val, nil
}

func (s source) parseFloat(key string, defaultValue float64) (float64, error) {
	value := s.get(key)
	if value == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return val, nil
}

func (s source) parseOptionalFloat(key string) (*float64, error) {
	value := s.get(key)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func (s source) parseDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := s.get(key)
	if value == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return val, nil
}

// readFile 读取扁平的 YAML 配置文件，键名与环境变量一致。
func readFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	values := make(map[string]string)
	if err := yaml.Unmarshal(b, &values); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return values, nil
}

func layered(primary Lookup, fallback map[string]string) Lookup {
	return func(key string) (string, bool) {
		if val, ok := primary(key); ok && strings.TrimSpace(val) != "" {
			return val, true
		}
		val, ok := fallback[key]
		return val, ok
	}
}
