package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	AI       AIConfig
	Auth     AuthConfig
	Security SecurityConfig
	Log      LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	database, err := loadDatabaseConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	security, err := loadSecurityConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Database: database,
		AI:       ai,
		Auth:     loadAuthConfig(),
		Security: security,
		Log:      loadLogConfig(),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr            string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	shutdown, err := parseDurationEnv("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}

	cfg := ServerConfig{
		AllowedOrigins:  parseListEnv("CORS_ALLOWED_ORIGINS", []string{"*"}),
		ShutdownTimeout: shutdown,
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		cfg.Addr = port
		return cfg, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	cfg.Addr = ":" + port
	return cfg, nil
}

// DatabaseConfig 描述会话存储。
type DatabaseConfig struct {
	Driver string
	DSN    string
}

func loadDatabaseConfig() (DatabaseConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("DB_DRIVER", "sqlite"))
	switch driver {
	case "sqlite", "postgres":
	default:
		return DatabaseConfig{}, fmt.Errorf("invalid DB_DRIVER value %q: want sqlite or postgres", driver)
	}

	dsn := strings.TrimSpace(os.Getenv("DB_DSN"))
	if dsn == "" {
		if driver == "postgres" {
			return DatabaseConfig{}, fmt.Errorf("DB_DSN is required when DB_DRIVER=postgres")
		}
		dsn = "parley.db"
	}

	return DatabaseConfig{Driver: driver, DSN: dsn}, nil
}

// AIConfig 描述模型提供方的连接参数。用户级别的 API Key 不在这里，
// 它们由 settings 服务按请求解析。
type AIConfig struct {
	OllamaBaseURL    string
	OpenAIBaseURL    string
	GoogleBaseURL    string
	AnthropicBaseURL string
	ArkBaseURL       string
	ArkRegion        string
	Temperature      *float64
	MaxTokens        int
	RequestTimeout   time.Duration
	SystemPrompt     string
	TitleMaxLength   int
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens := 4096
	if override, err := parseOptionalIntEnv("AI_MAX_TOKENS"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return AIConfig{}, fmt.Errorf("invalid AI_MAX_TOKENS value %d: must be positive", *override)
		}
		maxTokens = *override
	}

	titleMax := 40
	if override, err := parseOptionalIntEnv("TITLE_MAX_LENGTH"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		if *override < 1 {
			titleMax = 1
		} else {
			titleMax = *override
		}
	}

	timeout, err := parseDurationEnv("AI_REQUEST_TIMEOUT", 0)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		OllamaBaseURL:    getEnvOrDefault("OLLAMA_BASE_URL", "http://127.0.0.1:11434"),
		OpenAIBaseURL:    getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		GoogleBaseURL:    getEnvOrDefault("GOOGLE_OPENAI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		AnthropicBaseURL: getEnvOrDefault("ANTHROPIC_BASE_URL", ""),
		ArkBaseURL:       getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:        getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:      temperature,
		MaxTokens:        maxTokens,
		RequestTimeout:   timeout,
		SystemPrompt:     strings.TrimSpace(os.Getenv("AI_SYSTEM_PROMPT")),
		TitleMaxLength:   titleMax,
	}, nil
}

// AuthConfig 描述外部身份提供方的令牌校验方式。
type AuthConfig struct {
	JWTSecret string
	DevHeader string
}

// Enabled 表示是否配置了令牌校验密钥。
func (c AuthConfig) Enabled() bool {
	return c.JWTSecret != ""
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret: strings.TrimSpace(os.Getenv("AUTH_JWT_SECRET")),
		DevHeader: getEnvOrDefault("AUTH_DEV_HEADER", "X-User-ID"),
	}
}

// SecurityConfig 描述凭证加密与限流。
type SecurityConfig struct {
	EncryptionKey  string
	RateLimitRPS   float64
	RateLimitBurst int
}

func loadSecurityConfig() (SecurityConfig, error) {
	rps := 2.0
	if override, err := parseOptionalFloatEnv("RATE_LIMIT_RPS"); err != nil {
		return SecurityConfig{}, err
	} else if override != nil {
		rps = *override
	}

	burst := 5
	if override, err := parseOptionalIntEnv("RATE_LIMIT_BURST"); err != nil {
		return SecurityConfig{}, err
	} else if override != nil {
		burst = *override
	}

	return SecurityConfig{
		EncryptionKey:  os.Getenv("SETTINGS_ENCRYPTION_KEY"),
		RateLimitRPS:   rps,
		RateLimitBurst: burst,
	}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "text")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseListEnv(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
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
