package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/user/marquee/internal/errs"
)

// LLMProvider 语言模型后端类型
type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderOllama LLMProvider = "ollama"
)

// Config 应用配置
type Config struct {
	Env         string
	AppSecret   string
	DatabaseURL string
	Port        string
	SiteName    string
	SiteUrl     string

	AdminEmail    string
	AdminPassword string
	JWTExpiry     time.Duration

	// 语言模型后端，启动时一次性确定
	Provider    LLMProvider
	OpenAIKey   string
	OpenAIModel string
	OpenAIBase  string
	OllamaBase  string
	OllamaModel string

	// 向量服务（目前只走 OpenAI embeddings API）
	EmbedModel     string
	EmbedDimension int
	EmbedBatchSize int

	ProviderTimeout time.Duration
}

// Load 加载配置。LLM_PROVIDER 取值非法时直接报错，不做静默回退。
func Load() (*Config, error) {
	expiryHours, _ := strconv.Atoi(getEnv("JWT_EXPIRY_HOURS", "72"))

	dbUser := getEnv("DB_USER", "postgres")
	dbPass := getEnv("DB_PASSWORD", "postgres")
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_NAME", "marquee")
	dbSSL := getEnv("DB_SSLMODE", "disable")

	dbURL := getEnv("DATABASE_URL", fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbUser, dbPass, dbHost, dbPort, dbName, dbSSL))

	appSecret := getEnv("APP_SECRET", getEnv("JWT_SECRET", "your-secret-key-change-in-production"))

	if getEnv("APP_ENV", "development") == "production" && appSecret == "your-secret-key-change-in-production" {
		fmt.Println("【严重警告】生产环境正在使用默认密钥！请立即设置 APP_SECRET 环境变量。")
	}

	provider := LLMProvider(getEnv("LLM_PROVIDER", string(ProviderOpenAI)))
	if provider != ProviderOpenAI && provider != ProviderOllama {
		return nil, fmt.Errorf("%w: 不支持的 LLM_PROVIDER: %q（可选 openai / ollama）", errs.ErrConfiguration, provider)
	}

	embedDim, _ := strconv.Atoi(getEnv("EMBED_DIMENSION", "1536"))
	embedBatch, _ := strconv.Atoi(getEnv("EMBED_BATCH_SIZE", "16"))
	timeoutSec, _ := strconv.Atoi(getEnv("PROVIDER_TIMEOUT_SECONDS", "30"))

	return &Config{
		Env:         getEnv("APP_ENV", "development"),
		AppSecret:   appSecret,
		DatabaseURL: dbURL,
		Port:        getEnv("PORT", "5005"),
		SiteName:    getEnv("SITE_NAME", "Marquee"),
		SiteUrl:     getEnv("SITE_URL", "http://localhost:5005"),

		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		JWTExpiry:     time.Duration(expiryHours) * time.Hour,

		Provider:    provider,
		OpenAIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIModel: getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBase:  getEnv("OPENAI_API_BASE", "https://api.openai.com/v1"),
		OllamaBase:  getEnv("OLLAMA_API_BASE", "http://localhost:11434/api"),
		OllamaModel: getEnv("OLLAMA_MODEL", "llama3"),

		EmbedModel:     getEnv("EMBED_MODEL", "text-embedding-3-small"),
		EmbedDimension: embedDim,
		EmbedBatchSize: embedBatch,

		ProviderTimeout: time.Duration(timeoutSec) * time.Second,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
