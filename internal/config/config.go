package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Relational store (users, categories)
	DatabaseDriver string // postgres | sqlite
	DatabaseURL    string

	// Graph store (purchases). Empty URI selects the in-memory store.
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// Cache, rate-limit counters and chat history. Empty URL selects in-memory.
	RedisURL string
	CacheTTL time.Duration

	// Vector store & LLM
	ChromaURL         string
	MistralAPIKey     string
	MistralAPIURL     string
	MistralModel      string
	MistralMaxTokens  int
	MistralEmbedURL   string
	MistralEmbedModel string

	// Messaging. Empty URL indexes purchases in-process.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	TipsFile     string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Observability
	OTLPEndpoint string

	// JWT / Auth
	JWTSecret     string
	JWTExpiresIn  time.Duration
	ResetTokenTTL time.Duration
	CookieSecure  bool
	FrontendURL   string

	// CORS
	CORSOrigins []string

	// Rate limiting
	RateLimitAuthMax int
	RateLimitAPIMax  int
	RateLimitWindow  time.Duration

	// SMTP. Empty host logs mail instead of sending it.
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 3000),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:    getEnv("DATABASE_URL", "file:budget.db?_pragma=foreign_keys(1)"),

		Neo4jURI:      getEnv("NEO4J_URI", ""),
		Neo4jUser:     getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", ""),

		RedisURL: getEnv("REDIS_URL", ""),
		CacheTTL: getEnvDuration("CACHE_TTL", 300*time.Second),

		ChromaURL:         getEnv("CHROMADB_URL", ""),
		MistralAPIKey:     getEnv("MISTRAL_API_KEY", ""),
		MistralAPIURL:     getEnv("MISTRAL_API_URL", "https://api.mistral.ai/v1/chat/completions"),
		MistralModel:      getEnv("MISTRAL_MODEL", "mistral-medium"),
		MistralMaxTokens:  getEnvInt("MISTRAL_MAX_TOKENS", 200),
		MistralEmbedURL:   getEnv("MISTRAL_EMBED_URL", "https://api.mistral.ai/v1/embeddings"),
		MistralEmbedModel: getEnv("MISTRAL_EMBED_MODEL", "mistral-embed"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "budget"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "purchase-index"),
		TipsFile:     getEnv("TIPS_FILE", "tips.json"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 2),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 200*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 8),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		JWTSecret:     getEnv("JWT_SECRET", "budget-default-dev-secret-change-me"),
		JWTExpiresIn:  getEnvDuration("JWT_EXPIRES_IN", 30*24*time.Hour),
		ResetTokenTTL: getEnvDuration("RESET_TOKEN_TTL", time.Hour),
		CookieSecure:  getEnvBool("COOKIE_SECURE", false),
		FrontendURL:   getEnv("FRONTEND_URL", "http://localhost:5173"),

		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),

		RateLimitAuthMax: getEnvInt("RATE_LIMIT_AUTH_MAX", 5),
		RateLimitAPIMax:  getEnvInt("RATE_LIMIT_API_MAX", 20),
		RateLimitWindow:  getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "no-reply@budget.local"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") and bare integers as seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if s, err := strconv.Atoi(v); err == nil {
			return time.Duration(s) * time.Second
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
