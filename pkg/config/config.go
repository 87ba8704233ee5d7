package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port     string
		GRPCPort string
		Env      string
		Timeout  time.Duration
	}

	// Database configuration
	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	Qdrant struct {
		Enabled    bool
		Host       string
		Port       int
		APIKey     string
		UseTLS     bool
		Collection string
	}

	// LLM is the chat completion provider (any OpenAI-compatible endpoint)
	LLM struct {
		BaseURL     string
		APIKey      string
		Model       string
		Temperature float64
		MaxTokens   int
		Timeout     time.Duration
	}

	Embedding struct {
		BaseURL   string
		APIKey    string
		Model     string
		Dimension int
		CacheTTL  time.Duration
	}

	// Context window assembly
	Context struct {
		ReservationRatio      float64
		DefaultMaxInputTokens int
	}

	Retrieval struct {
		ChunkSize      int
		ChunkOverlap   int
		DefaultResults int
		Enabled        bool
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		MaxBodySize    int64
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	Cache struct {
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
	}

	Vault struct {
		Enabled  bool
		Address  string
		Token    string
		Mount    string
		Path     string
		CacheTTL time.Duration
	}

	Observability struct {
		TracingEnabled bool
		ServiceName    string
		MetricsPort    string
	}

	Features struct {
		EnableWebSockets    bool
		EnableGRPC          bool
		ValidateRequests    bool
		OpenAPISpecPath     string
		CircuitMaxFailures  int
		CircuitResetTimeout time.Duration
	}
}

var (
	instance *Config
	once     sync.Once
)

// New returns the process-wide Config, loading it on first use
func New() *Config {
	once.Do(func() {
		// a missing .env is fine
		_ = godotenv.Load()
		instance = Load()
	})
	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	return New()
}

// Load builds a fresh Config from the environment
func Load() *Config {
	cfg := &Config{}

	cfg.Server.Port = getEnvString("PORT", "8081")
	cfg.Server.GRPCPort = getEnvString("GRPC_PORT", "9090")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)

	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "context_engine")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

	cfg.Redis.Addr = getEnvString("REDIS_ADDR", "")
	cfg.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Qdrant.Enabled = getEnvBool("QDRANT_ENABLED", true)
	cfg.Qdrant.Host = getEnvString("QDRANT_HOST", "localhost")
	cfg.Qdrant.Port = getEnvInt("QDRANT_PORT", 6334)
	cfg.Qdrant.APIKey = getEnvString("QDRANT_API_KEY", "")
	cfg.Qdrant.UseTLS = getEnvBool("QDRANT_USE_TLS", false)
	cfg.Qdrant.Collection = getEnvString("QDRANT_COLLECTION", "documents")

	cfg.LLM.BaseURL = getEnvString("LLM_BASE_URL", "")
	cfg.LLM.APIKey = getEnvString("LLM_API_KEY", "")
	cfg.LLM.Model = getEnvString("LLM_MODEL", "gpt-4o-mini")
	cfg.LLM.Temperature = getEnvFloat("LLM_TEMPERATURE", 0.7)
	cfg.LLM.MaxTokens = getEnvInt("LLM_MAX_TOKENS", 1024)
	cfg.LLM.Timeout = getEnvDuration("LLM_TIMEOUT", 120*time.Second)

	cfg.Embedding.BaseURL = getEnvString("EMBEDDING_BASE_URL", "")
	cfg.Embedding.APIKey = getEnvString("EMBEDDING_API_KEY", "")
	cfg.Embedding.Model = getEnvString("EMBEDDING_MODEL", "text-embedding-3-small")
	cfg.Embedding.Dimension = getEnvInt("EMBEDDING_DIMENSION", 1536)
	cfg.Embedding.CacheTTL = getEnvDuration("EMBEDDING_CACHE_TTL", 24*time.Hour)

	cfg.Context.ReservationRatio = getEnvFloat("CONTEXT_RESERVATION_RATIO", 0.75)
	cfg.Context.DefaultMaxInputTokens = getEnvInt("CONTEXT_DEFAULT_MAX_INPUT_TOKENS", 8192)

	cfg.Retrieval.ChunkSize = getEnvInt("CHUNK_SIZE", 500)
	cfg.Retrieval.ChunkOverlap = getEnvInt("CHUNK_OVERLAP", 50)
	cfg.Retrieval.DefaultResults = getEnvInt("RAG_RESULTS", 3)
	cfg.Retrieval.Enabled = getEnvBool("RAG_ENABLED", true)

	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 10<<20)

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 1000)
	cfg.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)

	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "http://127.0.0.1:8200")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Mount = getEnvString("VAULT_MOUNT", "secret")
	cfg.Vault.Path = getEnvString("VAULT_PATH", "context-engine")
	cfg.Vault.CacheTTL = getEnvDuration("VAULT_CACHE_TTL", 5*time.Minute)

	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.Observability.ServiceName = getEnvString("SERVICE_NAME", "context-engine")
	cfg.Observability.MetricsPort = getEnvString("METRICS_PORT", "9100")

	cfg.Features.EnableWebSockets = getEnvBool("ENABLE_WEBSOCKETS", true)
	cfg.Features.EnableGRPC = getEnvBool("ENABLE_GRPC", true)
	cfg.Features.ValidateRequests = getEnvBool("VALIDATE_REQUESTS", false)
	cfg.Features.OpenAPISpecPath = getEnvString("OPENAPI_SPEC_PATH", "docs/openapi.yaml")
	cfg.Features.CircuitMaxFailures = getEnvInt("CIRCUIT_MAX_FAILURES", 5)
	cfg.Features.CircuitResetTimeout = getEnvDuration("CIRCUIT_RESET_TIMEOUT", 30*time.Second)

	return cfg
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
