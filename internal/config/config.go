// Package config provides configuration management for recall.
//
// Configuration is built once at startup in three layers: built-in defaults,
// then an optional YAML file named by RECALL_CONFIG, then environment
// variables with the RECALL_ prefix. The resulting *Config is treated as
// immutable and shared by reference.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Supported backend and provider names.
const (
	VectorBackendSQLite   = "sqlite"
	VectorBackendPostgres = "postgres"
	VectorBackendQdrant   = "qdrant"
	VectorBackendMemory   = "memory"

	QueueBackendSQLite = "sqlite"
	QueueBackendRedis  = "redis"

	ProviderOpenAI  = "openai"
	ProviderOllama  = "ollama"
	ProviderHashing = "hashing"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration settings for recall.
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Queue       QueueConfig       `yaml:"queue"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// StorageConfig locates the local SQLite database.
type StorageConfig struct {
	DataPath   string `yaml:"data_path"`   // Data directory (default: ./data)
	SQLitePath string `yaml:"sqlite_path"` // Database file (default: <data_path>/recall.db)
}

// VectorStoreConfig selects and configures the vector database.
type VectorStoreConfig struct {
	Backend      string `yaml:"backend"` // sqlite, postgres, qdrant, memory (default: sqlite)
	PostgresDSN  string `yaml:"postgres_dsn"`
	QdrantURL    string `yaml:"qdrant_url"` // default: http://localhost:6333
	QdrantAPIKey string `yaml:"qdrant_api_key"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider      string        `yaml:"provider"`  // openai, ollama, hashing (default: openai)
	Model         string        `yaml:"model"`     // default: text-embedding-3-small
	Dimension     int           `yaml:"dimension"` // default: 1536
	OpenAIAPIKey  string        `yaml:"openai_api_key"`
	OpenAIBaseURL string        `yaml:"openai_base_url"`
	OllamaURL     string        `yaml:"ollama_url"` // default: http://localhost:11434
	Timeout       time.Duration `yaml:"timeout"`    // default: 30s
	RateLimit     float64       `yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst     int           `yaml:"rate_burst"` // default: 1
	CacheSize     int           `yaml:"cache_size"` // cached vectors, 0 disables
}

// QueueConfig configures the durable ingestion queue and its workers.
type QueueConfig struct {
	Backend           string        `yaml:"backend"` // sqlite, redis (default: sqlite)
	Name              string        `yaml:"name"`    // default: memory-processing
	RedisAddr         string        `yaml:"redis_addr"`
	RedisPassword     string        `yaml:"redis_password"`
	RedisDB           int           `yaml:"redis_db"`
	Concurrency       int           `yaml:"concurrency"`        // default: 5
	MaxAttempts       int           `yaml:"max_attempts"`       // default: 3
	InitialBackoff    time.Duration `yaml:"initial_backoff"`    // default: 2s
	BackoffMultiplier float64       `yaml:"backoff_multiplier"` // default: 2
	KeepCompleted     int           `yaml:"keep_completed"`     // default: 100
	KeepFailed        int           `yaml:"keep_failed"`        // default: 50
	PollInterval      time.Duration `yaml:"poll_interval"`      // default: 1s
	StepTimeout       time.Duration `yaml:"step_timeout"`       // default: 30s
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`   // default: 30s
}

// RetrievalConfig configures the read side.
type RetrievalConfig struct {
	SearchLimit int `yaml:"search_limit"` // default k for semantic search (default: 100)
}

// MetricsConfig toggles OpenTelemetry instrumentation.
type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled"`       // default: false
	OTLPEndpoint string `yaml:"otlp_endpoint"` // default: localhost:4317
	Insecure     bool   `yaml:"insecure"`      // plaintext gRPC to the collector
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DataPath: "./data",
		},
		VectorStore: VectorStoreConfig{
			Backend:   VectorBackendSQLite,
			QdrantURL: "http://localhost:6333",
		},
		Embedding: EmbeddingConfig{
			Provider:  ProviderOpenAI,
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			OllamaURL: "http://localhost:11434",
			Timeout:   30 * time.Second,
			RateBurst: 1,
		},
		Queue: QueueConfig{
			Backend:           QueueBackendSQLite,
			Name:              "memory-processing",
			RedisAddr:         "localhost:6379",
			Concurrency:       5,
			MaxAttempts:       3,
			InitialBackoff:    2 * time.Second,
			BackoffMultiplier: 2,
			KeepCompleted:     100,
			KeepFailed:        50,
			PollInterval:      time.Second,
			StepTimeout:       30 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Retrieval: RetrievalConfig{
			SearchLimit: 100,
		},
		Metrics: MetricsConfig{
			OTLPEndpoint: "localhost:4317",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by RECALL_CONFIG and RECALL_* environment variables, then validates it.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("RECALL_CONFIG"))
}

// LoadFile is Load with an explicit YAML path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays a YAML file onto cfg. Keys absent from the file keep
// their current values.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays RECALL_* environment variables. Each helper falls back
// to the value already in place.
func (c *Config) applyEnv() {
	c.Storage.DataPath = getEnv("RECALL_DATA_PATH", c.Storage.DataPath)
	c.Storage.SQLitePath = getEnv("RECALL_SQLITE_PATH", c.Storage.SQLitePath)

	c.VectorStore.Backend = getEnv("RECALL_VECTOR_BACKEND", c.VectorStore.Backend)
	c.VectorStore.PostgresDSN = getEnv("RECALL_POSTGRES_DSN", c.VectorStore.PostgresDSN)
	c.VectorStore.QdrantURL = getEnv("RECALL_QDRANT_URL", c.VectorStore.QdrantURL)
	c.VectorStore.QdrantAPIKey = getEnv("RECALL_QDRANT_API_KEY", c.VectorStore.QdrantAPIKey)

	c.Embedding.Provider = getEnv("RECALL_EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.Model = getEnv("RECALL_EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Dimension = getEnvInt("RECALL_EMBEDDING_DIMENSION", c.Embedding.Dimension)
	c.Embedding.OpenAIAPIKey = getEnv("RECALL_OPENAI_API_KEY", c.Embedding.OpenAIAPIKey)
	c.Embedding.OpenAIBaseURL = getEnv("RECALL_OPENAI_BASE_URL", c.Embedding.OpenAIBaseURL)
	c.Embedding.OllamaURL = getEnv("RECALL_OLLAMA_URL", c.Embedding.OllamaURL)
	c.Embedding.Timeout = getEnvDuration("RECALL_EMBEDDING_TIMEOUT", c.Embedding.Timeout)
	c.Embedding.RateLimit = getEnvFloat("RECALL_EMBEDDING_RATE_LIMIT", c.Embedding.RateLimit)
	c.Embedding.RateBurst = getEnvInt("RECALL_EMBEDDING_RATE_BURST", c.Embedding.RateBurst)
	c.Embedding.CacheSize = getEnvInt("RECALL_EMBEDDING_CACHE_SIZE", c.Embedding.CacheSize)

	c.Queue.Backend = getEnv("RECALL_QUEUE_BACKEND", c.Queue.Backend)
	c.Queue.Name = getEnv("RECALL_QUEUE_NAME", c.Queue.Name)
	c.Queue.RedisAddr = getEnv("RECALL_REDIS_ADDR", c.Queue.RedisAddr)
	c.Queue.RedisPassword = getEnv("RECALL_REDIS_PASSWORD", c.Queue.RedisPassword)
	c.Queue.RedisDB = getEnvInt("RECALL_REDIS_DB", c.Queue.RedisDB)
	c.Queue.Concurrency = getEnvInt("RECALL_QUEUE_CONCURRENCY", c.Queue.Concurrency)
	c.Queue.MaxAttempts = getEnvInt("RECALL_QUEUE_MAX_ATTEMPTS", c.Queue.MaxAttempts)
	c.Queue.InitialBackoff = getEnvDuration("RECALL_QUEUE_INITIAL_BACKOFF", c.Queue.InitialBackoff)
	c.Queue.BackoffMultiplier = getEnvFloat("RECALL_QUEUE_BACKOFF_MULTIPLIER", c.Queue.BackoffMultiplier)
	c.Queue.KeepCompleted = getEnvInt("RECALL_QUEUE_KEEP_COMPLETED", c.Queue.KeepCompleted)
	c.Queue.KeepFailed = getEnvInt("RECALL_QUEUE_KEEP_FAILED", c.Queue.KeepFailed)
	c.Queue.PollInterval = getEnvDuration("RECALL_QUEUE_POLL_INTERVAL", c.Queue.PollInterval)
	c.Queue.StepTimeout = getEnvDuration("RECALL_STEP_TIMEOUT", c.Queue.StepTimeout)
	c.Queue.ShutdownTimeout = getEnvDuration("RECALL_SHUTDOWN_TIMEOUT", c.Queue.ShutdownTimeout)

	c.Retrieval.SearchLimit = getEnvInt("RECALL_SEARCH_LIMIT", c.Retrieval.SearchLimit)

	c.Metrics.Enabled = getEnvBool("RECALL_METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.OTLPEndpoint = getEnv("RECALL_OTLP_ENDPOINT", c.Metrics.OTLPEndpoint)
	c.Metrics.Insecure = getEnvBool("RECALL_OTLP_INSECURE", c.Metrics.Insecure)
}

// applyDerived fills values computed from other settings.
func (c *Config) applyDerived() {
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.Storage.DataPath, "recall.db")
	}
}

// Validate checks backends and numeric bounds, reporting every problem.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch c.VectorStore.Backend {
	case VectorBackendSQLite, VectorBackendMemory:
	case VectorBackendPostgres:
		if c.VectorStore.PostgresDSN == "" {
			add("RECALL_POSTGRES_DSN is required for the postgres vector backend")
		}
	case VectorBackendQdrant:
		if c.VectorStore.QdrantURL == "" {
			add("RECALL_QDRANT_URL is required for the qdrant vector backend")
		}
	default:
		add("unknown vector backend %q", c.VectorStore.Backend)
	}

	switch c.Embedding.Provider {
	case ProviderOpenAI:
		if c.Embedding.OpenAIAPIKey == "" {
			add("RECALL_OPENAI_API_KEY is required for the openai embedding provider")
		}
	case ProviderOllama, ProviderHashing:
	default:
		add("unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		add("embedding dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.RateLimit < 0 {
		add("embedding rate limit must not be negative")
	}
	if c.Embedding.CacheSize < 0 {
		add("embedding cache size must not be negative")
	}

	switch c.Queue.Backend {
	case QueueBackendSQLite:
	case QueueBackendRedis:
		if c.Queue.RedisAddr == "" {
			add("RECALL_REDIS_ADDR is required for the redis queue backend")
		}
	default:
		add("unknown queue backend %q", c.Queue.Backend)
	}
	if strings.TrimSpace(c.Queue.Name) == "" {
		add("queue name is required")
	}
	if c.Queue.Concurrency < 1 {
		add("queue concurrency must be at least 1, got %d", c.Queue.Concurrency)
	}
	if c.Queue.MaxAttempts < 1 {
		add("queue max attempts must be at least 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.InitialBackoff < 0 {
		add("queue initial backoff must not be negative")
	}
	if c.Queue.BackoffMultiplier < 1 {
		add("queue backoff multiplier must be at least 1, got %v", c.Queue.BackoffMultiplier)
	}
	if c.Queue.KeepCompleted < 0 || c.Queue.KeepFailed < 0 {
		add("queue retention counts must not be negative")
	}
	if c.Queue.PollInterval <= 0 || c.Queue.StepTimeout <= 0 || c.Queue.ShutdownTimeout <= 0 {
		add("queue poll interval, step timeout and shutdown timeout must be positive")
	}

	if c.Retrieval.SearchLimit < 1 {
		add("search limit must be at least 1, got %d", c.Retrieval.SearchLimit)
	}

	if c.Metrics.Enabled && c.Metrics.OTLPEndpoint == "" {
		add("RECALL_OTLP_ENDPOINT is required when metrics are enabled")
	}

	return result.ErrorOrNil()
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("2s", "1m30s") or bare milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
