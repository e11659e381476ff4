package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/config"
)

// clearEnv isolates a test from RECALL_* variables set in the environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "RECALL_") {
			t.Setenv(key, "")
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("RECALL_OPENAI_API_KEY", "sk-test")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.VectorBackendSQLite, cfg.VectorStore.Backend)
	assert.Equal(t, filepath.Join("./data", "recall.db"), cfg.Storage.SQLitePath)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
	assert.Equal(t, "memory-processing", cfg.Queue.Name)
	assert.Equal(t, 5, cfg.Queue.Concurrency)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Queue.InitialBackoff)
	assert.Equal(t, 2.0, cfg.Queue.BackoffMultiplier)
	assert.Equal(t, 100, cfg.Queue.KeepCompleted)
	assert.Equal(t, 50, cfg.Queue.KeepFailed)
	assert.Equal(t, 100, cfg.Retrieval.SearchLimit)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RECALL_EMBEDDING_PROVIDER", "hashing")
	t.Setenv("RECALL_EMBEDDING_DIMENSION", "64")
	t.Setenv("RECALL_QUEUE_BACKEND", "redis")
	t.Setenv("RECALL_REDIS_ADDR", "redis:6379")
	t.Setenv("RECALL_QUEUE_INITIAL_BACKOFF", "250")
	t.Setenv("RECALL_STEP_TIMEOUT", "5s")
	t.Setenv("RECALL_QUEUE_BACKOFF_MULTIPLIER", "3")
	t.Setenv("RECALL_METRICS_ENABLED", "YES")
	t.Setenv("RECALL_SEARCH_LIMIT", "not-a-number")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.ProviderHashing, cfg.Embedding.Provider)
	assert.Equal(t, 64, cfg.Embedding.Dimension)
	assert.Equal(t, config.QueueBackendRedis, cfg.Queue.Backend)
	assert.Equal(t, "redis:6379", cfg.Queue.RedisAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.InitialBackoff)
	assert.Equal(t, 5*time.Second, cfg.Queue.StepTimeout)
	assert.Equal(t, 3.0, cfg.Queue.BackoffMultiplier)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 100, cfg.Retrieval.SearchLimit, "unparseable values keep the default")
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "recall.yaml")
	yamlDoc := `
vector_store:
  backend: qdrant
  qdrant_url: http://qdrant:6333
embedding:
  provider: ollama
  model: nomic-embed-text
  dimension: 768
queue:
  concurrency: 8
  initial_backoff: 500ms
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))
	t.Setenv("RECALL_CONFIG", path)
	t.Setenv("RECALL_QUEUE_CONCURRENCY", "2")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.VectorBackendQdrant, cfg.VectorStore.Backend)
	assert.Equal(t, "http://qdrant:6333", cfg.VectorStore.QdrantURL)
	assert.Equal(t, config.ProviderOllama, cfg.Embedding.Provider)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, 500*time.Millisecond, cfg.Queue.InitialBackoff)
	assert.Equal(t, 2, cfg.Queue.Concurrency, "environment overrides the file")
	assert.Equal(t, 3, cfg.Queue.MaxAttempts, "keys missing from the file keep defaults")
}

func TestLoadFile_IgnoresRecallConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("RECALL_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("RECALL_EMBEDDING_PROVIDER", "hashing")

	path := filepath.Join(t.TempDir(), "metrics.yaml")
	yamlDoc := `
metrics:
  enabled: true
  otlp_endpoint: collector:4317
  insecure: true
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))
	t.Setenv("RECALL_OTLP_ENDPOINT", "otel:4317")

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.True(t, cfg.Metrics.Enabled)
	assert.True(t, cfg.Metrics.Insecure)
	assert.Equal(t, "otel:4317", cfg.Metrics.OTLPEndpoint)

	// The environment still applies without a file.
	cfg, err = config.LoadFile("")
	require.NoError(t, err)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "otel:4317", cfg.Metrics.OTLPEndpoint)

	// Empty variables count as unset.
	t.Setenv("RECALL_OTLP_ENDPOINT", "")
	cfg, err = config.LoadFile("")
	require.NoError(t, err)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Metrics.OTLPEndpoint)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("RECALL_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := config.Load()
	assert.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := config.Default()
	cfg.VectorStore.Backend = "pinecone"
	cfg.Embedding.Provider = config.ProviderOpenAI
	cfg.Queue.Concurrency = 0
	cfg.Queue.BackoffMultiplier = 0.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
	assert.Contains(t, err.Error(), "pinecone")
	assert.Contains(t, err.Error(), "RECALL_OPENAI_API_KEY")
	assert.Contains(t, err.Error(), "concurrency")
	assert.Contains(t, err.Error(), "multiplier")
}

func TestValidate_BackendRequirements(t *testing.T) {
	cfg := config.Default()
	cfg.Embedding.Provider = config.ProviderHashing
	require.NoError(t, cfg.Validate())

	cfg.VectorStore.Backend = config.VectorBackendPostgres
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalidConfig)

	cfg.VectorStore.PostgresDSN = "postgres://localhost/recall"
	assert.NoError(t, cfg.Validate())
}
