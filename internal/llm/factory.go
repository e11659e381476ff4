package llm

import (
	"fmt"

	"github.com/scrypster/recall/internal/config"
)

// NewEmbeddingGenerator builds the configured provider and wraps it with the
// rate limiter and cache when those are enabled. The cache sits outside the
// limiter so cache hits do not consume tokens.
func NewEmbeddingGenerator(cfg config.EmbeddingConfig) (EmbeddingGenerator, error) {
	var gen EmbeddingGenerator

	switch cfg.Provider {
	case config.ProviderOpenAI:
		model := cfg.Model
		if model == "" {
			model = "text-embedding-3-small"
		}
		gen = NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      model,
			BaseURL:    cfg.OpenAIBaseURL,
			Dimensions: cfg.Dimension,
			Timeout:    cfg.Timeout,
		})
	case config.ProviderOllama:
		model := cfg.Model
		if model == "" || model == "text-embedding-3-small" {
			model = "nomic-embed-text"
		}
		gen = NewOllamaClient(OllamaConfig{
			BaseURL:    cfg.OllamaURL,
			Model:      model,
			Dimensions: cfg.Dimension,
			Timeout:    cfg.Timeout,
		})
	case config.ProviderHashing:
		gen = NewHashingEmbedder(cfg.Dimension)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}

	if cfg.RateLimit > 0 {
		gen = NewRateLimitedEmbedder(gen, cfg.RateLimit, cfg.RateBurst)
	}

	if cfg.CacheSize > 0 {
		cached, err := NewCachingEmbedder(gen, int64(cfg.CacheSize))
		if err != nil {
			return nil, err
		}
		gen = cached
	}

	return gen, nil
}
