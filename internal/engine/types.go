// Package engine provides the memory engine: namespace provisioning, the
// synchronous ingestion path, the durable ingestion queue with its worker
// pool, and fail-soft retrieval.
package engine

import (
	"fmt"
	"time"

	"github.com/scrypster/recall/internal/config"
)

// DefaultSearchLimit is the number of results returned by a semantic search
// when the caller does not ask for a specific k.
const DefaultSearchLimit = 100

// Config holds configuration for the memory engine.
type Config struct {
	// Dimension is the vector length of every namespace (default: 1536).
	Dimension int

	// Concurrency is the number of ingestion worker goroutines (default: 5).
	Concurrency int

	// MaxAttempts is the total attempt budget of a queued job (default: 3).
	MaxAttempts int

	// InitialBackoff is the delay after the first failed attempt (default: 2s).
	InitialBackoff time.Duration

	// BackoffMultiplier scales the delay after every further failure (default: 2).
	BackoffMultiplier float64

	// KeepCompleted and KeepFailed bound the retained terminal jobs
	// (defaults: 100 and 50). Negative values keep everything.
	KeepCompleted int
	KeepFailed    int

	// PollInterval is how often idle workers look for ready jobs (default: 1s).
	PollInterval time.Duration

	// StepTimeout bounds each provision, embed and upsert step (default: 30s).
	StepTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight jobs on
	// shutdown before their context is cancelled (default: 30s).
	ShutdownTimeout time.Duration

	// SearchLimit is the k used when SearchMemories is called with k <= 0.
	SearchLimit int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Dimension:         1536,
		Concurrency:       5,
		MaxAttempts:       3,
		InitialBackoff:    2 * time.Second,
		BackoffMultiplier: 2,
		KeepCompleted:     100,
		KeepFailed:        50,
		PollInterval:      time.Second,
		StepTimeout:       30 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		SearchLimit:       DefaultSearchLimit,
	}
}

// ConfigFrom maps the application configuration onto the engine's.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Dimension:         cfg.Embedding.Dimension,
		Concurrency:       cfg.Queue.Concurrency,
		MaxAttempts:       cfg.Queue.MaxAttempts,
		InitialBackoff:    cfg.Queue.InitialBackoff,
		BackoffMultiplier: cfg.Queue.BackoffMultiplier,
		KeepCompleted:     cfg.Queue.KeepCompleted,
		KeepFailed:        cfg.Queue.KeepFailed,
		PollInterval:      cfg.Queue.PollInterval,
		StepTimeout:       cfg.Queue.StepTimeout,
		ShutdownTimeout:   cfg.Queue.ShutdownTimeout,
		SearchLimit:       cfg.Retrieval.SearchLimit,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.Dimension < 1 {
		return fmt.Errorf("Dimension must be >= 1, got %d", c.Dimension)
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("Concurrency must be >= 1, got %d", c.Concurrency)
	}

	if c.MaxAttempts < 1 {
		return fmt.Errorf("MaxAttempts must be >= 1, got %d", c.MaxAttempts)
	}

	if c.InitialBackoff < 0 {
		return fmt.Errorf("InitialBackoff must be >= 0, got %v", c.InitialBackoff)
	}

	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("BackoffMultiplier must be >= 1, got %v", c.BackoffMultiplier)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("PollInterval must be > 0, got %v", c.PollInterval)
	}

	if c.StepTimeout <= 0 {
		return fmt.Errorf("StepTimeout must be > 0, got %v", c.StepTimeout)
	}

	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("ShutdownTimeout must be >= 0, got %v", c.ShutdownTimeout)
	}

	if c.SearchLimit < 1 {
		return fmt.Errorf("SearchLimit must be >= 1, got %d", c.SearchLimit)
	}

	return nil
}
