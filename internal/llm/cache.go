package llm

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachingEmbedder memoises text→vector results in a bounded ristretto cache.
// It caches vectors only; memory records are never cached.
type CachingEmbedder struct {
	next  EmbeddingGenerator
	cache *ristretto.Cache
}

// NewCachingEmbedder caches up to maxEntries vectors.
func NewCachingEmbedder(next EmbeddingGenerator, maxEntries int64) (*CachingEmbedder, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("embedding cache size must be positive, got %d", maxEntries)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}

	return &CachingEmbedder{next: next, cache: cache}, nil
}

// Embed returns a cached vector when present, otherwise delegates and stores
// the result. Errors are never cached.
func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if v, ok := c.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return cloneVector(vec), nil
		}
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, cloneVector(vec), 1)
	return vec, nil
}

// Wait blocks until buffered cache writes are applied.
func (c *CachingEmbedder) Wait() {
	c.cache.Wait()
}

// Close stops the cache's background goroutines.
func (c *CachingEmbedder) Close() {
	c.cache.Close()
}

// GetModel returns the wrapped provider's model.
func (c *CachingEmbedder) GetModel() string {
	return c.next.GetModel()
}

// Dimensions returns the wrapped provider's vector length.
func (c *CachingEmbedder) Dimensions() int {
	return c.next.Dimensions()
}

// Unwrap returns the cached provider.
func (c *CachingEmbedder) Unwrap() EmbeddingGenerator {
	return c.next
}

func (c *CachingEmbedder) key(text string) string {
	return c.next.GetModel() + "\x00" + text
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

var _ EmbeddingGenerator = (*CachingEmbedder)(nil)
