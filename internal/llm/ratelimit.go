package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedEmbedder throttles calls to a provider so a burst of queued
// ingestion jobs stays within the provider's request quota.
type RateLimitedEmbedder struct {
	next    EmbeddingGenerator
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder allows perSecond calls per second with the given
// burst. A burst below 1 is treated as 1.
func NewRateLimitedEmbedder(next EmbeddingGenerator, perSecond float64, burst int) *RateLimitedEmbedder {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedEmbedder{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Embed waits for a token, then delegates. It returns early if ctx ends
// while waiting.
func (r *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit wait: %w", err)
	}
	return r.next.Embed(ctx, text)
}

// GetModel returns the wrapped provider's model.
func (r *RateLimitedEmbedder) GetModel() string {
	return r.next.GetModel()
}

// Dimensions returns the wrapped provider's vector length.
func (r *RateLimitedEmbedder) Dimensions() int {
	return r.next.Dimensions()
}

// Unwrap returns the throttled provider.
func (r *RateLimitedEmbedder) Unwrap() EmbeddingGenerator {
	return r.next
}

var _ EmbeddingGenerator = (*RateLimitedEmbedder)(nil)
