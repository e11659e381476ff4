// Package llm provides the embedding providers that turn memory text into
// vectors, plus wrappers that add rate limiting and caching.
package llm

import (
	"context"
	"errors"
)

// ErrUnexpectedDimension indicates that a provider returned a vector whose
// length differs from the configured dimension.
var ErrUnexpectedDimension = errors.New("unexpected embedding dimension")

// EmbeddingGenerator is the interface for generating vector embeddings.
type EmbeddingGenerator interface {
	// Embed returns the embedding of text. The vector length equals Dimensions().
	Embed(ctx context.Context, text string) ([]float32, error)

	// GetModel returns the model name.
	GetModel() string

	// Dimensions returns the length of the vectors Embed produces.
	Dimensions() int
}
