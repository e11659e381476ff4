package llm

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// HashingEmbedder is an offline EmbeddingGenerator that maps text to a
// signed bag-of-words feature-hashing vector. Texts sharing words get
// positive cosine similarity. It needs no network and is deterministic,
// which makes it the provider for development and tests.
type HashingEmbedder struct {
	dimensions int
}

// NewHashingEmbedder creates a hashing embedder producing vectors of the
// given length. Non-positive dimensions default to 1536.
func NewHashingEmbedder(dimensions int) *HashingEmbedder {
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &HashingEmbedder{dimensions: dimensions}
}

// Embed returns the L2-normalised feature vector of text. Text without any
// word characters maps to a fixed unit vector.
func (h *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, h.dimensions)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		vec[0] = 1
		return vec, nil
	}

	for _, tok := range tokens {
		sum := xxhash.Sum64String(tok)
		idx := int(sum % uint64(h.dimensions))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Every token cancelled out.
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

// GetModel returns a descriptive model name.
func (h *HashingEmbedder) GetModel() string {
	return "hashing-bow"
}

// Dimensions returns the vector length.
func (h *HashingEmbedder) Dimensions() int {
	return h.dimensions
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var _ EmbeddingGenerator = (*HashingEmbedder)(nil)
