package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
)

// ErrModelNotInstalled is returned by Probe when the provider is reachable
// but does not serve the configured model.
var ErrModelNotInstalled = errors.New("embedding model not installed")

// healthChecker is implemented by providers that expose a liveness endpoint.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// modelLister is implemented by providers that can enumerate their models.
type modelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Probe checks that the provider behind gen is reachable and serves its
// configured model. Wrappers are unwrapped first. Providers without a
// liveness endpoint always pass.
func Probe(ctx context.Context, gen EmbeddingGenerator) error {
	base := Base(gen)

	if hc, ok := base.(healthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding provider unreachable: %w", err)
		}
	}

	if ml, ok := base.(modelLister); ok {
		models, err := ml.ListModels(ctx)
		if err != nil {
			return fmt.Errorf("failed to list embedding models: %w", err)
		}
		if !hasModel(models, base.GetModel()) {
			return fmt.Errorf("%w: %q", ErrModelNotInstalled, base.GetModel())
		}
	}
	return nil
}

// Base strips rate limiting and caching wrappers from gen.
func Base(gen EmbeddingGenerator) EmbeddingGenerator {
	for {
		w, ok := gen.(interface{ Unwrap() EmbeddingGenerator })
		if !ok {
			return gen
		}
		gen = w.Unwrap()
	}
}

// hasModel matches names with or without Ollama's ":latest" tag.
func hasModel(models []string, model string) bool {
	return lo.ContainsBy(models, func(m string) bool {
		return m == model || m == model+":latest"
	})
}
