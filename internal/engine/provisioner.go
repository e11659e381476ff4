package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/scrypster/recall/internal/vectorstore"
	"github.com/scrypster/recall/pkg/types"
)

// Provisioner makes sure a scope's namespace and payload indexes exist.
// It keeps no state between calls; concurrent callers race on the store and
// the loser sees an AlreadyExists outcome, which counts as success.
type Provisioner struct {
	store       vectorstore.Store
	dimension   int
	stepTimeout time.Duration
	observer    Observer
}

// NewProvisioner creates a provisioner for namespaces of the given dimension.
func NewProvisioner(store vectorstore.Store, dimension int, stepTimeout time.Duration, observer Observer) *Provisioner {
	if observer == nil {
		observer = NopObserver{}
	}
	return &Provisioner{
		store:       store,
		dimension:   dimension,
		stepTimeout: stepTimeout,
		observer:    observer,
	}
}

// Ensure creates the scope's namespace if it is missing, then its indexes.
func (p *Provisioner) Ensure(ctx context.Context, scope types.MemoryScope) error {
	ns := scope.Namespace()

	names, err := step(ctx, p.stepTimeout, func(ctx context.Context) ([]string, error) {
		return p.store.ListNamespaces(ctx)
	})
	if err != nil {
		return &ProvisioningError{Namespace: ns, Step: "list", Err: err}
	}

	if !lo.Contains(names, ns) {
		spec := vectorstore.NamespaceSpec{
			Name:      ns,
			Dimension: p.dimension,
			Metric:    vectorstore.MetricCosine,
		}
		outcome, err := step(ctx, p.stepTimeout, func(ctx context.Context) (vectorstore.CreateOutcome, error) {
			return p.store.CreateNamespace(ctx, spec)
		})
		if err != nil {
			return &ProvisioningError{Namespace: ns, Step: "namespace", Err: err}
		}
		if outcome == vectorstore.AlreadyExists {
			p.observer.ProvisioningConflict(ns, "namespace")
		}
	}

	return p.ensureIndexes(ctx, ns)
}

// EnsureIndexes creates the scope's payload indexes without touching the
// namespace itself. A namespace that does not exist yields an error
// wrapping vectorstore.ErrNotFound.
func (p *Provisioner) EnsureIndexes(ctx context.Context, scope types.MemoryScope) error {
	return p.ensureIndexes(ctx, scope.Namespace())
}

func (p *Provisioner) ensureIndexes(ctx context.Context, ns string) error {
	for _, field := range types.IndexedFields {
		outcome, err := step(ctx, p.stepTimeout, func(ctx context.Context) (vectorstore.CreateOutcome, error) {
			return p.store.CreateIndex(ctx, ns, field)
		})
		if err != nil {
			return &ProvisioningError{Namespace: ns, Step: field, Err: err}
		}
		if outcome == vectorstore.AlreadyExists {
			p.observer.ProvisioningConflict(ns, field)
		}
	}
	return nil
}

// step runs fn under its own timeout derived from ctx.
func step[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(stepCtx)
	if err != nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return v, fmt.Errorf("step timed out after %v: %w", timeout, err)
	}
	return v, err
}
