// Package vectorstore defines the contract between the memory engine and the
// vector database that durably holds memory records.
//
// A Store is organised into namespaces. Each namespace has a fixed vector
// dimension and distance metric, plus a set of keyword payload indexes used
// for scope filtering. Creation operations return a CreateOutcome so that a
// concurrent creator's win is visible as a normal result rather than an error.
package vectorstore

import "context"

// Store is implemented by every vector database backend.
type Store interface {
	// ListNamespaces returns the names of all existing namespaces.
	ListNamespaces(ctx context.Context) ([]string, error)

	// CreateNamespace creates a namespace. AlreadyExists is returned when the
	// namespace was created by someone else first.
	CreateNamespace(ctx context.Context, spec NamespaceSpec) (CreateOutcome, error)

	// CreateIndex creates a keyword payload index on field.
	// Returns ErrNotFound if the namespace does not exist.
	CreateIndex(ctx context.Context, namespace, field string) (CreateOutcome, error)

	// Upsert writes a single point. Returns ErrNotFound if the namespace does
	// not exist and ErrDimensionMismatch if the vector has the wrong length.
	Upsert(ctx context.Context, namespace string, point Point) error

	// Scroll returns every point in the namespace matching filter, in store
	// order. Implementations page internally; the result is unbounded.
	// Returns ErrNotFound if the namespace does not exist.
	Scroll(ctx context.Context, namespace string, filter Filter) ([]Record, error)

	// Query returns at most k points matching filter ordered by non-increasing
	// cosine similarity to vector.
	// Returns ErrNotFound if the namespace does not exist.
	Query(ctx context.Context, namespace string, vector []float32, filter Filter, k int) ([]ScoredRecord, error)

	// Close releases the backend's resources.
	Close() error
}
