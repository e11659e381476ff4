package vectorstore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that the namespace does not exist.
	ErrNotFound = errors.New("namespace not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// namespace dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// CreateOutcome is the non-error result of a create operation.
type CreateOutcome int

const (
	// Created means this call created the resource.
	Created CreateOutcome = iota + 1

	// AlreadyExists means the resource was already present. Callers treat it
	// as success.
	AlreadyExists
)

// String implements fmt.Stringer.
func (o CreateOutcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	default:
		return fmt.Sprintf("CreateOutcome(%d)", int(o))
	}
}

// Metric is a vector distance metric.
type Metric string

// MetricCosine is the only metric the memory engine uses.
const MetricCosine Metric = "cosine"

// NamespaceSpec describes a namespace to create.
type NamespaceSpec struct {
	Name      string
	Dimension int
	Metric    Metric
}

// Validate checks the spec before it reaches a backend.
func (s NamespaceSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: namespace name is required", ErrInvalidInput)
	}
	if s.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidInput)
	}
	if s.Metric != MetricCosine {
		return fmt.Errorf("%w: unsupported metric %q", ErrInvalidInput, s.Metric)
	}
	return nil
}

// Point is a vector with an ID and a JSON-compatible payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Validate checks the point before it reaches a backend.
func (p Point) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: point ID is required", ErrInvalidInput)
	}
	if len(p.Vector) == 0 {
		return fmt.Errorf("%w: vector cannot be empty", ErrInvalidInput)
	}
	return nil
}

// Record is a stored point without its vector.
type Record struct {
	ID      string
	Payload map[string]any
}

// ScoredRecord is a Record with its similarity to a query vector.
type ScoredRecord struct {
	Record
	Score float32
}

// Filter restricts results to points whose payload has every listed
// field equal to the given keyword value. An empty filter matches all points.
type Filter map[string]string

// Matches reports whether payload satisfies the filter.
func (f Filter) Matches(payload map[string]any) bool {
	for field, want := range f {
		got, ok := payload[field].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}
