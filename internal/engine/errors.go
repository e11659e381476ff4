package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineNotStarted is returned by queue operations before Start.
	ErrEngineNotStarted = errors.New("engine not started")

	// ErrQueueClosed is returned by EnqueueIngestion once shutdown has begun.
	ErrQueueClosed = errors.New("ingestion queue closed")

	// ErrEmptyText is returned when asked to ingest blank text.
	ErrEmptyText = errors.New("text is required")
)

// Ingestion stages reported by IngestionError.
const (
	StageValidate  = "validate"
	StageProvision = "provision"
	StageEmbed     = "embed"
	StageUpsert    = "upsert"
)

// ProvisioningError reports a namespace or index that could not be created.
// Conflicts are never reported this way.
type ProvisioningError struct {
	Namespace string
	Step      string // "list", "namespace" or the indexed field name
	Err       error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision %s (%s): %v", e.Namespace, e.Step, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// EmbeddingError reports a failed embedding request.
type EmbeddingError struct {
	Model string
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embed with %s: %v", e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// StoreError reports a failed vector store operation.
type StoreError struct {
	Op        string
	Namespace string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Namespace, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IngestionError wraps the first failure of an ingestion attempt.
type IngestionError struct {
	Stage string
	Err   error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion failed at %s: %v", e.Stage, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }
