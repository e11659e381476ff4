package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/internal/vectorstore"
	"github.com/scrypster/recall/pkg/types"
)

// IngestNow provisions the scope, embeds text and writes one record before
// returning. The first failing step is returned as an *IngestionError; no
// step is retried.
func (e *MemoryEngine) IngestNow(ctx context.Context, ownerID, sessionID, text string) error {
	scope, err := validateIngestion(ownerID, sessionID, text)
	if err != nil {
		return err
	}
	return e.ingest(ctx, scope, text, uuid.NewString())
}

func validateIngestion(ownerID, sessionID, text string) (types.MemoryScope, error) {
	scope, err := types.NewScope(ownerID, sessionID)
	if err != nil {
		return types.MemoryScope{}, &IngestionError{Stage: StageValidate, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return types.MemoryScope{}, &IngestionError{Stage: StageValidate, Err: ErrEmptyText}
	}
	return scope, nil
}

// ingest runs provision, embed and upsert for one record. pointID names the
// stored point, so repeating a call with the same ID replaces the record
// instead of duplicating it.
func (e *MemoryEngine) ingest(ctx context.Context, scope types.MemoryScope, text, pointID string) error {
	if err := e.provisioner.Ensure(ctx, scope); err != nil {
		return &IngestionError{Stage: StageProvision, Err: err}
	}

	vector, err := e.embed(ctx, text)
	if err != nil {
		return &IngestionError{Stage: StageEmbed, Err: err}
	}

	record := types.NewMemoryRecord(pointID, scope, text, e.now())
	point := vectorstore.Point{
		ID:      pointID,
		Vector:  vector,
		Payload: record.Payload(),
	}
	ns := scope.Namespace()
	if _, err := step(ctx, e.config.StepTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.store.Upsert(ctx, ns, point)
	}); err != nil {
		return &IngestionError{Stage: StageUpsert, Err: &StoreError{Op: "upsert", Namespace: ns, Err: err}}
	}
	return nil
}

// embed returns the embedding of text, checking it against the namespace dimension.
func (e *MemoryEngine) embed(ctx context.Context, text string) ([]float32, error) {
	vector, err := step(ctx, e.config.StepTimeout, func(ctx context.Context) ([]float32, error) {
		return e.embedder.Embed(ctx, text)
	})
	if err != nil {
		return nil, &EmbeddingError{Model: e.embedder.GetModel(), Err: err}
	}
	if len(vector) != e.config.Dimension {
		return nil, &EmbeddingError{
			Model: e.embedder.GetModel(),
			Err:   fmt.Errorf("%w: got %d, want %d", llm.ErrUnexpectedDimension, len(vector), e.config.Dimension),
		}
	}
	return vector, nil
}

func systemClock() time.Time {
	return time.Now().UTC()
}
