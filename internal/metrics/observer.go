package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/scrypster/recall/internal/engine"
	"github.com/scrypster/recall/pkg/types"
)

const instrumentationName = "github.com/scrypster/recall"

// Observer records engine lifecycle events as OpenTelemetry metrics.
// Scope identifiers are never used as attributes.
type Observer struct {
	completed metric.Int64Counter
	retried   metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
	attempts  metric.Int64Histogram
	conflicts metric.Int64Counter
	degraded  metric.Int64Counter
}

var _ engine.Observer = (*Observer)(nil)

// NewObserver creates the instruments on meter.
func NewObserver(meter metric.Meter) (*Observer, error) {
	var (
		o   Observer
		err error
	)

	if o.completed, err = meter.Int64Counter("recall.jobs.completed",
		metric.WithDescription("Ingestion jobs that wrote their record"),
		metric.WithUnit("{job}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create completion counter: %w", err)
	}
	if o.retried, err = meter.Int64Counter("recall.jobs.retried",
		metric.WithDescription("Failed ingestion attempts scheduled for retry"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create retry counter: %w", err)
	}
	if o.failed, err = meter.Int64Counter("recall.jobs.failed",
		metric.WithDescription("Ingestion jobs that exhausted their attempts"),
		metric.WithUnit("{job}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create failure counter: %w", err)
	}
	if o.duration, err = meter.Float64Histogram("recall.job.duration",
		metric.WithDescription("Duration of the successful ingestion attempt in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	); err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	if o.attempts, err = meter.Int64Histogram("recall.job.attempts",
		metric.WithDescription("Attempts used by jobs that reached a terminal state"),
		metric.WithUnit("{attempt}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 10),
	); err != nil {
		return nil, fmt.Errorf("failed to create attempts histogram: %w", err)
	}
	if o.conflicts, err = meter.Int64Counter("recall.provisioning.conflicts",
		metric.WithDescription("Namespace or index creations that found the resource already present"),
		metric.WithUnit("{conflict}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create conflict counter: %w", err)
	}
	if o.degraded, err = meter.Int64Counter("recall.retrieval.degraded",
		metric.WithDescription("Reads that returned empty because of an error"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create degraded counter: %w", err)
	}

	return &o, nil
}

func (o *Observer) JobCompleted(job *types.IngestionJob, took time.Duration) {
	ctx := context.Background()
	o.completed.Add(ctx, 1)
	o.duration.Record(ctx, took.Seconds())
	o.attempts.Record(ctx, int64(job.Attempts), metric.WithAttributes(stateAttr(types.JobCompleted)))
}

func (o *Observer) JobRetrying(job *types.IngestionJob, _ time.Time, _ error) {
	o.retried.Add(context.Background(), 1,
		metric.WithAttributes(attribute.Int("attempt", job.Attempts)))
}

func (o *Observer) JobFailed(job *types.IngestionJob, _ error) {
	ctx := context.Background()
	o.failed.Add(ctx, 1)
	o.attempts.Record(ctx, int64(job.Attempts), metric.WithAttributes(stateAttr(types.JobFailed)))
}

func (o *Observer) ProvisioningConflict(_ string, resource string) {
	kind := "index"
	if resource == "namespace" {
		kind = "namespace"
	}
	o.conflicts.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("resource", kind)))
}

func (o *Observer) RetrievalDegraded(op string, _ types.MemoryScope, _ error) {
	o.degraded.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("operation", op)))
}

func stateAttr(state types.JobState) attribute.KeyValue {
	return attribute.String("state", string(state))
}
