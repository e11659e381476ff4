package engine

import (
	"log"
	"time"

	"github.com/scrypster/recall/pkg/types"
)

// Observer receives lifecycle notifications from the engine. Methods are
// called synchronously from worker goroutines and must not block.
type Observer interface {
	// JobCompleted is called after a job's record was written.
	JobCompleted(job *types.IngestionJob, took time.Duration)

	// JobRetrying is called when a failed attempt is scheduled again.
	JobRetrying(job *types.IngestionJob, runAt time.Time, err error)

	// JobFailed is called when a job exhausts its attempt budget.
	JobFailed(job *types.IngestionJob, err error)

	// ProvisioningConflict is called when a namespace or index already
	// existed. resource is "namespace" or the indexed field name.
	ProvisioningConflict(namespace, resource string)

	// RetrievalDegraded is called when a read returns empty because of an error.
	RetrievalDegraded(op string, scope types.MemoryScope, err error)
}

// NopObserver ignores every notification. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) JobCompleted(*types.IngestionJob, time.Duration) {}
func (NopObserver) JobRetrying(*types.IngestionJob, time.Time, error) {}
func (NopObserver) JobFailed(*types.IngestionJob, error) {}
func (NopObserver) ProvisioningConflict(string, string) {}
func (NopObserver) RetrievalDegraded(string, types.MemoryScope, error) {}

// LogObserver writes notifications to the standard logger.
type LogObserver struct{}

func (LogObserver) JobCompleted(job *types.IngestionJob, took time.Duration) {
	log.Printf("Job %s completed for %s (attempt %d/%d, %v)",
		job.ID, job.Scope, job.Attempts, job.MaxAttempts, took.Round(time.Millisecond))
}

func (LogObserver) JobRetrying(job *types.IngestionJob, runAt time.Time, err error) {
	log.Printf("WARNING: Job %s attempt %d/%d failed, retrying at %s: %v",
		job.ID, job.Attempts, job.MaxAttempts, runAt.Format(time.RFC3339), err)
}

func (LogObserver) JobFailed(job *types.IngestionJob, err error) {
	log.Printf("ERROR: Job %s failed after %d attempts: %v", job.ID, job.Attempts, err)
}

func (LogObserver) ProvisioningConflict(namespace, resource string) {
	log.Printf("%s %s already exists, continuing", namespace, resource)
}

func (LogObserver) RetrievalDegraded(op string, scope types.MemoryScope, err error) {
	log.Printf("ERROR: %s for %s returned no results: %v", op, scope, err)
}

// MultiObserver fans notifications out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) JobCompleted(job *types.IngestionJob, took time.Duration) {
	for _, o := range m {
		o.JobCompleted(job, took)
	}
}

func (m MultiObserver) JobRetrying(job *types.IngestionJob, runAt time.Time, err error) {
	for _, o := range m {
		o.JobRetrying(job, runAt, err)
	}
}

func (m MultiObserver) JobFailed(job *types.IngestionJob, err error) {
	for _, o := range m {
		o.JobFailed(job, err)
	}
}

func (m MultiObserver) ProvisioningConflict(namespace, resource string) {
	for _, o := range m {
		o.ProvisioningConflict(namespace, resource)
	}
}

func (m MultiObserver) RetrievalDegraded(op string, scope types.MemoryScope, err error) {
	for _, o := range m {
		o.RetrievalDegraded(op, scope, err)
	}
}
