// Package types defines the core data structures for the recall memory pipeline.
// These types describe memory scopes, the records stored per scope and the
// ingestion jobs that carry records through the durable queue.
package types

// Category classifies a stored memory record.
type Category string

// Record category constants
const (
	// CategoryMemory is the only category produced by the ingestion path.
	CategoryMemory Category = "memory"
)

// JobState represents the lifecycle state of an ingestion job.
type JobState string

// Ingestion job state constants
const (
	// JobWaiting indicates the job is ready to be claimed by a worker
	JobWaiting JobState = "waiting"

	// JobDelayed indicates the job is waiting for its retry backoff to elapse
	JobDelayed JobState = "delayed"

	// JobActive indicates a worker currently holds the job
	JobActive JobState = "active"

	// JobCompleted indicates the record was written
	JobCompleted JobState = "completed"

	// JobFailed indicates the job exhausted its attempt budget
	JobFailed JobState = "failed"
)

// ValidJobStates is a slice of all job states for validation
var ValidJobStates = []JobState{
	JobWaiting,
	JobDelayed,
	JobActive,
	JobCompleted,
	JobFailed,
}

// IsValidJobState checks if the given state is a known job state.
func IsValidJobState(state JobState) bool {
	for _, s := range ValidJobStates {
		if s == state {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible from s.
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}
