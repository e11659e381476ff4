package types

import "time"

// IngestionJob carries one text fragment through the durable queue.
type IngestionJob struct {
	ID          string      `json:"id"`
	Scope       MemoryScope `json:"scope"`
	Text        string      `json:"text"`
	State       JobState    `json:"state"`
	Attempts    int         `json:"attempts"`     // attempts started so far
	MaxAttempts int         `json:"max_attempts"` // total attempt budget
	LastError   string      `json:"last_error,omitempty"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
	RunAt       time.Time   `json:"run_at"` // earliest time the job may be claimed
	UpdatedAt   time.Time   `json:"updated_at"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
}

// NewIngestionJob creates a waiting job that is immediately claimable.
func NewIngestionJob(id string, scope MemoryScope, text string, maxAttempts int, now time.Time) *IngestionJob {
	now = now.UTC()
	return &IngestionJob{
		ID:          id,
		Scope:       scope,
		Text:        text,
		State:       JobWaiting,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  now,
		RunAt:       now,
		UpdatedAt:   now,
	}
}

// BudgetExhausted reports whether no attempts remain.
func (j *IngestionJob) BudgetExhausted() bool {
	return j.Attempts >= j.MaxAttempts
}
