package engine

import (
	"context"
	"log"

	"github.com/scrypster/recall/pkg/types"
)

// RecoverActiveJobs redelivers jobs a previous process left active. A job
// whose attempt budget is already spent is failed rather than retried, so
// recovery never grants an extra attempt. Start calls it before any worker
// claims a job.
func (e *MemoryEngine) RecoverActiveJobs(ctx context.Context) (requeued, failed int, err error) {
	log.Println("Starting ingestion recovery for active jobs...")

	requeued, failed, err = e.jobs.RecoverActive(ctx, e.now())
	if err != nil {
		log.Printf("ERROR: Failed to recover active jobs: %v", err)
		return 0, 0, err
	}

	if requeued == 0 && failed == 0 {
		log.Println("No active jobs to recover")
		return 0, 0, nil
	}

	if failed > 0 {
		e.trim(ctx, types.JobFailed, e.config.KeepFailed)
	}

	log.Printf("Recovery complete: requeued %d jobs, failed %d with no attempts left", requeued, failed)
	return requeued, failed, nil
}
