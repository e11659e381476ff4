package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/recall/pkg/types"
)

func TestMultiObserver_FansOut(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	multi := MultiObserver{a, b, LogObserver{}}

	job := types.NewIngestionJob("job-1", types.MemoryScope{OwnerID: "u1", SessionID: "i1"}, "x", 3, time.Now())
	multi.JobCompleted(job, time.Millisecond)
	multi.JobRetrying(job, time.Now(), errors.New("boom"))
	multi.JobFailed(job, errors.New("boom"))
	multi.ProvisioningConflict("ns", "namespace")
	multi.RetrievalDegraded(OpSearch, job.Scope, errors.New("down"))

	for _, o := range []*recordingObserver{a, b} {
		completed, retrying, failed, conflicts, degraded := o.counts()
		assert.Equal(t, 1, completed)
		assert.Equal(t, 1, retrying)
		assert.Equal(t, 1, failed)
		assert.Equal(t, 1, conflicts)
		assert.Equal(t, 1, degraded)
	}
}

func TestErrorTypes_Unwrap(t *testing.T) {
	root := errors.New("root cause")
	err := &IngestionError{
		Stage: StageUpsert,
		Err:   &StoreError{Op: "upsert", Namespace: "ns", Err: root},
	}
	assert.ErrorIs(t, err, root)
	assert.Equal(t, "ingestion failed at upsert: upsert ns: root cause", err.Error())

	var serr *StoreError
	assert.True(t, errors.As(err, &serr))
	assert.Equal(t, "ns", serr.Namespace)
}
