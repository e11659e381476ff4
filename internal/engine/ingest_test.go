package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/pkg/types"
)

func TestIngestNow_ImmediatelyVisible(t *testing.T) {
	env := newTestEnv(t, nil, testConfig())
	ctx := context.Background()

	require.NoError(t, env.engine.IngestNow(ctx, "u1", "i1", "Prefers Go over Java"))

	memories := env.engine.GetAllMemories(ctx, "u1", "i1")
	require.Len(t, memories, 1)
	assert.Equal(t, "Prefers Go over Java", memories[0].Text)
	assert.Equal(t, "u1", memories[0].OwnerID)
	assert.Equal(t, "i1", memories[0].SessionID)
	assert.Equal(t, types.CategoryMemory, memories[0].Category)
	assert.False(t, memories[0].CreatedAt.IsZero())
	assert.NotEmpty(t, memories[0].ID)
}

func TestIngestNow_DoesNotRequireStart(t *testing.T) {
	env := newTestEnv(t, nil, testConfig())
	assert.NoError(t, env.engine.IngestNow(context.Background(), "u1", "i1", "works without workers"))
}

func TestIngestNow_Validation(t *testing.T) {
	env := newTestEnv(t, nil, testConfig())
	ctx := context.Background()

	tests := []struct {
		name      string
		owner     string
		session   string
		text      string
		wantErrIs error
	}{
		{"empty text", "u1", "i1", "", ErrEmptyText},
		{"blank text", "u1", "i1", "  \n", ErrEmptyText},
		{"empty owner", "", "i1", "text", types.ErrInvalidScope},
		{"empty session", "u1", "", "text", types.ErrInvalidScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.engine.IngestNow(ctx, tt.owner, tt.session, tt.text)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErrIs)

			var ierr *IngestionError
			require.True(t, errors.As(err, &ierr))
			assert.Equal(t, StageValidate, ierr.Stage)
		})
	}
}

func TestIngestNow_EmbeddingFailureStopsBeforeUpsert(t *testing.T) {
	embedder := newMockEmbedder()
	embedder.On("Embed", mock.Anything, "secret fact").Return(nil, errors.New("provider down")).Once()

	env := newTestEnv(t, embedder, testConfig())
	ctx := context.Background()

	err := env.engine.IngestNow(ctx, "u1", "i1", "secret fact")
	require.Error(t, err)

	var ierr *IngestionError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, StageEmbed, ierr.Stage)

	var eerr *EmbeddingError
	require.True(t, errors.As(err, &eerr))
	assert.Equal(t, "mock-embedding", eerr.Model)

	embedder.AssertExpectations(t)
	assert.Empty(t, env.engine.GetAllMemories(ctx, "u1", "i1"), "no record may be written after a failed embed")
}

func TestIngestNow_RejectsWrongDimension(t *testing.T) {
	embedder := newMockEmbedder()
	embedder.On("Embed", mock.Anything, "short").Return([]float32{1, 0, 0}, nil)

	env := newTestEnv(t, embedder, testConfig())

	err := env.engine.IngestNow(context.Background(), "u1", "i1", "short")
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrUnexpectedDimension)
}

func TestIngestNow_ProvisioningFailure(t *testing.T) {
	eng, err := NewMemoryEngine(unreachableStore{}, llm.NewHashingEmbedder(testDimension), newTestEnv(t, nil, testConfig()).jobs, testConfig())
	require.NoError(t, err)

	err = eng.IngestNow(context.Background(), "u1", "i1", "text")
	require.Error(t, err)

	var ierr *IngestionError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, StageProvision, ierr.Stage)

	var perr *ProvisioningError
	assert.True(t, errors.As(err, &perr))
}

func TestIngestNow_EachCallWritesNewRecord(t *testing.T) {
	env := newTestEnv(t, nil, testConfig())
	ctx := context.Background()

	require.NoError(t, env.engine.IngestNow(ctx, "u1", "i1", "same text"))
	require.NoError(t, env.engine.IngestNow(ctx, "u1", "i1", "same text"))

	assert.Len(t, env.engine.GetAllMemories(ctx, "u1", "i1"), 2)
}

func TestNewMemoryEngine_Validation(t *testing.T) {
	env := newTestEnv(t, nil, testConfig())
	embedder := llm.NewHashingEmbedder(testDimension)

	_, err := NewMemoryEngine(nil, embedder, env.jobs, testConfig())
	assert.Error(t, err)

	_, err = NewMemoryEngine(env.store, nil, env.jobs, testConfig())
	assert.Error(t, err)

	_, err = NewMemoryEngine(env.store, embedder, nil, testConfig())
	assert.Error(t, err)

	_, err = NewMemoryEngine(env.store, llm.NewHashingEmbedder(32), env.jobs, testConfig())
	assert.Error(t, err, "embedder and namespace dimensions must agree")

	bad := testConfig()
	bad.Concurrency = 0
	_, err = NewMemoryEngine(env.store, embedder, env.jobs, bad)
	assert.Error(t, err)
}
