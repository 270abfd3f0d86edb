package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCheckpointRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCheckpointRepository()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := repo.GetCheckpoint(ctx, "mmbot@example.com", "INBOX")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.SaveCheckpoint(ctx, "mmbot@example.com", "INBOX", t0))
	require.NoError(t, repo.SaveCheckpoint(ctx, "mmbot@example.com", "Archive", t0.Add(time.Hour)))

	got, err = repo.GetCheckpoint(ctx, "mmbot@example.com", "INBOX")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, t0.Equal(*got))

	// never moves backwards
	require.NoError(t, repo.SaveCheckpoint(ctx, "mmbot@example.com", "INBOX", t0.Add(-time.Minute)))
	got, _ = repo.GetCheckpoint(ctx, "mmbot@example.com", "INBOX")
	assert.True(t, t0.Equal(*got))

	require.NoError(t, repo.SaveCheckpoint(ctx, "mmbot@example.com", "INBOX", t0.Add(time.Minute)))
	got, _ = repo.GetCheckpoint(ctx, "mmbot@example.com", "INBOX")
	assert.True(t, t0.Add(time.Minute).Equal(*got))

	require.NoError(t, repo.DeleteCheckpoint(ctx, "mmbot@example.com", "INBOX"))
	got, err = repo.GetCheckpoint(ctx, "mmbot@example.com", "INBOX")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, _ = repo.GetCheckpoint(ctx, "mmbot@example.com", "Archive")
	require.NotNil(t, got)
}

func TestInitRepositories_WithoutDatabase(t *testing.T) {
	repos := InitRepositories(nil)
	require.NotNil(t, repos.CheckpointRepository)
	_, isMemory := repos.CheckpointRepository.(*memoryCheckpointRepository)
	assert.True(t, isMemory)
}
