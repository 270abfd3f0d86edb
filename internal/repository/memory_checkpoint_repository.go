package repository

import (
	"context"
	"sync"
	"time"

	"github.com/customeros/mailbot/interfaces"
)

// memoryCheckpointRepository keeps checkpoints for the lifetime of the process,
// used when no database is configured.
type memoryCheckpointRepository struct {
	mu          sync.Mutex
	checkpoints map[string]time.Time
}

func NewMemoryCheckpointRepository() interfaces.CheckpointRepository {
	return &memoryCheckpointRepository{checkpoints: make(map[string]time.Time)}
}

func checkpointKey(mailbox, folder string) string {
	return mailbox + "\x00" + folder
}

func (r *memoryCheckpointRepository) GetCheckpoint(_ context.Context, mailbox, folder string) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	checkpoint, ok := r.checkpoints[checkpointKey(mailbox, folder)]
	if !ok {
		return nil, nil
	}
	return &checkpoint, nil
}

func (r *memoryCheckpointRepository) SaveCheckpoint(_ context.Context, mailbox, folder string, checkpoint time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := checkpointKey(mailbox, folder)
	if current, ok := r.checkpoints[key]; ok && current.After(checkpoint) {
		return nil
	}
	r.checkpoints[key] = checkpoint.UTC()
	return nil
}

func (r *memoryCheckpointRepository) DeleteCheckpoint(_ context.Context, mailbox, folder string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.checkpoints, checkpointKey(mailbox, folder))
	return nil
}
