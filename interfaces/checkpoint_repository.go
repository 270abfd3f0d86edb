package interfaces

import (
	"context"
	"time"
)

type CheckpointRepository interface {
	// GetCheckpoint returns nil when no checkpoint was stored yet
	GetCheckpoint(ctx context.Context, mailbox, folder string) (*time.Time, error)
	SaveCheckpoint(ctx context.Context, mailbox, folder string, checkpoint time.Time) error
	DeleteCheckpoint(ctx context.Context, mailbox, folder string) error
}
