package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/customeros/mailbot/interfaces"
	"github.com/customeros/mailbot/internal/models"
	"github.com/customeros/mailbot/internal/tracing"
)

type checkpointRepository struct {
	db *gorm.DB
}

func NewCheckpointRepository(db *gorm.DB) interfaces.CheckpointRepository {
	return &checkpointRepository{db: db}
}

// GetCheckpoint retrieves the polling checkpoint for a mailbox folder
func (r *checkpointRepository) GetCheckpoint(ctx context.Context, mailbox, folder string) (*time.Time, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "checkpointRepository.GetCheckpoint")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagMailbox(span, mailbox)

	var checkpoint models.MailboxCheckpoint
	result := r.db.WithContext(ctx).
		Where("mailbox = ? AND folder_name = ?", mailbox, folder).
		First(&checkpoint)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get checkpoint: %w", result.Error)
	}

	value := checkpoint.Checkpoint.UTC()
	return &value, nil
}

// SaveCheckpoint upserts the checkpoint, it never moves an existing one backwards
func (r *checkpointRepository) SaveCheckpoint(ctx context.Context, mailbox, folder string, checkpoint time.Time) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "checkpointRepository.SaveCheckpoint")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)
	tracing.TagMailbox(span, mailbox)

	now := time.Now().UTC()
	record := models.MailboxCheckpoint{
		Mailbox:    mailbox,
		FolderName: folder,
		Checkpoint: checkpoint.UTC(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "mailbox"}, {Name: "folder_name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"checkpoint": gorm.Expr("GREATEST(mailbox_checkpoints.checkpoint, EXCLUDED.checkpoint)"),
			"updated_at": now,
		}),
	}).Create(&record)

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save checkpoint: %w", result.Error)
	}

	return nil
}

// DeleteCheckpoint removes the checkpoint, the next poll starts from now
func (r *checkpointRepository) DeleteCheckpoint(ctx context.Context, mailbox, folder string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "checkpointRepository.DeleteCheckpoint")
	defer span.Finish()
	tracing.SetDefaultPostgresRepositorySpanTags(ctx, span)

	result := r.db.WithContext(ctx).
		Where("mailbox = ? AND folder_name = ?", mailbox, folder).
		Delete(&models.MailboxCheckpoint{})

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to delete checkpoint: %w", result.Error)
	}

	return nil
}
