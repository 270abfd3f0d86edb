package models

import (
	"time"
)

// MailboxCheckpoint holds the polling checkpoint for a mailbox folder
type MailboxCheckpoint struct {
	ID         string    `gorm:"column:id;type:uuid;primaryKey;default:gen_random_uuid()"`
	Mailbox    string    `gorm:"column:mailbox;type:varchar(255);uniqueIndex:idx_mailbox_folder;not null"`
	FolderName string    `gorm:"column:folder_name;type:varchar(100);uniqueIndex:idx_mailbox_folder;not null"`
	Checkpoint time.Time `gorm:"column:checkpoint;type:timestamp;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt  time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (MailboxCheckpoint) TableName() string {
	return "mailbox_checkpoints"
}
