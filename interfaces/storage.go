package interfaces

import (
	"context"

	"github.com/customeros/mailbot/internal/models"
)

type StorageService interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// MailArchive keeps a copy of every mail the bot accepted.
type MailArchive interface {
	Archive(ctx context.Context, item models.MailItem) error
}
