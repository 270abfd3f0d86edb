package interfaces

import (
	"context"

	"github.com/customeros/mailbot/internal/models"
)

// MailboxAdapter is the bridge as seen by the server, the cron jobs and the API.
type MailboxAdapter interface {
	ReplySender
	Run(ctx context.Context) error
	Stop() error
	Close() error
	PurgeCache() int
	Status() models.AdapterStatus
}
