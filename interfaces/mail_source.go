package interfaces

import (
	"context"

	"github.com/customeros/mailbot/internal/enum"
	"github.com/customeros/mailbot/internal/models"
)

// MailSink receives newly observed mail items from a MailSource.
type MailSink func(ctx context.Context, items []models.MailItem)

type MailSource interface {
	Start(ctx context.Context) error
	Stop() error
	Mode() enum.SourceMode
	State() enum.ConnectionState
}
