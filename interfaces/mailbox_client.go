package interfaces

import (
	"context"
	"time"

	"github.com/customeros/mailbot/internal/enum"
	"github.com/customeros/mailbot/internal/models"
)

type MailboxCredentials struct {
	Address    string
	Credential string
	// URL of the mailbox endpoint, discovered from Address when empty
	URL     string
	SMTPURL string
}

type MailboxConnector interface {
	Connect(ctx context.Context, credentials MailboxCredentials) (MailboxClient, error)
}

// MailboxClient is the capability the bridge needs from a hosted mailbox.
type MailboxClient interface {
	PollSince(ctx context.Context, folder string, since time.Time, limit int) ([]models.MailItem, error)
	Subscribe(ctx context.Context, folder string, kinds []enum.MailEventKind, handler SubscriptionHandler) (Subscription, error)
	Resolve(ctx context.Context, ids []string) ([]models.MailItem, error)
	ReplyAll(ctx context.Context, original models.MailItem, body string) error
	ComposeAndSend(ctx context.Context, to []string, subject, body string) error
	Close() error
}

// SubscriptionHandler callbacks are invoked from the subscription goroutine, one at a time.
// OnDisconnect is called exactly once per subscription, err is nil for a clean close.
type SubscriptionHandler interface {
	OnNotification(ids []string)
	OnDisconnect(err error)
}

type Subscription interface {
	Close() error
}
