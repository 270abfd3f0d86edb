package interfaces

import (
	"context"

	"github.com/customeros/mailbot/internal/models"
)

// BotCore consumes chat messages produced from inbound mail.
type BotCore interface {
	Receive(ctx context.Context, msg models.ChatMessage) error
}

// ReplySender is the outbound surface the bot core talks back through.
type ReplySender interface {
	Send(ctx context.Context, conversationKey string, lines []string) error
	SendTo(ctx context.Context, to []string, subject string, lines []string) error
}
