package botbus

import (
	"context"

	"go.uber.org/zap"

	"github.com/customeros/mailbot/internal/logger"
	"github.com/customeros/mailbot/internal/models"
)

// LogBot is the bot core used when no broker is configured.
type LogBot struct {
	log logger.Logger
}

func NewLogBot(log logger.Logger) *LogBot {
	return &LogBot{log: log}
}

func (b *LogBot) Receive(_ context.Context, msg models.ChatMessage) error {
	b.log.Info("chat message received",
		zap.String("conversationKey", msg.ConversationKey),
		zap.String("sender", msg.SenderID),
		zap.String("senderName", msg.SenderName),
		zap.Int("bodyLength", len(msg.Body)),
		zap.Time("receivedAt", msg.ReceivedAt))
	return nil
}
