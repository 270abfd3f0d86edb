package normalizer

import (
	"strings"

	"github.com/customeros/mailsherpa/mailvalidate"
	"go.uber.org/zap"

	"github.com/customeros/mailbot/internal/logger"
	"github.com/customeros/mailbot/internal/models"
	"github.com/customeros/mailbot/internal/utils"
)

type Config struct {
	BotName              string
	BotAddress           string
	TrimSignature        bool
	AllowImplicitCommand bool
}

// Step transforms the body of an item on its way to the bot.
type Step func(item models.MailItem, body string) string

type namedStep struct {
	name string
	fn   Step
}

type Normalizer struct {
	log   logger.Logger
	steps []namedStep
}

func NewNormalizer(cfg Config, log logger.Logger) *Normalizer {
	n := &Normalizer{log: log}
	if cfg.TrimSignature {
		n.steps = append(n.steps, namedStep{name: "trim_signature", fn: TrimSignature})
	}
	if cfg.AllowImplicitCommand {
		n.steps = append(n.steps, namedStep{name: "implicit_command", fn: ImplicitCommand(cfg.BotName, cfg.BotAddress)})
	}
	return n
}

// Normalize converts the item into a chat message. The second result is false when the item must be skipped.
func (n *Normalizer) Normalize(item models.MailItem) (models.ChatMessage, bool) {
	body := item.Body
	for _, step := range n.steps {
		body = step.fn(item, body)
		// an empty body is never prefixed, skip as soon as nothing is left
		if strings.TrimSpace(body) == "" {
			n.log.Debug("skipping mail with empty body",
				zap.String("conversationKey", item.ID),
				zap.String("step", step.name))
			return models.ChatMessage{}, false
		}
	}
	if strings.TrimSpace(body) == "" {
		n.log.Debug("skipping mail with empty body", zap.String("conversationKey", item.ID))
		return models.ChatMessage{}, false
	}

	return models.ChatMessage{
		ConversationKey: item.ID,
		SenderID:        item.Sender.Address,
		SenderName:      item.Sender.Name,
		Body:            body,
		ReceivedAt:      item.ReceivedAt,
	}, true
}

// TrimSignature keeps the first paragraph of the body. Leading blank lines are ignored,
// the first whitespace-only line after them ends the message.
func TrimSignature(_ models.MailItem, body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	lines := strings.Split(body, "\n")

	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	end := start
	for end < len(lines) && strings.TrimSpace(lines[end]) != "" {
		end++
	}
	return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
}

// ImplicitCommand addresses the bot by name when the mail was sent to the bot alone.
func ImplicitCommand(botName, botAddress string) Step {
	botKey := addressKey(botAddress)
	return func(item models.MailItem, body string) string {
		if botKey == "" || len(item.Recipients) != 1 || addressKey(item.Recipients[0]) != botKey {
			return body
		}
		if utils.HasPrefixFold(strings.TrimLeft(body, " \t\r\n"), botName) {
			return body
		}
		return botName + ", " + body
	}
}

func addressKey(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	validation := mailvalidate.ValidateEmailSyntax(address)
	if validation.IsValid && validation.CleanEmail != "" {
		return strings.ToLower(validation.CleanEmail)
	}
	return strings.ToLower(address)
}
