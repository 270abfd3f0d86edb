package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailbot/internal/logger"
	"github.com/customeros/mailbot/internal/models"
)

const botAddress = "bot@example.com"

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true, LogLevel: "debug"})
	appLogger.InitLogger()
	return appLogger
}

func newItem(body string, recipients ...string) models.MailItem {
	return models.MailItem{
		ID:         "INBOX/1/42",
		Subject:    "hello",
		Body:       body,
		Sender:     models.Address{Address: "Alice@Example.org", Name: "Alice"},
		Recipients: recipients,
		ReceivedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestTrimSignature(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"signature after blank line", "Hello\n\nThanks,\nBob", "Hello"},
		{"crlf", "Hello\r\nthere\r\n\r\n--\r\nBob", "Hello\nthere"},
		{"whitespace only line", "deploy now\n   \t\nsent from my phone", "deploy now"},
		{"leading blank lines", "\n\n  status?\n\nBob", "status?"},
		{"no blank line", "  just one line  ", "just one line"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TrimSignature(models.MailItem{}, tt.body))
		})
	}
}

func TestImplicitCommand(t *testing.T) {
	step := ImplicitCommand("Bot", botAddress)

	assert.Equal(t, "Bot, status?", step(newItem("", botAddress), "status?"))
	assert.Equal(t, "Bot, status?", step(newItem("", "BOT@example.com"), "status?"))
	assert.Equal(t, "bot status", step(newItem("", botAddress), "bot status"))
	assert.Equal(t, "BOT, status", step(newItem("", botAddress), "BOT, status"))
	assert.Equal(t, "status?", step(newItem("", botAddress, "carol@example.com"), "status?"))
	assert.Equal(t, "status?", step(newItem("", "carol@example.com"), "status?"))
	assert.Equal(t, "status?", step(newItem(""), "status?"))
}

func TestNormalize_AllSteps(t *testing.T) {
	n := NewNormalizer(Config{BotName: "Bot", BotAddress: botAddress, TrimSignature: true, AllowImplicitCommand: true}, getLogger())

	msg, ok := n.Normalize(newItem("status?\n\nThanks,\nAlice", botAddress))
	require.True(t, ok)

	assert.Equal(t, "INBOX/1/42", msg.ConversationKey)
	assert.Equal(t, "Alice@Example.org", msg.SenderID)
	assert.Equal(t, "Alice", msg.SenderName)
	assert.Equal(t, "Bot, status?", msg.Body)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), msg.ReceivedAt)
}

func TestNormalize_StepsDisabled(t *testing.T) {
	n := NewNormalizer(Config{BotName: "Bot", BotAddress: botAddress}, getLogger())

	msg, ok := n.Normalize(newItem("status?\n\nThanks,\nAlice", botAddress))
	require.True(t, ok)
	assert.Equal(t, "status?\n\nThanks,\nAlice", msg.Body)
}

func TestNormalize_EmptyBodyIsSkipped(t *testing.T) {
	n := NewNormalizer(Config{BotName: "Bot", BotAddress: botAddress, TrimSignature: true, AllowImplicitCommand: true}, getLogger())

	_, ok := n.Normalize(newItem("", botAddress))
	assert.False(t, ok)

	_, ok = n.Normalize(newItem(" \n\t\n", botAddress))
	assert.False(t, ok)
}

func TestNormalize_EmptyBodySkippedWithoutSteps(t *testing.T) {
	n := NewNormalizer(Config{}, getLogger())

	_, ok := n.Normalize(newItem("   "))
	assert.False(t, ok)
}
