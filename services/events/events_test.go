package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailbot/dto"
	"github.com/customeros/mailbot/internal/logger"
)

type mockReplySender struct {
	mock.Mock
}

func (m *mockReplySender) Send(ctx context.Context, conversationKey string, lines []string) error {
	return m.Called(ctx, conversationKey, lines).Error(0)
}

func (m *mockReplySender) SendTo(ctx context.Context, to []string, subject string, lines []string) error {
	return m.Called(ctx, to, subject, lines).Error(0)
}

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

// wire round-trips an event the way the broker delivers it, Data becomes a map.
func wire(t *testing.T, event dto.Event) []byte {
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return body
}

func TestGetEventType(t *testing.T) {
	assert.Equal(t, "ReplyRequested", GetEventType[dto.ReplyRequested]())
	assert.Equal(t, "ChatMessageReceived", GetEventType[*dto.ChatMessageReceived]())
}

func TestNewEvent(t *testing.T) {
	span := mocktracer.New().StartSpan("test")
	msg := dto.ChatMessageReceived{ConversationKey: "INBOX/1/7", Body: "mmbot, ping"}

	event := newEvent(span, "INBOX/1/7", &msg)

	assert.Equal(t, "ChatMessageReceived", event.Event.EventType)
	assert.Equal(t, "INBOX/1/7", event.Event.EntityId)
	assert.Regexp(t, "^event_[0-9a-f-]{36}$", event.Event.Id)
	assert.Equal(t, AppSource, event.Metadata.AppSource)
	_, err := time.Parse(time.RFC3339, event.Metadata.Timestamp)
	assert.NoError(t, err)
}

func TestQueueArgs(t *testing.T) {
	args := queueArgs(time.Hour)
	assert.Equal(t, ExchangeDeadLetter, args["x-dead-letter-exchange"])
	assert.Equal(t, int64(3600000), args["x-message-ttl"])
}

func TestReplyListener_ConversationReply(t *testing.T) {
	sender := &mockReplySender{}
	sender.On("Send", mock.Anything, "INBOX/1/7", []string{"pong", "done"}).Return(nil).Once()

	sub := newSubscriber("", getLogger(), SubscriberConfig{})
	sub.RegisterListener(NewReplyRequestedListener(getLogger(), sender))

	body := wire(t, dto.Event{Event: dto.EventDetails{
		Id:        "event_1",
		EventType: "ReplyRequested",
		Data:      dto.ReplyRequested{ConversationKey: "INBOX/1/7", Lines: []string{"pong", "done"}},
	}})

	require.NoError(t, sub.processMessage(body, QueueReplies))
	sender.AssertExpectations(t)
}

func TestReplyListener_NewMessage(t *testing.T) {
	sender := &mockReplySender{}
	to := []string{"ops@example.org"}
	sender.On("SendTo", mock.Anything, to, "deploy", []string{"started"}).Return(nil).Once()

	sub := newSubscriber("", getLogger(), SubscriberConfig{})
	sub.RegisterListener(NewReplyRequestedListener(getLogger(), sender))

	body := wire(t, dto.Event{Event: dto.EventDetails{
		EventType: "ReplyRequested",
		Data:      dto.ReplyRequested{To: to, Subject: "deploy", Lines: []string{"started"}},
	}})

	require.NoError(t, sub.processMessage(body, QueueReplies))
	sender.AssertExpectations(t)
}

func TestReplyListener_SenderErrorIsReturned(t *testing.T) {
	sender := &mockReplySender{}
	sender.On("Send", mock.Anything, "K1", []string{"x"}).Return(errors.New("smtp down"))

	sub := newSubscriber("", getLogger(), SubscriberConfig{})
	sub.RegisterListener(NewReplyRequestedListener(getLogger(), sender))

	body := wire(t, dto.Event{Event: dto.EventDetails{
		EventType: "ReplyRequested",
		Data:      dto.ReplyRequested{ConversationKey: "K1", Lines: []string{"x"}},
	}})

	assert.EqualError(t, sub.processMessage(body, QueueReplies), "smtp down")
}

func TestProcessMessage_UnknownOrMisroutedEventsAreAcked(t *testing.T) {
	sender := &mockReplySender{}
	sub := newSubscriber("", getLogger(), SubscriberConfig{})
	sub.RegisterListener(NewReplyRequestedListener(getLogger(), sender))

	unknown := wire(t, dto.Event{Event: dto.EventDetails{EventType: "Something", Data: map[string]any{}}})
	assert.NoError(t, sub.processMessage(unknown, QueueReplies))

	misrouted := wire(t, dto.Event{Event: dto.EventDetails{
		EventType: "ReplyRequested",
		Data:      dto.ReplyRequested{ConversationKey: "K1"},
	}})
	assert.NoError(t, sub.processMessage(misrouted, QueueChatMessages))

	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessMessage_InvalidJSON(t *testing.T) {
	sub := newSubscriber("", getLogger(), SubscriberConfig{})
	assert.Error(t, sub.processMessage([]byte("{"), QueueReplies))
}

func TestValidateBaseEvent(t *testing.T) {
	base := NewBaseEventListener(getLogger(), "ReplyRequested", QueueReplies)

	_, err := base.ValidateBaseEvent(context.Background(), "not an event")
	assert.Error(t, err)

	_, err = base.ValidateBaseEvent(context.Background(), dto.Event{Event: dto.EventDetails{EventType: "ReplyRequested"}})
	assert.EqualError(t, err, "message data is nil")

	event, err := base.ValidateBaseEvent(context.Background(), dto.Event{Event: dto.EventDetails{EventType: "ReplyRequested", Data: map[string]any{}}})
	require.NoError(t, err)
	assert.Equal(t, "ReplyRequested", event.Event.EventType)
}

func TestSubscriberClose_WithoutConnection(t *testing.T) {
	sub := newSubscriber("", getLogger(), SubscriberConfig{})
	assert.NoError(t, sub.Close())
	assert.NoError(t, sub.Close())
	assert.True(t, sub.isClosed())
}
