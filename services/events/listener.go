package events

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailbot/dto"
	"github.com/customeros/mailbot/interfaces"
	"github.com/customeros/mailbot/internal/logger"
	"github.com/customeros/mailbot/internal/tracing"
)

// BaseEventListener provides common functionality for all listeners
type BaseEventListener struct {
	logger    logger.Logger
	eventType string
	queueName string
}

func NewBaseEventListener(logger logger.Logger, eventType, queueName string) BaseEventListener {
	return BaseEventListener{
		logger:    logger,
		eventType: eventType,
		queueName: queueName,
	}
}

func (b BaseEventListener) GetEventType() string {
	return b.eventType
}

func (b BaseEventListener) GetQueueName() string {
	return b.queueName
}

func (b BaseEventListener) ValidateBaseEvent(ctx context.Context, input any) (*dto.Event, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "Events.ValidateEvent")
	defer span.Finish()
	tracing.TagComponentListener(span)

	message, ok := input.(dto.Event)
	if !ok {
		err := errors.New("unable to cast to event type")
		tracing.TraceErr(span, err)
		return nil, err
	}

	if message.Event.Data == nil {
		err := errors.New("message data is nil")
		tracing.TraceErr(span, err)
		return nil, err
	}

	if message.Event.EventType == "" {
		err := errors.New("event type is empty")
		tracing.TraceErr(span, err)
		return nil, err
	}

	return &message, nil
}

func DecodeEventData[T any](ctx context.Context, event *dto.Event) (T, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "Listener.DecodeEventData")
	defer span.Finish()

	var decoded T

	data, ok := event.Event.Data.(map[string]interface{})
	if !ok {
		err := errors.New("failed to cast event data to map[string]interface{}")
		tracing.TraceErr(span, err)
		return decoded, err
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		tracing.TraceErr(span, err)
		return decoded, err
	}

	err = json.Unmarshal(jsonBytes, &decoded)
	if err != nil {
		tracing.TraceErr(span, err)
		return decoded, err
	}

	return decoded, nil
}

func GetEventType[T any]() string {
	var t T
	eventType := reflect.TypeOf(t)
	if eventType.Kind() == reflect.Ptr {
		eventType = eventType.Elem()
	}
	return eventType.Name()
}

// ReplyRequestedListener routes bot responses from the replies queue to the mailbox.
type ReplyRequestedListener struct {
	BaseEventListener
	sender interfaces.ReplySender
}

func NewReplyRequestedListener(log logger.Logger, sender interfaces.ReplySender) *ReplyRequestedListener {
	return &ReplyRequestedListener{
		BaseEventListener: NewBaseEventListener(log, GetEventType[dto.ReplyRequested](), QueueReplies),
		sender:            sender,
	}
}

func (l *ReplyRequestedListener) Handle(ctx context.Context, input any) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ReplyRequestedListener.Handle")
	defer span.Finish()
	tracing.TagComponentListener(span)

	event, err := l.ValidateBaseEvent(ctx, input)
	if err != nil {
		return err
	}

	reply, err := DecodeEventData[dto.ReplyRequested](ctx, event)
	if err != nil {
		return errors.Wrap(err, "decode reply request")
	}

	if reply.ConversationKey != "" {
		tracing.TagConversationKey(span, reply.ConversationKey)
		err = l.sender.Send(ctx, reply.ConversationKey, reply.Lines)
	} else {
		err = l.sender.SendTo(ctx, reply.To, reply.Subject, reply.Lines)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		l.logger.Errorf("Failed to deliver reply for event %s: %v", event.Event.Id, err)
		return err
	}
	return nil
}
