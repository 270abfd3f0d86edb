package reply

import (
	"context"
	"strings"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	mailerrors "github.com/customeros/mailbot/internal/errors"
	"github.com/customeros/mailbot/internal/logger"
	"github.com/customeros/mailbot/internal/models"
	"github.com/customeros/mailbot/internal/tracing"
)

// DefaultSeparator is the line break of a plain text mail body.
const DefaultSeparator = "\r\n"

type ConversationLookup interface {
	Lookup(key string) (models.MailItem, bool)
}

// Mailer is the outbound part of the mailbox client.
type Mailer interface {
	ReplyAll(ctx context.Context, original models.MailItem, body string) error
	ComposeAndSend(ctx context.Context, to []string, subject, body string) error
}

type Dispatcher struct {
	log       logger.Logger
	cache     ConversationLookup
	mailer    Mailer
	separator string
}

func NewDispatcher(cache ConversationLookup, mailer Mailer, separator string, log logger.Logger) *Dispatcher {
	if separator == "" {
		separator = DefaultSeparator
	}
	return &Dispatcher{log: log, cache: cache, mailer: mailer, separator: separator}
}

// Send replies to everyone on the original mail thread. Unknown or expired keys are logged and dropped.
func (d *Dispatcher) Send(ctx context.Context, conversationKey string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "ReplyDispatcher.Send")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagConversationKey(span, conversationKey)
	span.LogFields(tracingLog.Int("lines", len(lines)))

	original, ok := d.cache.Lookup(conversationKey)
	if !ok {
		span.LogFields(tracingLog.Bool("cache.hit", false))
		d.log.Warn("reply for unknown or expired conversation dropped", zap.String("conversationKey", conversationKey))
		return nil
	}
	span.LogFields(tracingLog.Bool("cache.hit", true))

	err := d.mailer.ReplyAll(ctx, original, strings.Join(lines, d.separator))
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "reply to conversation %s", conversationKey)
	}
	return nil
}

// Compose starts a new thread, used when the bot talks to someone it has no mail from.
func (d *Dispatcher) Compose(ctx context.Context, to []string, subject string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	if len(to) == 0 {
		return mailerrors.ErrNoRecipients
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "ReplyDispatcher.Compose")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogFields(tracingLog.String("to", strings.Join(to, ",")))

	err := d.mailer.ComposeAndSend(ctx, to, subject, strings.Join(lines, d.separator))
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "compose and send")
	}
	return nil
}
