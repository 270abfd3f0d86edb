package handlers

import (
	"net/http"
	"strings"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	apierrors "github.com/customeros/mailbot/api/errors"
	"github.com/customeros/mailbot/dto"
	"github.com/customeros/mailbot/interfaces"
	mailerrors "github.com/customeros/mailbot/internal/errors"
	"github.com/customeros/mailbot/internal/tracing"
)

// PostReply lets the bot core answer over HTTP instead of the replies queue.
// With a conversationKey the lines are sent as reply-all, otherwise as a new mail to "to".
func PostReply(sender interfaces.ReplySender) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "Handlers.PostReply")
		defer span.Finish()
		tracing.TagComponentRest(span)

		var request dto.ReplyRequested
		if err := c.ShouldBindJSON(&request); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		to, validation := validateReply(&request)
		if validation.HasErrors() {
			tracing.TraceErr(span, validation)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": validation.Fields()})
			return
		}

		var err error
		if request.ConversationKey != "" {
			tracing.TagConversationKey(span, request.ConversationKey)
			err = sender.Send(ctx, request.ConversationKey, request.Lines)
		} else {
			err = sender.SendTo(ctx, to, request.Subject, request.Lines)
		}
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	}
}

func validateReply(request *dto.ReplyRequested) ([]string, *apierrors.MultiErrors) {
	validation := apierrors.NewMultiErrors()

	if len(request.Lines) == 0 {
		validation.Add("lines", "at least one line is required", nil)
	}

	if request.ConversationKey != "" {
		if len(request.To) > 0 {
			validation.Add("to", "not allowed together with conversationKey", nil)
		}
		return nil, validation
	}

	if len(request.To) == 0 {
		validation.Add("to", "conversationKey or at least one recipient is required", nil)
	}

	to := make([]string, 0, len(request.To))
	for _, address := range request.To {
		syntax := mailvalidate.ValidateEmailSyntax(strings.TrimSpace(address))
		if !syntax.IsValid {
			validation.Add("to", "invalid email address: "+address, nil)
			continue
		}
		to = append(to, syntax.CleanEmail)
	}
	return to, validation
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, mailerrors.ErrAdapterDisabled), errors.Is(err, mailerrors.ErrMailboxDisconnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, mailerrors.ErrNoRecipients):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
