package mailbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"

	mailerrors "github.com/customeros/mailbot/internal/errors"
	"github.com/customeros/mailbot/internal/models"
	"github.com/customeros/mailbot/internal/tracing"
	"github.com/customeros/mailbot/internal/utils"
)

const smtpTimeout = time.Minute

type outboundMessage struct {
	From       string
	To         []string
	Cc         []string
	Subject    string
	Body       string
	MessageID  string
	InReplyTo  string
	References []string
	Date       time.Time
}

// ReplyAll answers the sender and every other recipient of original, threaded under it.
func (c *Client) ReplyAll(ctx context.Context, original models.MailItem, body string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxClient.ReplyAll")
	defer span.Finish()
	tracing.SetDefaultMailboxSpanTags(ctx, span, c.address)
	tracing.TagConversationKey(span, original.ID)

	to, cc := replyRecipients(original, c.address)
	if len(to) == 0 {
		tracing.TraceErr(span, mailerrors.ErrNoRecipients)
		return mailerrors.ErrNoRecipients
	}

	msg := outboundMessage{
		From:      c.address,
		To:        to,
		Cc:        cc,
		Subject:   utils.ReplySubject(original.Subject),
		Body:      body,
		MessageID: utils.GenerateMessageID(utils.ExtractDomainFromEmail(c.address), original.ID),
		InReplyTo: original.MessageID,
		Date:      time.Now(),
	}
	if original.MessageID != "" {
		msg.References = append(append([]string{}, original.References...), original.MessageID)
	}

	return c.deliver(ctx, span, msg)
}

// ComposeAndSend starts a new thread.
func (c *Client) ComposeAndSend(ctx context.Context, to []string, subject, body string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxClient.ComposeAndSend")
	defer span.Finish()
	tracing.SetDefaultMailboxSpanTags(ctx, span, c.address)

	to = utils.UniqueEmails(to)
	if len(to) == 0 {
		tracing.TraceErr(span, mailerrors.ErrNoRecipients)
		return mailerrors.ErrNoRecipients
	}

	msg := outboundMessage{
		From:      c.address,
		To:        to,
		Subject:   subject,
		Body:      body,
		MessageID: utils.GenerateMessageID(utils.ExtractDomainFromEmail(c.address), strings.Join(to, ",")),
		Date:      time.Now(),
	}
	return c.deliver(ctx, span, msg)
}

func (c *Client) deliver(ctx context.Context, span opentracing.Span, msg outboundMessage) error {
	span.LogFields(
		tracingLog.String("to", strings.Join(msg.To, ",")),
		tracingLog.String("cc", strings.Join(msg.Cc, ",")),
		tracingLog.String("messageId", msg.MessageID))

	raw, err := buildMessage(msg)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	rcpt := append(append([]string{}, msg.To...), msg.Cc...)
	if err = c.sendMail(ctx, msg.From, rcpt, raw); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "send mail")
	}
	return nil
}

// replyRecipients puts the original sender in To and everyone else in Cc, never the bot itself.
func replyRecipients(original models.MailItem, self string) (to, cc []string) {
	seen := map[string]bool{strings.ToLower(self): true}
	add := func(list []string, addr string) []string {
		addr = strings.TrimSpace(addr)
		key := strings.ToLower(addr)
		if addr == "" || seen[key] {
			return list
		}
		seen[key] = true
		return append(list, addr)
	}

	to = add(to, original.Sender.Address)
	for _, r := range original.Recipients {
		cc = add(cc, r)
	}
	for _, r := range original.Cc {
		cc = add(cc, r)
	}
	// a mail the bot sent to itself still needs somewhere to go
	if len(to) == 0 && len(cc) > 0 {
		to, cc = cc[:1], cc[1:]
	}
	return to, cc
}

func buildMessage(msg outboundMessage) ([]byte, error) {
	var h mail.Header
	h.SetDate(msg.Date)
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", []*mail.Address{{Address: msg.From}})
	h.SetAddressList("To", toAddresses(msg.To))
	if len(msg.Cc) > 0 {
		h.SetAddressList("Cc", toAddresses(msg.Cc))
	}
	if id := utils.NormalizeMessageID(msg.MessageID); id != "" {
		h.SetMessageID(id)
	}
	if id := utils.NormalizeMessageID(msg.InReplyTo); id != "" {
		h.SetMsgIDList("In-Reply-To", []string{id})
	}
	if len(msg.References) > 0 {
		h.SetMsgIDList("References", msg.References)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, errors.Wrap(err, "create message writer")
	}
	if _, err = w.Write([]byte(msg.Body)); err != nil {
		return nil, errors.Wrap(err, "write message body")
	}
	if err = w.Close(); err != nil {
		return nil, errors.Wrap(err, "close message writer")
	}
	return buf.Bytes(), nil
}

func toAddresses(list []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(list))
	for _, a := range list {
		out = append(out, &mail.Address{Address: a})
	}
	return out
}

func (c *Client) sendSMTP(ctx context.Context, from string, to []string, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tlsConfig := &tls.Config{ServerName: c.smtp.Host}
	var sc *smtp.Client
	var err error
	if c.smtp.ImplicitTLS {
		sc, err = smtp.DialTLS(c.smtp.Addr(), tlsConfig)
	} else {
		sc, err = smtp.DialStartTLS(c.smtp.Addr(), tlsConfig)
	}
	if err != nil {
		return errors.Wrapf(err, "connect to %s", c.smtp.Addr())
	}
	defer sc.Close()

	sc.CommandTimeout = smtpTimeout
	sc.SubmissionTimeout = smtpTimeout

	if ok, _ := sc.Extension("AUTH"); ok {
		if err = sc.Auth(sasl.NewPlainClient("", c.address, c.password)); err != nil {
			return errors.Wrap(err, "smtp auth")
		}
	}
	if err = sc.SendMail(from, to, bytes.NewReader(msg)); err != nil {
		return err
	}
	return sc.Quit()
}
