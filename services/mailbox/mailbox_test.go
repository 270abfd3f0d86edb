package mailbox

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailbot/interfaces"
	mailerrors "github.com/customeros/mailbot/internal/errors"
	"github.com/customeros/mailbot/internal/logger"
	"github.com/customeros/mailbot/internal/models"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

func TestParseIMAPEndpoint(t *testing.T) {
	tests := []struct {
		raw  string
		want Endpoint
	}{
		{"imaps://mail.example.com", Endpoint{Host: "mail.example.com", Port: 993, ImplicitTLS: true}},
		{"imap://mail.example.com", Endpoint{Host: "mail.example.com", Port: 143}},
		{"imaps://mail.example.com:1993", Endpoint{Host: "mail.example.com", Port: 1993, ImplicitTLS: true}},
		{"mail.example.com", Endpoint{Host: "mail.example.com", Port: 993, ImplicitTLS: true}},
		{"IMAPS://mail.example.com:993", Endpoint{Host: "mail.example.com", Port: 993, ImplicitTLS: true}},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseIMAPEndpoint(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "https://mail.example.com", "imaps://:993", "imaps://host:99999"} {
		_, err := ParseIMAPEndpoint(bad)
		assert.ErrorIs(t, err, mailerrors.ErrInvalidMailboxURL, bad)
	}
}

func TestParseSMTPEndpoint(t *testing.T) {
	got, err := ParseSMTPEndpoint("smtp://smtp.example.com")
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Host: "smtp.example.com", Port: 587}, got)
	assert.Equal(t, "smtp.example.com:587", got.Addr())

	got, err = ParseSMTPEndpoint("smtps://smtp.example.com")
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Host: "smtp.example.com", Port: 465, ImplicitTLS: true}, got)
}

type fakeResolver map[string][]*net.SRV

func (f fakeResolver) LookupSRV(_ context.Context, service, proto, name string) (string, []*net.SRV, error) {
	records, ok := f["_"+service+"._"+proto+"."+name]
	if !ok {
		return "", nil, errors.New("no such host")
	}
	return "", records, nil
}

func TestDiscover(t *testing.T) {
	resolver := fakeResolver{
		"_imaps._tcp.example.com": {
			{Target: "backup.example.com.", Port: 993, Priority: 20},
			{Target: "imap.mx.example.com.", Port: 993, Priority: 10},
		},
		"_submissions._tcp.example.com": {{Target: ".", Port: 0}},
		"_submission._tcp.example.com":  {{Target: "submit.example.com.", Port: 587}},
	}

	e, err := discover(context.Background(), resolver, "bot@example.com", imapProtocol)
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Host: "imap.mx.example.com", Port: 993, ImplicitTLS: true}, e)

	e, err = discover(context.Background(), resolver, "bot@example.com", smtpProtocol)
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Host: "submit.example.com", Port: 587}, e)

	e, err = discover(context.Background(), resolver, "bot@other.org", imapProtocol)
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Host: "imap.other.org", Port: 993, ImplicitTLS: true}, e)

	_, err = discover(context.Background(), resolver, "not-an-address", imapProtocol)
	assert.ErrorIs(t, err, mailerrors.ErrInvalidMailboxURL)
}

func TestResolveEndpoint_PrefersConfiguredURL(t *testing.T) {
	e, err := resolveEndpoint(context.Background(), fakeResolver{}, "imap://localhost:1143", "bot@example.com", imapProtocol)
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Host: "localhost", Port: 1143}, e)
}

func TestItemID(t *testing.T) {
	ref := itemRef{Folder: "Archive/2024", UidValidity: 1700000000, Uid: 42}
	assert.Equal(t, "Archive/2024/1700000000/42", ref.String())

	parsed, err := parseItemID(ref.String())
	require.NoError(t, err)
	assert.Equal(t, ref, parsed)

	for _, bad := range []string{"", "42", "INBOX/42", "INBOX/x/42", "INBOX/1/0", "/1/2"} {
		_, err := parseItemID(bad)
		assert.ErrorIs(t, err, mailerrors.ErrInvalidMailItemID, bad)
	}
}

const rawMultipart = "From: Alice <alice@example.org>\r\n" +
	"To: bot@example.com\r\n" +
	"Subject: status\r\n" +
	"Message-ID: <m2@example.org>\r\n" +
	"References: <m0@example.org> <m1@example.org>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"status?\r\n" +
	"\r\n" +
	"Thanks,\r\n" +
	"Alice\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>status?</p><p>Thanks,<br>Alice</p>\r\n" +
	"--XYZ--\r\n"

func TestToMailItem(t *testing.T) {
	received := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	msg := &imap.Message{
		Uid:          42,
		InternalDate: received,
		Envelope: &imap.Envelope{
			Subject:   "status",
			MessageId: "<m2@example.org>",
			From:      []*imap.Address{{PersonalName: "Alice", MailboxName: "alice", HostName: "example.org"}},
			To:        []*imap.Address{{MailboxName: "bot", HostName: "example.com"}},
			Cc:        []*imap.Address{{MailboxName: "carol", HostName: "example.org"}, {MailboxName: "group"}},
		},
		Body: map[*imap.BodySectionName]imap.Literal{
			{}: bytes.NewBufferString(rawMultipart),
		},
	}

	item, err := toMailItem("INBOX", 7, msg)
	require.NoError(t, err)

	assert.Equal(t, "INBOX/7/42", item.ID)
	assert.Equal(t, "INBOX", item.Folder)
	assert.Equal(t, "status", item.Subject)
	assert.Equal(t, "m2@example.org", item.MessageID)
	assert.Equal(t, []string{"m0@example.org", "m1@example.org"}, item.References)
	assert.Equal(t, models.Address{Address: "alice@example.org", Name: "Alice"}, item.Sender)
	assert.Equal(t, []string{"bot@example.com"}, item.Recipients)
	assert.Equal(t, []string{"carol@example.org"}, item.Cc)
	assert.Equal(t, received, item.ReceivedAt)
	assert.Equal(t, "status?\n\nThanks,\nAlice", strings.TrimSpace(strings.ReplaceAll(item.Body, "\r\n", "\n")))
}

func TestToMailItem_WithoutEnvelopeUsesHeaders(t *testing.T) {
	raw := "From: Bob <bob@example.org>\r\nTo: bot@example.com\r\nSubject: ping\r\nMessage-ID: <p@example.org>\r\n\r\nping\r\n"
	msg := &imap.Message{
		Uid:  3,
		Body: map[*imap.BodySectionName]imap.Literal{{}: bytes.NewBufferString(raw)},
	}

	item, err := toMailItem("INBOX", 1, msg)
	require.NoError(t, err)

	assert.Equal(t, "ping", item.Subject)
	assert.Equal(t, "p@example.org", item.MessageID)
	assert.Equal(t, "bob@example.org", item.Sender.Address)
	assert.Equal(t, []string{"bot@example.com"}, item.Recipients)
}

func TestToMailItem_RequiresUid(t *testing.T) {
	_, err := toMailItem("INBOX", 1, &imap.Message{})
	assert.Error(t, err)
}

func TestHtmlToText(t *testing.T) {
	text := htmlToText("<html><head><style>p{}</style></head><body><p>deploy</p><div>now<br>please</div></body></html>")
	assert.Equal(t, "deploy\nnow\nplease", text)
}

func TestSelectNewest(t *testing.T) {
	since := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	messages := []*imap.Message{
		{Uid: 1, InternalDate: since.Add(-time.Minute)},
		{Uid: 4, InternalDate: since.Add(3 * time.Minute)},
		{Uid: 2, InternalDate: since},
		{Uid: 3, InternalDate: since.Add(time.Minute)},
		{Uid: 5, InternalDate: since.Add(2 * time.Minute)},
	}

	assert.Equal(t, []uint32{3, 5, 4}, selectNewest(messages, since, 10))
	assert.Equal(t, []uint32{5, 4}, selectNewest(messages, since, 2))
	assert.Empty(t, selectNewest(messages, since.Add(time.Hour), 10))
}

func TestReplyRecipients(t *testing.T) {
	original := models.MailItem{
		Sender:     models.Address{Address: "alice@example.org"},
		Recipients: []string{"BOT@example.com", "carol@example.org"},
		Cc:         []string{"dave@example.org", "alice@example.org"},
	}

	to, cc := replyRecipients(original, "bot@example.com")
	assert.Equal(t, []string{"alice@example.org"}, to)
	assert.Equal(t, []string{"carol@example.org", "dave@example.org"}, cc)

	to, cc = replyRecipients(models.MailItem{Sender: models.Address{Address: "bot@example.com"}, Recipients: []string{"x@example.org", "y@example.org"}}, "bot@example.com")
	assert.Equal(t, []string{"x@example.org"}, to)
	assert.Equal(t, []string{"y@example.org"}, cc)
}

type capturedMail struct {
	from string
	to   []string
	raw  []byte
}

func newSendingClient(captured *[]capturedMail, sendErr error) *Client {
	c := &Client{log: getLogger(), address: "bot@example.com"}
	c.sendMail = func(_ context.Context, from string, to []string, msg []byte) error {
		*captured = append(*captured, capturedMail{from: from, to: to, raw: msg})
		return sendErr
	}
	return c
}

func TestReplyAll_ThreadsUnderOriginal(t *testing.T) {
	var sent []capturedMail
	c := newSendingClient(&sent, nil)

	original := models.MailItem{
		ID:         "INBOX/7/42",
		Subject:    "Re: status",
		MessageID:  "m2@example.org",
		References: []string{"m0@example.org"},
		Sender:     models.Address{Address: "alice@example.org"},
		Recipients: []string{"bot@example.com", "carol@example.org"},
	}
	require.NoError(t, c.ReplyAll(context.Background(), original, "all green\r\nno alerts"))
	require.Len(t, sent, 1)

	assert.Equal(t, "bot@example.com", sent[0].from)
	assert.Equal(t, []string{"alice@example.org", "carol@example.org"}, sent[0].to)

	env, err := enmime.ReadEnvelope(bytes.NewReader(sent[0].raw))
	require.NoError(t, err)
	assert.Equal(t, "Re: status", env.GetHeader("Subject"))
	assert.Equal(t, "<m2@example.org>", env.GetHeader("In-Reply-To"))
	assert.Equal(t, "<m0@example.org> <m2@example.org>", env.GetHeader("References"))
	assert.Contains(t, env.GetHeader("Message-Id"), "@example.com>")
	assert.Contains(t, env.GetHeader("To"), "alice@example.org")
	assert.Contains(t, env.GetHeader("Cc"), "carol@example.org")
	assert.Equal(t, "all green\nno alerts", strings.TrimSpace(strings.ReplaceAll(env.Text, "\r\n", "\n")))
}

func TestReplyAll_SendFailure(t *testing.T) {
	var sent []capturedMail
	c := newSendingClient(&sent, errors.New("451 try again later"))

	err := c.ReplyAll(context.Background(), models.MailItem{Sender: models.Address{Address: "alice@example.org"}}, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "451")
}

func TestComposeAndSend(t *testing.T) {
	var sent []capturedMail
	c := newSendingClient(&sent, nil)

	require.NoError(t, c.ComposeAndSend(context.Background(), []string{"dave@example.org", "Dave@example.org"}, "weekly report", "done"))
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"dave@example.org"}, sent[0].to)

	env, err := enmime.ReadEnvelope(bytes.NewReader(sent[0].raw))
	require.NoError(t, err)
	assert.Equal(t, "weekly report", env.GetHeader("Subject"))
	assert.Empty(t, env.GetHeader("In-Reply-To"))

	assert.ErrorIs(t, c.ComposeAndSend(context.Background(), nil, "s", "b"), mailerrors.ErrNoRecipients)
}

func TestConnect_RequiresCredentials(t *testing.T) {
	connector := NewConnector(Config{}, getLogger())

	_, err := connector.Connect(context.Background(), interfacesCredentials("", "secret"))
	assert.ErrorIs(t, err, mailerrors.ErrMailboxNotConfigured)
}

func interfacesCredentials(address, credential string) interfaces.MailboxCredentials {
	return interfaces.MailboxCredentials{Address: address, Credential: credential}
}
