package mailbox

import (
	"bytes"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"
	"github.com/pkg/errors"
	"golang.org/x/net/html"

	"github.com/customeros/mailbot/internal/models"
	"github.com/customeros/mailbot/internal/utils"
)

var (
	bodySection = &imap.BodySectionName{Peek: true}

	fetchItems = []imap.FetchItem{
		imap.FetchUid,
		imap.FetchInternalDate,
		imap.FetchEnvelope,
		bodySection.FetchItem(),
	}

	dateItems = []imap.FetchItem{
		imap.FetchUid,
		imap.FetchInternalDate,
	}
)

// toMailItem converts a fetched message. The envelope is authoritative for
// addressing, the raw body is parsed with enmime for the text content.
func toMailItem(folder string, uidValidity uint32, msg *imap.Message) (models.MailItem, error) {
	if msg == nil || msg.Uid == 0 {
		return models.MailItem{}, errors.New("message without uid")
	}

	item := models.MailItem{
		ID:         itemRef{Folder: folder, UidValidity: uidValidity, Uid: msg.Uid}.String(),
		Folder:     folder,
		ReceivedAt: msg.InternalDate,
	}

	if env := msg.Envelope; env != nil {
		item.Subject = env.Subject
		item.MessageID = utils.NormalizeMessageID(env.MessageId)
		if len(env.From) > 0 && env.From[0] != nil {
			item.Sender = models.Address{Address: env.From[0].Address(), Name: env.From[0].PersonalName}
		}
		item.Recipients = addressList(env.To)
		item.Cc = addressList(env.Cc)
		if item.ReceivedAt.IsZero() {
			item.ReceivedAt = env.Date
		}
	}

	if literal := msg.GetBody(bodySection); literal != nil {
		raw, err := io.ReadAll(literal)
		if err != nil {
			return models.MailItem{}, errors.Wrap(err, "read message body")
		}
		if err = applyRawMessage(&item, raw); err != nil {
			return models.MailItem{}, err
		}
	}

	return item, nil
}

// applyRawMessage fills the body and threading data from the RFC 5322 source.
func applyRawMessage(item *models.MailItem, raw []byte) error {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return errors.Wrap(err, "parse message")
	}

	item.Body = env.Text
	if strings.TrimSpace(item.Body) == "" && env.HTML != "" {
		// enmime down-converts html only parts into Text, this covers the odd case it leaves it empty
		item.Body = htmlToText(env.HTML)
	}

	if item.Subject == "" {
		item.Subject = env.GetHeader("Subject")
	}
	if item.MessageID == "" {
		item.MessageID = utils.NormalizeMessageID(env.GetHeader("Message-ID"))
	}
	if item.Sender.Address == "" {
		if from, err := env.AddressList("From"); err == nil && len(from) > 0 {
			item.Sender = models.Address{Address: from[0].Address, Name: from[0].Name}
		}
	}
	if len(item.Recipients) == 0 {
		if to, err := env.AddressList("To"); err == nil {
			for _, a := range to {
				item.Recipients = append(item.Recipients, a.Address)
			}
		}
	}
	item.References = utils.ParseReferences(env.GetHeader("References"))
	return nil
}

func addressList(addresses []*imap.Address) []string {
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if addr == nil || addr.MailboxName == "" || addr.HostName == "" {
			continue
		}
		validation := mailvalidate.ValidateEmailSyntax(addr.Address())
		if validation.IsValid && validation.CleanEmail != "" {
			result = append(result, validation.CleanEmail)
		} else {
			result = append(result, addr.Address())
		}
	}
	return result
}

func htmlToText(source string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return ""
	}
	doc.Find("script,style,head").Remove()
	doc.Find("br,p,div,li,tr,h1,h2,h3").Each(func(_ int, sel *goquery.Selection) {
		sel.AfterNodes(&html.Node{Type: html.TextNode, Data: "\n"})
	})
	lines := strings.Split(doc.Text(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
