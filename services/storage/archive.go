package storage

import (
	"context"
	"encoding/json"
	"path"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailbot/interfaces"
	"github.com/customeros/mailbot/internal/models"
	"github.com/customeros/mailbot/internal/tracing"
)

const archiveContentType = "application/json"

// MailArchiver writes accepted mail as JSON documents, one object per conversation key.
type MailArchiver struct {
	store   interfaces.StorageService
	prefix  string
	mailbox string
}

func NewMailArchiver(store interfaces.StorageService, prefix, mailbox string) *MailArchiver {
	return &MailArchiver{
		store:   store,
		prefix:  strings.Trim(prefix, "/"),
		mailbox: strings.ToLower(strings.TrimSpace(mailbox)),
	}
}

func (m *MailArchiver) Archive(ctx context.Context, item models.MailItem) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailArchiver.Archive")
	defer span.Finish()
	tracing.TagConversationKey(span, item.ID)

	data, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "marshal mail item")
	}
	key := m.Key(item)
	if err := m.store.Upload(ctx, key, data, archiveContentType); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(err, "archive %s", key)
	}
	return nil
}

// Load reads an archived mail back by conversation key and receive date.
func (m *MailArchiver) Load(ctx context.Context, item models.MailItem) (models.MailItem, error) {
	data, err := m.store.Download(ctx, m.Key(item))
	if err != nil {
		return models.MailItem{}, err
	}
	var out models.MailItem
	if err := json.Unmarshal(data, &out); err != nil {
		return models.MailItem{}, errors.Wrap(err, "unmarshal archived mail")
	}
	return out, nil
}

// Key is <prefix>/<mailbox>/<yyyy>/<mm>/<dd>/<conversation key>.json, with
// the slashes of the conversation key flattened.
func (m *MailArchiver) Key(item models.MailItem) string {
	id := strings.NewReplacer("/", "_", " ", "_").Replace(item.ID)
	date := item.ReceivedAt.UTC().Format("2006/01/02")
	return path.Join(m.prefix, m.mailbox, date, id+".json")
}
