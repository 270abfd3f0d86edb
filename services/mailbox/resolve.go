package mailbox

import (
	"context"
	"strings"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/customeros/mailbot/internal/models"
	"github.com/customeros/mailbot/internal/tracing"
)

// Resolve loads the items behind the given ids. Ids that no longer exist, or
// belong to an older UIDVALIDITY, are skipped.
func (c *Client) Resolve(ctx context.Context, ids []string) ([]models.MailItem, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxClient.Resolve")
	defer span.Finish()
	tracing.SetDefaultMailboxSpanTags(ctx, span, c.address)
	span.LogFields(tracingLog.String("ids", strings.Join(ids, ",")))

	byFolder := make(map[string][]itemRef)
	var folders []string
	for _, id := range ids {
		ref, err := parseItemID(id)
		if err != nil {
			c.log.Warn("ignoring malformed mail id", zap.String("id", id))
			continue
		}
		if _, ok := byFolder[ref.Folder]; !ok {
			folders = append(folders, ref.Folder)
		}
		byFolder[ref.Folder] = append(byFolder[ref.Folder], ref)
	}
	if len(folders) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connectionLocked(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	var items []models.MailItem
	for _, folder := range folders {
		status, err := conn.Select(folder, true)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, errors.Wrapf(err, "select %s", folder)
		}

		var uids []uint32
		for _, ref := range byFolder[folder] {
			if ref.UidValidity != status.UidValidity {
				c.log.Warn("uid validity changed, dropping mail id", zap.String("id", ref.String()))
				continue
			}
			uids = append(uids, ref.Uid)
		}
		if len(uids) == 0 {
			continue
		}

		messages, err := fetchMessages(conn, uids, fetchItems)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, errors.Wrap(err, "fetch messages")
		}
		for _, msg := range messages {
			item, err := toMailItem(folder, status.UidValidity, msg)
			if err != nil {
				c.log.Warn("skipping unreadable message", zap.Uint32("uid", msg.Uid), zap.Error(err))
				continue
			}
			items = append(items, item)
		}
	}

	sortByReceived(items)
	span.LogFields(tracingLog.Int("items", len(items)))
	return items, nil
}
