package mailbox

import (
	"context"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/customeros/mailbot/internal/models"
	"github.com/customeros/mailbot/internal/tracing"
)

// PollSince returns at most limit items received strictly after since, oldest first.
// When more arrived, the most recent ones are returned.
func (c *Client) PollSince(ctx context.Context, folder string, since time.Time, limit int) ([]models.MailItem, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxClient.PollSince")
	defer span.Finish()
	tracing.SetDefaultMailboxSpanTags(ctx, span, c.address)
	span.LogFields(tracingLog.String("folder", folder), tracingLog.String("since", since.Format(time.RFC3339)), tracingLog.Int("limit", limit))

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connectionLocked(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	status, err := conn.Select(folder, true)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "select %s", folder)
	}

	// SEARCH SINCE has day granularity, the exact cut happens on INTERNALDATE below
	criteria := imap.NewSearchCriteria()
	criteria.Since = since.AddDate(0, 0, -1)
	conn.Timeout = commandTimeout
	uids, err := conn.UidSearch(criteria)
	conn.Timeout = 0
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "search new messages")
	}
	span.LogFields(tracingLog.Int("candidates", len(uids)))
	if len(uids) == 0 {
		return nil, nil
	}

	dated, err := fetchMessages(conn, uids, dateItems)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "fetch internal dates")
	}
	selected := selectNewest(dated, since, limit)
	if len(selected) == 0 {
		return nil, nil
	}

	messages, err := fetchMessages(conn, selected, fetchItems)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "fetch messages")
	}

	items := make([]models.MailItem, 0, len(messages))
	for _, msg := range messages {
		item, err := toMailItem(folder, status.UidValidity, msg)
		if err != nil {
			c.log.Warn("skipping unreadable message", zap.Uint32("uid", msg.Uid), zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	sortByReceived(items)
	span.LogFields(tracingLog.Int("items", len(items)))
	return items, nil
}

// selectNewest keeps uids of messages received after since, capped to the limit most recent.
func selectNewest(messages []*imap.Message, since time.Time, limit int) []uint32 {
	fresh := make([]*imap.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.InternalDate.After(since) {
			fresh = append(fresh, msg)
		}
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].InternalDate.Before(fresh[j].InternalDate)
	})
	if limit > 0 && len(fresh) > limit {
		fresh = fresh[len(fresh)-limit:]
	}

	uids := make([]uint32, 0, len(fresh))
	for _, msg := range fresh {
		uids = append(uids, msg.Uid)
	}
	return uids
}

func sortByReceived(items []models.MailItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ReceivedAt.Before(items[j].ReceivedAt)
	})
}

// fetchMessages runs a UID FETCH and collects the results, the folder must be selected.
func fetchMessages(conn *client.Client, uids []uint32, items []imap.FetchItem) ([]*imap.Message, error) {
	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	conn.Timeout = commandTimeout
	go func() {
		done <- conn.UidFetch(seqSet, items, messages)
	}()

	var result []*imap.Message
	for msg := range messages {
		result = append(result, msg)
	}
	err := <-done
	conn.Timeout = 0
	return result, err
}
