package mailbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/customeros/mailbot/interfaces"
	"github.com/customeros/mailbot/internal/enum"
	mailerrors "github.com/customeros/mailbot/internal/errors"
	"github.com/customeros/mailbot/internal/logger"
	"github.com/customeros/mailbot/internal/tracing"
)

const (
	defaultSubscriptionLifetime = 25 * time.Minute
	// servers drop IDLE after 30 minutes, re-issue well before
	idleRestartInterval = 20 * time.Minute
	// used by go-imap when the server lacks IDLE
	idlePollInterval = time.Minute
	closeTimeout     = 10 * time.Second
)

// Subscribe watches folder for new mail on a dedicated IDLE connection.
func (c *Client) Subscribe(ctx context.Context, folder string, kinds []enum.MailEventKind, handler interfaces.SubscriptionHandler) (interfaces.Subscription, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "MailboxClient.Subscribe")
	defer span.Finish()
	tracing.SetDefaultMailboxSpanTags(ctx, span, c.address)
	span.SetTag("folder", folder)

	if !wantsNewMail(kinds) {
		err := errors.New("only new mail subscriptions are supported")
		tracing.TraceErr(span, err)
		return nil, err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	status, err := conn.Select(folder, true)
	if err != nil {
		conn.Terminate()
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "select %s", folder)
	}

	updates := make(chan client.Update, 64)
	conn.Updates = updates

	sub := &idleSubscription{
		log:         c.log.With(zap.String("folder", folder)),
		conn:        conn,
		folder:      folder,
		uidValidity: status.UidValidity,
		handler:     handler,
		lifetime:    c.cfg.SubscriptionLifetime,
		updates:     updates,
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
	}
	if status.UidNext > 0 {
		sub.lastUID = status.UidNext - 1
	}
	if sub.lifetime <= 0 {
		sub.lifetime = defaultSubscriptionLifetime
	}

	go sub.run(ctx)
	return sub, nil
}

func wantsNewMail(kinds []enum.MailEventKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == enum.MailEventNewMail {
			return true
		}
	}
	return false
}

type idleSubscription struct {
	log         logger.Logger
	conn        *client.Client
	folder      string
	uidValidity uint32
	lastUID     uint32
	handler     interfaces.SubscriptionHandler
	lifetime    time.Duration
	updates     chan client.Update

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

// Close stops the subscription and waits for OnDisconnect to have been delivered.
func (s *idleSubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
	})

	select {
	case <-s.done:
		return nil
	case <-time.After(closeTimeout):
		s.conn.Terminate()
		return mailerrors.ErrConnectionTimeout
	}
}

func (s *idleSubscription) run(ctx context.Context) {
	var endErr error
	defer func() {
		// keep the client reader from blocking on updates during logout
		stopDrain := make(chan struct{})
		go func() {
			for {
				select {
				case <-s.updates:
				case <-stopDrain:
					return
				}
			}
		}()
		logout(s.conn, s.log)
		close(stopDrain)

		s.handler.OnDisconnect(endErr)
		close(s.done)
	}()
	defer tracing.RecoverAndLogToJaeger(s.log)

	expired := time.NewTimer(s.lifetime)
	defer expired.Stop()

	for {
		stop := make(chan struct{})
		idleDone := make(chan error, 1)
		go func() {
			idleDone <- s.conn.Idle(stop, &client.IdleOptions{
				LogoutTimeout: idleRestartInterval,
				PollInterval:  idlePollInterval,
			})
		}()

		newMail, finished, err := s.wait(ctx, expired.C, idleDone)
		if !finished {
			close(stop)
			if idleErr := <-idleDone; newMail && idleErr != nil {
				err = idleErr
			}
		}
		if err != nil || !newMail {
			endErr = err
			return
		}

		ids, err := s.searchNew()
		if err != nil {
			endErr = err
			return
		}
		if len(ids) > 0 {
			s.handler.OnNotification(ids)
		}
	}
}

// wait blocks until new mail shows up or the subscription has to end.
// finished reports that the IDLE command already returned.
func (s *idleSubscription) wait(ctx context.Context, expired <-chan time.Time, idleDone <-chan error) (newMail, finished bool, err error) {
	for {
		select {
		case <-s.closing:
			return false, false, nil
		case <-expired:
			s.log.Debug("subscription lifetime reached")
			return false, false, nil
		case <-ctx.Done():
			return false, false, ctx.Err()
		case err := <-idleDone:
			if err == nil {
				err = mailerrors.ErrSubscriptionClosed
			}
			return false, true, err
		case update := <-s.updates:
			if _, ok := update.(*client.MailboxUpdate); ok {
				return true, false, nil
			}
		}
	}
}

func (s *idleSubscription) searchNew() ([]string, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(s.lastUID+1, 0)

	s.conn.Timeout = commandTimeout
	uids, err := s.conn.UidSearch(criteria)
	s.conn.Timeout = 0
	if err != nil {
		return nil, errors.Wrap(err, "search new messages")
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	var ids []string
	for _, uid := range uids {
		// n:* matches the highest uid even when it is below n
		if uid <= s.lastUID {
			continue
		}
		ids = append(ids, itemRef{Folder: s.folder, UidValidity: s.uidValidity, Uid: uid}.String())
		s.lastUID = uid
	}
	return ids, nil
}
