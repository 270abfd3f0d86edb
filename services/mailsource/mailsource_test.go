package mailsource

import (
	"context"
	"sync"
	"time"

	"github.com/customeros/mailbot/interfaces"
	"github.com/customeros/mailbot/internal/enum"
	"github.com/customeros/mailbot/internal/logger"
	"github.com/customeros/mailbot/internal/models"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu    sync.Mutex
	items []models.MailItem
}

func (r *recordingSink) sink(_ context.Context, items []models.MailItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, items...)
}

func (r *recordingSink) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.items))
	for _, item := range r.items {
		ids = append(ids, item.ID)
	}
	return ids
}

type memoryCheckpoints struct {
	mu    sync.Mutex
	saved map[string]time.Time
}

func newMemoryCheckpoints() *memoryCheckpoints {
	return &memoryCheckpoints{saved: map[string]time.Time{}}
}

func (m *memoryCheckpoints) GetCheckpoint(_ context.Context, mailbox, folder string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.saved[mailbox+"/"+folder]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (m *memoryCheckpoints) SaveCheckpoint(_ context.Context, mailbox, folder string, checkpoint time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[mailbox+"/"+folder] = checkpoint
	return nil
}

func (m *memoryCheckpoints) DeleteCheckpoint(_ context.Context, mailbox, folder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, mailbox+"/"+folder)
	return nil
}

// fakeMailbox serves PollSince from a fixed list of items, like a server side "received after" filter.
type fakeMailbox struct {
	mu       sync.Mutex
	items    []models.MailItem
	pollErr  error
	calls    []time.Time
	limits   []int
	resolved [][]string

	subscribeErr error
	handlers     []interfaces.SubscriptionHandler
	subs         []*fakeSubscription
}

func (f *fakeMailbox) PollSince(_ context.Context, _ string, since time.Time, limit int) ([]models.MailItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, since)
	f.limits = append(f.limits, limit)
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	var out []models.MailItem
	for _, item := range f.items {
		if item.ReceivedAt.After(since) {
			out = append(out, item)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeMailbox) Resolve(_ context.Context, ids []string) ([]models.MailItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, ids)
	var out []models.MailItem
	for _, id := range ids {
		out = append(out, models.MailItem{ID: id, Body: "body " + id})
	}
	return out, nil
}

func (f *fakeMailbox) Subscribe(_ context.Context, _ string, _ []enum.MailEventKind, handler interfaces.SubscriptionHandler) (interfaces.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := &fakeSubscription{handler: handler}
	f.handlers = append(f.handlers, handler)
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeMailbox) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeMailbox) lastHandler() interfaces.SubscriptionHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[len(f.handlers)-1]
}

func (f *fakeMailbox) setSubscribeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeErr = err
}

type fakeSubscription struct {
	mu      sync.Mutex
	handler interfaces.SubscriptionHandler
	closed  bool
}

// Close behaves like a real subscription and reports a clean disconnect.
func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.handler.OnDisconnect(nil)
	return nil
}

func (s *fakeSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
