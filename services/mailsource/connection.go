package mailsource

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/customeros/mailbot/interfaces"
	"github.com/customeros/mailbot/internal/enum"
	"github.com/customeros/mailbot/internal/logger"
	"github.com/customeros/mailbot/internal/tracing"
)

type Subscriber interface {
	Subscribe(ctx context.Context, folder string, kinds []enum.MailEventKind, handler interfaces.SubscriptionHandler) (interfaces.Subscription, error)
}

// ConnectionManager owns the push subscription lifecycle.
//
//	Disconnected --open--> Connecting --opened--> Connected
//	Connected --clean disconnect, still wanted--> Connecting
//	Connected --error, or no longer wanted--> Disconnected
//
// Every subscription gets a generation, callbacks from an older generation are ignored.
type ConnectionManager struct {
	log        logger.Logger
	subscriber Subscriber
	folder     string
	notify     func(ids []string)

	mu             sync.Mutex
	ctx            context.Context
	state          enum.ConnectionState
	desiredRunning bool
	generation     uint64
	sub            interfaces.Subscription
	lastErr        error
	reopens        int

	// test hook, called with the lock held
	onStateChange func(enum.ConnectionState)
}

func NewConnectionManager(subscriber Subscriber, folder string, notify func(ids []string), log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		log:        log,
		subscriber: subscriber,
		folder:     folder,
		notify:     notify,
		state:      enum.ConnectionDisconnected,
	}
}

func (m *ConnectionManager) State() enum.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *ConnectionManager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *ConnectionManager) Reopens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reopens
}

// Open starts a run. Calling it while a run is active is a no-op.
func (m *ConnectionManager) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.desiredRunning {
		m.mu.Unlock()
		return nil
	}
	m.desiredRunning = true
	m.ctx = ctx
	m.lastErr = nil
	m.mu.Unlock()

	return m.connect()
}

// Close ends the run. No callback arriving afterwards will reopen the subscription.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	m.desiredRunning = false
	m.generation++
	sub := m.sub
	m.sub = nil
	m.setStateLocked(enum.ConnectionDisconnected)
	m.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}

func (m *ConnectionManager) connect() error {
	m.mu.Lock()
	if !m.desiredRunning {
		m.mu.Unlock()
		return nil
	}
	m.generation++
	gen := m.generation
	ctx := m.ctx
	m.setStateLocked(enum.ConnectionConnecting)
	m.mu.Unlock()

	sub, err := m.subscriber.Subscribe(ctx, m.folder, []enum.MailEventKind{enum.MailEventNewMail}, &subscriptionHandler{manager: m, generation: gen})

	m.mu.Lock()
	if err != nil {
		if gen == m.generation {
			m.desiredRunning = false
			m.lastErr = err
			m.setStateLocked(enum.ConnectionDisconnected)
		}
		m.mu.Unlock()
		m.log.Error("unable to open mailbox subscription", zap.String("folder", m.folder), zap.Error(err))
		return err
	}
	if gen != m.generation || !m.desiredRunning {
		// closed or superseded while subscribing
		m.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	m.sub = sub
	m.setStateLocked(enum.ConnectionConnected)
	m.mu.Unlock()

	m.log.Info("mailbox subscription opened", zap.String("folder", m.folder))
	return nil
}

func (m *ConnectionManager) handleNotification(gen uint64, ids []string) {
	m.mu.Lock()
	current := gen == m.generation && m.desiredRunning
	m.mu.Unlock()
	if !current || len(ids) == 0 {
		return
	}
	m.notify(ids)
}

func (m *ConnectionManager) handleDisconnect(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.generation++
	m.sub = nil

	if err != nil || !m.desiredRunning {
		m.desiredRunning = false
		m.lastErr = err
		m.setStateLocked(enum.ConnectionDisconnected)
		m.mu.Unlock()
		if err != nil {
			m.log.Error("mailbox subscription lost", zap.String("folder", m.folder), zap.Error(err))
		}
		return
	}

	m.reopens++
	m.setStateLocked(enum.ConnectionConnecting)
	m.mu.Unlock()

	m.log.Info("mailbox subscription ended cleanly, reopening", zap.String("folder", m.folder))
	go func() {
		defer tracing.RecoverAndLogToJaeger(m.log)
		_ = m.connect()
	}()
}

func (m *ConnectionManager) setStateLocked(state enum.ConnectionState) {
	if m.state == state {
		return
	}
	m.state = state
	if m.onStateChange != nil {
		m.onStateChange(state)
	}
}

type subscriptionHandler struct {
	manager    *ConnectionManager
	generation uint64
}

func (h *subscriptionHandler) OnNotification(ids []string) {
	h.manager.handleNotification(h.generation, ids)
}

func (h *subscriptionHandler) OnDisconnect(err error) {
	h.manager.handleDisconnect(h.generation, err)
}
