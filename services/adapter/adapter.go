package adapter

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/customeros/mailbot/config"
	"github.com/customeros/mailbot/interfaces"
	"github.com/customeros/mailbot/internal/enum"
	mailerrors "github.com/customeros/mailbot/internal/errors"
	"github.com/customeros/mailbot/internal/logger"
	"github.com/customeros/mailbot/internal/models"
	"github.com/customeros/mailbot/internal/tracing"
	"github.com/customeros/mailbot/services/botbus"
	"github.com/customeros/mailbot/services/conversation"
	"github.com/customeros/mailbot/services/mailsource"
	"github.com/customeros/mailbot/services/normalizer"
	"github.com/customeros/mailbot/services/reply"
)

const (
	queueDrainTimeout = 10 * time.Second
	archiveTimeout    = 30 * time.Second
)

type Dependencies struct {
	Connector   interfaces.MailboxConnector
	Bot         interfaces.BotCore
	Checkpoints interfaces.CheckpointRepository
	// optional
	Archive interfaces.MailArchive
}

// Adapter wires a mailbox to the bot core: source -> cache -> normalizer -> queue,
// and bot replies back through the dispatcher.
type Adapter struct {
	log        logger.Logger
	mailboxCfg config.MailboxConfig
	botCfg     config.BotConfig
	mode       enum.SourceMode
	deps       Dependencies

	cache      *conversation.Cache
	normalizer *normalizer.Normalizer
	queue      *botbus.Queue
	dispatcher *reply.Dispatcher

	mu         sync.RWMutex
	client     interfaces.MailboxClient
	source     interfaces.MailSource
	pollSource *mailsource.PollingSource
	pushSource *mailsource.PushSource
	closed     bool

	archiving sync.WaitGroup
}

func New(mailboxCfg *config.MailboxConfig, botCfg *config.BotConfig, deps Dependencies, log logger.Logger) (*Adapter, error) {
	if mailboxCfg == nil || botCfg == nil {
		return nil, errors.New("adapter config is required")
	}
	if deps.Connector == nil || deps.Bot == nil {
		return nil, errors.New("adapter requires a mailbox connector and a bot core")
	}

	a := &Adapter{
		log:        log.With(zap.String("mailbox", mailboxCfg.Address)),
		mailboxCfg: *mailboxCfg,
		botCfg:     *botCfg,
		mode:       enum.ParseSourceMode(mailboxCfg.SourceMode),
		deps:       deps,
		cache:      conversation.NewCache(botCfg.MaxCachedMessages, botCfg.CacheWindow),
		normalizer: normalizer.NewNormalizer(normalizer.Config{
			BotName:              botCfg.Name,
			BotAddress:           mailboxCfg.Address,
			TrimSignature:        botCfg.TrimSignature,
			AllowImplicitCommand: botCfg.AllowImplicitCommand,
		}, log),
		queue: botbus.NewQueue(deps.Bot, botCfg.DispatchQueueSize, log),
	}
	a.dispatcher = reply.NewDispatcher(a.cache, clientMailer{a}, botCfg.ReplySeparator, log)

	if mailboxCfg.SourceMode != "" && mailboxCfg.SourceMode != a.mode.String() {
		a.log.Warnf("Unknown source mode %q, using %s", mailboxCfg.SourceMode, a.mode)
	}
	return a, nil
}

func (a *Adapter) Enabled() bool {
	return a.mailboxCfg.Enabled()
}

// Run connects to the mailbox and starts the configured source.
// A disabled adapter logs a warning and returns nil.
func (a *Adapter) Run(ctx context.Context) error {
	span, spanCtx := opentracing.StartSpanFromContext(ctx, "Adapter.Run")
	defer span.Finish()
	tracing.SetDefaultMailboxSpanTags(spanCtx, span, a.mailboxCfg.Address)

	if !a.Enabled() {
		a.log.Warn("mailbox adapter disabled, mailbox address or credential missing")
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return mailerrors.ErrSourceClosed
	}
	if a.source != nil {
		return nil
	}

	client, err := a.deps.Connector.Connect(spanCtx, interfaces.MailboxCredentials{
		Address:    a.mailboxCfg.Address,
		Credential: a.mailboxCfg.Password,
		URL:        a.mailboxCfg.URL,
		SMTPURL:    a.mailboxCfg.SMTPURL,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "connect mailbox")
	}

	var source interfaces.MailSource
	switch a.mode {
	case enum.SourcePoll:
		a.pollSource = mailsource.NewPollingSource(mailsource.PollingConfig{
			Mailbox:       a.mailboxCfg.Address,
			Folder:        a.mailboxCfg.Folder,
			Period:        a.botCfg.PollPeriod,
			RetrieveCount: a.botCfg.RetrieveCount,
		}, client, a.deps.Checkpoints, a.ingest, a.log)
		source = a.pollSource
	default:
		a.pushSource = mailsource.NewPushSource(a.mailboxCfg.Address, a.mailboxCfg.Folder, client, a.ingest, a.log)
		source = a.pushSource
	}

	// the client must be visible to replies before the first item is emitted
	a.client = client
	a.source = source

	// ctx, not spanCtx: the source outlives this span
	if err := source.Start(ctx); err != nil {
		tracing.TraceErr(span, err)
		_ = a.resetLocked()
		return errors.Wrap(err, "start mail source")
	}

	a.log.Info("mailbox adapter running",
		zap.String("mode", a.mode.String()),
		zap.String("folder", a.mailboxCfg.Folder))
	return nil
}

// Stop halts ingestion and closes the mailbox client. The adapter can be run again.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.source == nil {
		return nil
	}
	err := a.resetLocked()
	a.log.Info("mailbox adapter stopped")
	return err
}

func (a *Adapter) resetLocked() error {
	var err error
	if a.source != nil {
		err = a.source.Stop()
	}
	if a.client != nil {
		if closeErr := a.client.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	a.source = nil
	a.pollSource = nil
	a.pushSource = nil
	a.client = nil
	return err
}

// Close stops the adapter for good and drains the bot queue.
func (a *Adapter) Close() error {
	err := a.Stop()

	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.archiving.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), queueDrainTimeout)
	defer cancel()
	if qErr := a.queue.Close(ctx); qErr != nil {
		a.log.Warn("bot queue not drained before shutdown", zap.Error(qErr))
	}
	return err
}

// ingest is the sink of the mail source.
func (a *Adapter) ingest(ctx context.Context, items []models.MailItem) {
	for _, item := range items {
		if a.isOwnMail(item) {
			a.log.Debug("ignoring mail sent by the bot", zap.String("conversationKey", item.ID))
			continue
		}
		if !a.cache.Insert(item) {
			a.log.Debug("mail already seen", zap.String("conversationKey", item.ID))
			continue
		}
		a.archive(item)
		msg, ok := a.normalizer.Normalize(item)
		if !ok {
			continue
		}
		// a full queue is logged by the queue itself
		_ = a.queue.Enqueue(ctx, msg)
	}
}

// archive stores the item in the background, failures are only logged.
func (a *Adapter) archive(item models.MailItem) {
	if a.deps.Archive == nil {
		return
	}
	a.archiving.Add(1)
	go func() {
		defer a.archiving.Done()
		defer tracing.RecoverAndLogToJaeger(a.log)

		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := a.deps.Archive.Archive(ctx, item); err != nil {
			a.log.Error("failed to archive mail", zap.String("conversationKey", item.ID), zap.Error(err))
		}
	}()
}

func (a *Adapter) isOwnMail(item models.MailItem) bool {
	return a.mailboxCfg.Address != "" &&
		strings.EqualFold(strings.TrimSpace(item.Sender.Address), strings.TrimSpace(a.mailboxCfg.Address))
}

// Send replies to all participants of the conversation. Unknown or expired keys are logged and ignored.
func (a *Adapter) Send(ctx context.Context, conversationKey string, lines []string) error {
	if !a.Enabled() {
		return mailerrors.ErrAdapterDisabled
	}
	return a.dispatcher.Send(ctx, conversationKey, lines)
}

// SendTo starts a new thread.
func (a *Adapter) SendTo(ctx context.Context, to []string, subject string, lines []string) error {
	if !a.Enabled() {
		return mailerrors.ErrAdapterDisabled
	}
	return a.dispatcher.Compose(ctx, to, subject, lines)
}

func (a *Adapter) PurgeCache() int {
	return a.cache.Purge()
}

func (a *Adapter) Status() models.AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := a.queue.Stats()
	status := models.AdapterStatus{
		Enabled:             a.Enabled(),
		Running:             a.source != nil,
		Mailbox:             a.mailboxCfg.Address,
		Folder:              a.mailboxCfg.Folder,
		Mode:                a.mode,
		State:               enum.ConnectionDisconnected,
		CachedConversations: a.cache.Len(),
		QueuePending:        stats.Pending,
		QueueDelivered:      stats.Delivered,
		QueueDropped:        stats.Dropped,
		QueueFailed:         stats.Failed,
	}
	if a.source != nil {
		status.State = a.source.State()
	}
	if a.pollSource != nil {
		checkpoint := a.pollSource.Checkpoint()
		status.Checkpoint = &checkpoint
	}
	if a.pushSource != nil {
		conn := a.pushSource.Connection()
		status.Reopens = conn.Reopens()
		if err := conn.LastError(); err != nil {
			status.LastError = err.Error()
		}
	}
	return status
}

func (a *Adapter) currentClient() interfaces.MailboxClient {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client
}

// clientMailer sends through whatever client the adapter currently holds.
type clientMailer struct {
	a *Adapter
}

func (m clientMailer) ReplyAll(ctx context.Context, original models.MailItem, body string) error {
	client := m.a.currentClient()
	if client == nil {
		return mailerrors.ErrMailboxDisconnected
	}
	return client.ReplyAll(ctx, original, body)
}

func (m clientMailer) ComposeAndSend(ctx context.Context, to []string, subject, body string) error {
	client := m.a.currentClient()
	if client == nil {
		return mailerrors.ErrMailboxDisconnected
	}
	return client.ComposeAndSend(ctx, to, subject, body)
}
