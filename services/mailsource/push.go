package mailsource

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"go.uber.org/zap"

	"github.com/customeros/mailbot/interfaces"
	"github.com/customeros/mailbot/internal/enum"
	"github.com/customeros/mailbot/internal/logger"
	"github.com/customeros/mailbot/internal/models"
	"github.com/customeros/mailbot/internal/tracing"
)

const resolveTimeout = time.Minute

type PushClient interface {
	Subscriber
	Resolve(ctx context.Context, ids []string) ([]models.MailItem, error)
}

// PushSource turns subscription notifications into mail items.
type PushSource struct {
	log     logger.Logger
	client  PushClient
	sink    interfaces.MailSink
	mailbox string
	conn    *ConnectionManager

	mu      sync.Mutex
	running bool
	ctx     context.Context

	// serializes notification handling, Stop waits on it
	ingestMu sync.Mutex
}

func NewPushSource(mailbox, folder string, client PushClient, sink interfaces.MailSink, log logger.Logger) *PushSource {
	p := &PushSource{
		log:     log,
		client:  client,
		sink:    sink,
		mailbox: mailbox,
	}
	p.conn = NewConnectionManager(client, folder, p.handleNotification, log)
	return p
}

func (p *PushSource) Mode() enum.SourceMode {
	return enum.SourcePush
}

func (p *PushSource) State() enum.ConnectionState {
	return p.conn.State()
}

func (p *PushSource) Connection() *ConnectionManager {
	return p.conn
}

func (p *PushSource) Start(ctx context.Context) error {
	p.mu.Lock()
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	return p.conn.Open(ctx)
}

// Stop closes the subscription and waits for a notification being handled to finish.
func (p *PushSource) Stop() error {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	err := p.conn.Close()

	// wait for an in-flight notification
	p.ingestMu.Lock()
	p.ingestMu.Unlock() //nolint:staticcheck
	return err
}

func (p *PushSource) isRunning() (context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx, p.running
}

func (p *PushSource) handleNotification(ids []string) {
	p.ingestMu.Lock()
	defer p.ingestMu.Unlock()

	ctx, running := p.isRunning()
	if !running {
		return
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, "PushSource.handleNotification")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagMailbox(span, p.mailbox)
	span.LogFields(tracingLog.Int("ids", len(ids)))

	resolveCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	items, err := p.client.Resolve(resolveCtx, ids)
	cancel()
	if err != nil {
		tracing.TraceErr(span, err)
		p.log.Error("unable to resolve notified mail", zap.Strings("ids", ids), zap.Error(err))
		return
	}
	if len(items) == 0 {
		return
	}
	p.sink(ctx, items)
}
