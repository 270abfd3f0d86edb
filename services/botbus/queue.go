package botbus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"github.com/customeros/mailbot/interfaces"
	mailerrors "github.com/customeros/mailbot/internal/errors"
	"github.com/customeros/mailbot/internal/logger"
	"github.com/customeros/mailbot/internal/models"
	"github.com/customeros/mailbot/internal/tracing"
)

const DefaultQueueSize = 64

type queued struct {
	msg    models.ChatMessage
	parent opentracing.SpanContext
}

// Queue hands chat messages to the bot core without blocking ingestion.
// One worker drains it in FIFO order.
type Queue struct {
	log  logger.Logger
	bot  interfaces.BotCore
	ctx  context.Context
	stop context.CancelFunc

	mu     sync.RWMutex
	closed bool
	items  chan queued
	done   chan struct{}

	delivered atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

func NewQueue(bot interfaces.BotCore, size int, log logger.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	ctx, stop := context.WithCancel(context.Background())
	q := &Queue{
		log:   log,
		bot:   bot,
		ctx:   ctx,
		stop:  stop,
		items: make(chan queued, size),
		done:  make(chan struct{}),
	}
	go q.work()
	return q
}

// Enqueue never blocks. A full queue drops the message.
func (q *Queue) Enqueue(ctx context.Context, msg models.ChatMessage) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return mailerrors.ErrDispatchQueueClosed
	}

	item := queued{msg: msg}
	if span := opentracing.SpanFromContext(ctx); span != nil {
		item.parent = span.Context()
	}

	select {
	case q.items <- item:
		return nil
	default:
		q.dropped.Add(1)
		q.log.Error("dispatch queue full, dropping chat message",
			zap.String("conversationKey", msg.ConversationKey),
			zap.Int("capacity", cap(q.items)))
		return mailerrors.ErrDispatchQueueFull
	}
}

func (q *Queue) work() {
	defer close(q.done)
	for item := range q.items {
		q.deliver(item)
	}
}

func (q *Queue) deliver(item queued) {
	defer tracing.RecoverAndLogToJaeger(q.log)

	var opts []opentracing.StartSpanOption
	if item.parent != nil {
		opts = append(opts, opentracing.FollowsFrom(item.parent))
	}
	span := opentracing.GlobalTracer().StartSpan("Queue.deliver", opts...)
	defer span.Finish()
	tracing.TagConversationKey(span, item.msg.ConversationKey)
	ctx := opentracing.ContextWithSpan(q.ctx, span)

	if err := q.bot.Receive(ctx, item.msg); err != nil {
		q.failed.Add(1)
		tracing.TraceErr(span, err)
		q.log.Error("bot core rejected chat message",
			zap.String("conversationKey", item.msg.ConversationKey),
			zap.Error(err))
		return
	}
	q.delivered.Add(1)
}

// Len is the number of messages waiting for the worker.
func (q *Queue) Len() int {
	return len(q.items)
}

func (q *Queue) Stats() Stats {
	return Stats{
		Pending:   q.Len(),
		Delivered: q.delivered.Load(),
		Dropped:   q.dropped.Load(),
		Failed:    q.failed.Load(),
	}
}

type Stats struct {
	Pending   int   `json:"pending"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
}

// Close stops accepting messages and waits until the worker has drained the queue
// or ctx expires, in which case in-flight deliveries are cancelled.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.items)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.stop()
		return nil
	case <-ctx.Done():
		q.stop()
		return ctx.Err()
	}
}
