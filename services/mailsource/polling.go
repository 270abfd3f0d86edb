package mailsource

import (
	"context"
	"sort"
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

const (
	DefaultPollPeriod    = 10 * time.Second
	DefaultRetrieveCount = 10
	fetchTimeout         = 2 * time.Minute
)

type PollClient interface {
	PollSince(ctx context.Context, folder string, since time.Time, limit int) ([]models.MailItem, error)
}

type PollingConfig struct {
	Mailbox       string
	Folder        string
	Period        time.Duration
	RetrieveCount int
}

// PollingSource queries the mailbox on a fixed period. The next tick is only
// scheduled once the previous one has finished, so ticks never overlap.
type PollingSource struct {
	log         logger.Logger
	client      PollClient
	checkpoints interfaces.CheckpointRepository
	sink        interfaces.MailSink
	cfg         PollingConfig
	now         func() time.Time

	mu         sync.Mutex
	running    bool
	checkpoint time.Time
	stop       chan struct{}
	done       chan struct{}
}

func NewPollingSource(cfg PollingConfig, client PollClient, checkpoints interfaces.CheckpointRepository, sink interfaces.MailSink, log logger.Logger) *PollingSource {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPollPeriod
	}
	if cfg.RetrieveCount <= 0 {
		cfg.RetrieveCount = DefaultRetrieveCount
	}
	return &PollingSource{
		log:         log,
		client:      client,
		checkpoints: checkpoints,
		sink:        sink,
		cfg:         cfg,
		now:         time.Now,
	}
}

func (s *PollingSource) Mode() enum.SourceMode {
	return enum.SourcePoll
}

func (s *PollingSource) State() enum.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return enum.ConnectionConnected
	}
	return enum.ConnectionDisconnected
}

func (s *PollingSource) Checkpoint() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint
}

// Start resumes from the stored checkpoint, or from now when none was stored.
func (s *PollingSource) Start(ctx context.Context) error {
	checkpoint := s.now()
	if s.checkpoints != nil {
		stored, err := s.checkpoints.GetCheckpoint(ctx, s.cfg.Mailbox, s.cfg.Folder)
		if err != nil {
			s.log.Warn("unable to load polling checkpoint, starting from now", zap.Error(err))
		} else if stored != nil {
			checkpoint = *stored
		}
	}
	return s.StartFrom(ctx, checkpoint)
}

func (s *PollingSource) StartFrom(ctx context.Context, checkpoint time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.running = true
	s.checkpoint = checkpoint
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.run(ctx, s.stop, s.done)

	s.log.Info("polling source started",
		zap.String("folder", s.cfg.Folder),
		zap.Duration("period", s.cfg.Period),
		zap.Time("checkpoint", checkpoint))
	return nil
}

// Stop returns after the loop has exited. A fetch in flight is allowed to finish first.
func (s *PollingSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	s.log.Info("polling source stopped", zap.String("folder", s.cfg.Folder))
	return nil
}

func (s *PollingSource) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	defer tracing.RecoverAndLogToJaeger(s.log)

	timer := time.NewTimer(s.cfg.Period)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(s.cfg.Period)
		}
	}
}

func (s *PollingSource) tick(ctx context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "PollingSource.tick")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagMailbox(span, s.cfg.Mailbox)

	tickTime := s.now()
	since := s.Checkpoint()
	span.LogFields(tracingLog.String("since", since.Format(time.RFC3339)))

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	items, err := s.client.PollSince(fetchCtx, s.cfg.Folder, since, s.cfg.RetrieveCount)
	cancel()
	if err != nil {
		tracing.TraceErr(span, err)
		s.log.Error("poll failed, checkpoint unchanged", zap.Error(err), zap.Time("since", since))
		return
	}

	fresh := make([]models.MailItem, 0, len(items))
	for _, item := range items {
		if item.ReceivedAt.After(since) {
			fresh = append(fresh, item)
		}
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].ReceivedAt.Before(fresh[j].ReceivedAt)
	})
	span.LogFields(tracingLog.Int("items.fetched", len(items)), tracingLog.Int("items.fresh", len(fresh)))

	if len(fresh) > 0 {
		s.sink(ctx, fresh)
	}

	s.advance(ctx, tickTime)
}

func (s *PollingSource) advance(ctx context.Context, to time.Time) {
	s.mu.Lock()
	if !to.After(s.checkpoint) {
		s.mu.Unlock()
		return
	}
	s.checkpoint = to
	s.mu.Unlock()

	if s.checkpoints == nil {
		return
	}
	if err := s.checkpoints.SaveCheckpoint(ctx, s.cfg.Mailbox, s.cfg.Folder, to); err != nil {
		s.log.Warn("unable to persist polling checkpoint", zap.Error(err))
	}
}
