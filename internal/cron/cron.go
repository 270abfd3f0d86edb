package cron

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	cronv3 "github.com/robfig/cron/v3"
	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/customeros/mailbot/interfaces"
	cron_config "github.com/customeros/mailbot/internal/cron/config"
	"github.com/customeros/mailbot/internal/logger"
	"github.com/customeros/mailbot/internal/tracing"
)

const (
	// GroupMailbot is the group for jobs touching the mailbox adapter
	GroupMailbot = "mailbot"

	LeaseName = "mailbot-leader"
	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second
)

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupMailbot: new(sync.Mutex),
	},
}

// CronManager runs the maintenance jobs and, when leading, the mailbox adapter.
// Only one replica ingests a mailbox at a time.
type CronManager struct {
	cfg     *cron_config.Config
	log     logger.Logger
	k8s     kubernetes.Interface
	adapter interfaces.MailboxAdapter

	mu       sync.Mutex
	cron     *cronv3.Cron
	jobIDs   map[string]cronv3.EntryID
	leading  bool
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewCronManager(cfg *cron_config.Config, log logger.Logger, k8s kubernetes.Interface, adapter interfaces.MailboxAdapter) *CronManager {
	return &CronManager{
		cfg:     cfg,
		log:     log,
		k8s:     k8s,
		adapter: adapter,
		stopCh:  make(chan struct{}),
		jobIDs:  make(map[string]cronv3.EntryID),
	}
}

// NewKubernetesClient returns an in-cluster client, or an error when not running in a cluster.
func NewKubernetesClient() (kubernetes.Interface, error) {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		return nil, err
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, err
	}
	return clientset, nil
}

// Start begins leader election. If k8s is nil, it starts in local mode and leads immediately.
func (cm *CronManager) Start(podName, namespace string) error {
	ctx, cancel := context.WithCancel(context.Background())
	cm.mu.Lock()
	cm.cancel = cancel
	cm.mu.Unlock()

	if cm.k8s == nil || os.Getenv("LOCAL_DEV") == "true" {
		cm.log.Info("Starting cron manager in local mode")
		return cm.startLeading(ctx)
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      LeaseName,
			Namespace: namespace,
		},
		Client: cm.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		ReleaseOnCancel: true,
		LeaseDuration:   LeaseDuration,
		RenewDeadline:   RenewDeadline,
		RetryPeriod:     RetryPeriod,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(ctx context.Context) {
				if err := cm.startLeading(ctx); err != nil {
					cm.log.Errorf("Failed to start as leader: %v", err)
				}
			},
			OnStoppedLeading: func() {
				cm.log.Info("Leader lost - stopping crons and mailbox adapter")
				cm.stopLeading()
			},
			OnNewLeader: func(identity string) {
				cm.log.Infof("New leader elected: %s", identity)
			},
		},
	})
	if err != nil {
		cm.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		return cm.startLeading(ctx)
	}

	go le.Run(ctx)
	return nil
}

func (cm *CronManager) startLeading(ctx context.Context) error {
	if err := cm.StartCron(); err != nil {
		return err
	}

	cm.mu.Lock()
	cm.leading = true
	cm.mu.Unlock()

	if cm.adapter != nil {
		go func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			if err := cm.adapter.Run(ctx); err != nil {
				cm.log.Error("mailbox adapter failed to start", zap.Error(err))
			}
		}()
	}
	return nil
}

func (cm *CronManager) stopLeading() {
	cm.mu.Lock()
	leading := cm.leading
	cm.leading = false
	cm.mu.Unlock()

	if !leading {
		return
	}
	if cm.adapter != nil {
		if err := cm.adapter.Stop(); err != nil {
			cm.log.Error("error stopping mailbox adapter", zap.Error(err))
		}
	}
	cm.StopCron()
}

// IsLeading reports whether this replica currently runs the jobs and the adapter.
func (cm *CronManager) IsLeading() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.leading
}

// Stop gives up leadership and stops all jobs. It is safe to call more than once.
func (cm *CronManager) Stop() {
	cm.stopOnce.Do(func() {
		cm.mu.Lock()
		cancel := cm.cancel
		cm.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		cm.stopLeading()
		cm.StopCron()
		close(cm.stopCh)
	})
}

// StopCron stops the scheduler and waits for running jobs.
func (cm *CronManager) StopCron() {
	cm.mu.Lock()
	c := cm.cron
	cm.cron = nil
	cm.mu.Unlock()

	if c != nil {
		cm.log.Info("Stopping cron manager")
		<-c.Stop().Done()
	}
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) error {
	jobIDs := make(map[string]cronv3.EntryID)

	if cm.cfg.CronScheduleHeartbeat != "" {
		podName := os.Getenv("POD_NAME")
		if podName == "" {
			podName = "local"
		}
		id, err := c.AddFunc(cm.cfg.CronScheduleHeartbeat, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.log.Infof("Cron heartbeat from pod: %s", podName)
		})
		if err != nil {
			return errors.Wrap(err, "could not add heartbeat cron job")
		}
		jobIDs["heartbeat"] = id
		cm.log.Infof("Registered heartbeat job with schedule: %s", cm.cfg.CronScheduleHeartbeat)
	}

	if cm.adapter != nil && cm.cfg.CronScheduleCachePurge != "" {
		id, err := c.AddFunc(cm.cfg.CronScheduleCachePurge, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupMailbot].Lock()
			defer jobLocks.locks[GroupMailbot].Unlock()
			cm.purgeConversationCache()
		})
		if err != nil {
			return errors.Wrap(err, "could not add cache purge cron job")
		}
		jobIDs["cache_purge"] = id
		cm.log.Infof("Registered cache purge job with schedule: %s", cm.cfg.CronScheduleCachePurge)
	}

	if cm.adapter != nil && cm.cfg.CronScheduleStatusReport != "" {
		id, err := c.AddFunc(cm.cfg.CronScheduleStatusReport, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupMailbot].Lock()
			defer jobLocks.locks[GroupMailbot].Unlock()
			cm.reportAdapterStatus()
		})
		if err != nil {
			return errors.Wrap(err, "could not add status report cron job")
		}
		jobIDs["status_report"] = id
		cm.log.Infof("Registered status report job with schedule: %s", cm.cfg.CronScheduleStatusReport)
	}

	cm.mu.Lock()
	cm.jobIDs = jobIDs
	cm.mu.Unlock()
	return nil
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() error {
	cm.mu.Lock()
	running := cm.cron != nil
	cm.mu.Unlock()
	if running {
		return nil
	}

	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	if err := cm.registerJobs(c); err != nil {
		return err
	}
	c.Start()

	cm.mu.Lock()
	cm.cron = c
	cm.mu.Unlock()
	return nil
}

func (cm *CronManager) purgeConversationCache() {
	span, _ := tracing.StartTracerSpan(context.Background(), "CronManager.purgeConversationCache")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	removed := cm.adapter.PurgeCache()
	span.LogKV("removed", removed)
	if removed > 0 {
		cm.log.Debugf("Purged %d expired conversations", removed)
	}
}

func (cm *CronManager) reportAdapterStatus() {
	span, _ := tracing.StartTracerSpan(context.Background(), "CronManager.reportAdapterStatus")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	status := cm.adapter.Status()
	tracing.LogObjectAsJson(span, "status", status)
	if !status.Enabled {
		return
	}
	cm.log.Info("mailbox adapter status",
		zap.String("mailbox", status.Mailbox),
		zap.String("mode", status.Mode.String()),
		zap.String("state", status.State.String()),
		zap.Int("cachedConversations", status.CachedConversations),
		zap.Int("queuePending", status.QueuePending),
		zap.Int64("queueDropped", status.QueueDropped),
		zap.Int("reopens", status.Reopens),
		zap.String("lastError", status.LastError))
}
