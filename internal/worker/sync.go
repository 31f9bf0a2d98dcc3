package worker

import (
	"context"
	"sync"
	"time"

	"github.com/richxcame/konversi/pkg/eventbus"
	"github.com/richxcame/konversi/pkg/resilience"
	"github.com/richxcame/konversi/pkg/scheduler"
	"github.com/richxcame/konversi/pkg/stream"
	"go.uber.org/zap"
)

// SyncWorkName is the unique work name of the background sync. Renaming it
// lets two syncs run at once during a rolling deploy.
const SyncWorkName = "konversi_sync"

// Scheduler is the subset of *scheduler.Scheduler used by Sync.
type Scheduler interface {
	EnqueueUniqueWork(name string, policy scheduler.ExistingWorkPolicy, req scheduler.WorkRequest) bool
	WorkState(name string) *stream.StateFlow[scheduler.State]
}

// Publisher sends events to other instances.
type Publisher interface {
	Publish(ctx context.Context, subject string, event *eventbus.Event) error
}

// Config configures the background sync.
type Config struct {
	// Interval between periodic syncs. Zero syncs once at startup only.
	Interval   time.Duration
	Backoff    resilience.RetryConfig
	InstanceID string
}

// Sync keeps local data current by enqueueing the fetch worker.
type Sync struct {
	scheduler Scheduler
	worker    *FetchWorker
	cfg       Config
	publisher Publisher
	logger    *zap.Logger

	syncing *stream.StateFlow[bool]

	done     chan struct{}
	stopOnce sync.Once
}

// Option configures Sync.
type Option func(*Sync)

// WithPublisher publishes a sync.completed event after every run.
func WithPublisher(p Publisher) Option {
	return func(s *Sync) {
		s.publisher = p
	}
}

// NewSync creates the background sync trigger.
func NewSync(sched Scheduler, worker *FetchWorker, cfg Config, logger *zap.Logger, opts ...Option) *Sync {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sync{
		scheduler: sched,
		worker:    worker,
		cfg:       cfg,
		logger:    logger.Named("sync"),
		syncing:   stream.NewStateFlow(false),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize enqueues the sync unless one is already enqueued or running.
// It reports whether a new run was scheduled.
func (s *Sync) Initialize() bool {
	queued := s.scheduler.EnqueueUniqueWork(SyncWorkName, scheduler.Keep, scheduler.WorkRequest{
		Work:        s.work,
		Constraints: scheduler.Constraints{RequireNetwork: true},
		Backoff:     s.cfg.Backoff,
	})
	if queued {
		s.logger.Info("sync enqueued")
	}
	return queued
}

// IsSyncing reports whether the sync work is currently running.
func (s *Sync) IsSyncing() *stream.StateFlow[bool] {
	return s.syncing
}

// Start tracks the work state and enqueues a sync now and then on every
// interval tick until ctx is done or Stop is called.
func (s *Sync) Start(ctx context.Context) {
	states := s.scheduler.WorkState(SyncWorkName).Subscribe(ctx)
	go stream.MirrorInto(ctx, stream.Map(ctx, states, isRunning), s.syncing)

	s.Initialize()

	if s.cfg.Interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Initialize()
			case <-ctx.Done():
				s.logger.Info("stopping periodic sync")
				return
			case <-s.done:
				s.logger.Info("stopping periodic sync")
				return
			}
		}
	}()
}

// Stop halts periodic enqueueing. Running work is stopped by the scheduler.
func (s *Sync) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Sync) work(ctx context.Context) scheduler.Result {
	out := s.worker.run(ctx)
	s.publish(ctx, out)
	return out.Result
}

func (s *Sync) publish(ctx context.Context, out Outcome) {
	if s.publisher == nil || out.Result == scheduler.Failure {
		return
	}

	event, err := eventbus.NewEvent(eventbus.TypeSyncCompleted, s.cfg.InstanceID, eventbus.SyncCompletedData{
		Result:      out.Result.String(),
		Currencies:  out.Currencies,
		Rates:       out.Rates,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("failed to build sync event", zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, eventbus.SubjectSyncCompleted, event); err != nil {
		s.logger.Warn("failed to publish sync event", zap.Error(err))
	}
}

func isRunning(st scheduler.State) bool {
	return st == scheduler.StateRunning
}
