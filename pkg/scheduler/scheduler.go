package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/konversi/pkg/resilience"
	"github.com/richxcame/konversi/pkg/stream"
	"go.uber.org/zap"
)

// ErrShutdown is returned by Shutdown when it is called twice.
var ErrShutdown = errors.New("scheduler: already shut down")

// NetworkWaiter blocks until the network is available.
type NetworkWaiter interface {
	WaitOnline(ctx context.Context) error
}

// Scheduler runs named, unique units of work in the background.
type Scheduler struct {
	logger  *zap.Logger
	network NetworkWaiter
	locker  Locker
	lockTTL time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	jobs   map[string]*job
	states map[string]*stream.StateFlow[State]
	closed bool
}

type job struct {
	id     string
	cancel context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithNetwork enables the RequireNetwork constraint.
func WithNetwork(w NetworkWaiter) Option {
	return func(s *Scheduler) {
		s.network = w
	}
}

// WithLocker makes every run acquire a lock named after the work first, so
// only one instance runs it at a time.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Scheduler) {
		s.locker = l
		s.lockTTL = ttl
	}
}

// New creates a Scheduler.
func New(logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger:  logger.Named("scheduler"),
		lockTTL: 2 * time.Minute,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*job),
		states:  make(map[string]*stream.StateFlow[State]),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnqueueUniqueWork schedules req under name. With Keep the request is
// dropped, returning false, while work with that name is enqueued or
// running. With Replace the existing work is cancelled first.
func (s *Scheduler) EnqueueUniqueWork(name string, policy ExistingWorkPolicy, req WorkRequest) bool {
	if req.Work == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	if existing, ok := s.jobs[name]; ok {
		if policy == Keep {
			s.logger.Debug("work already scheduled, keeping it", zap.String("work", name), zap.String("run_id", existing.id))
			return false
		}
		s.logger.Info("replacing scheduled work", zap.String("work", name), zap.String("run_id", existing.id))
		existing.cancel()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	j := &job{id: uuid.NewString(), cancel: cancel}
	s.jobs[name] = j
	s.stateLocked(name).Set(StateEnqueued)

	s.wg.Add(1)
	go s.run(ctx, name, j, req)
	return true
}

// WorkState returns the observable state of the work called name.
func (s *Scheduler) WorkState(name string) *stream.StateFlow[State] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(name)
}

func (s *Scheduler) stateLocked(name string) *stream.StateFlow[State] {
	st, ok := s.states[name]
	if !ok {
		st = stream.NewStateFlow(StateIdle)
		s.states[name] = st
	}
	return st
}

// setState publishes st for name while j is still the current job.
func (s *Scheduler) setState(name string, j *job, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[name] != j {
		return
	}
	s.stateLocked(name).Set(st)
}

// finish publishes the terminal state and forgets j.
func (s *Scheduler) finish(name string, j *job, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[name] != j {
		return
	}
	delete(s.jobs, name)
	s.stateLocked(name).Set(st)
}

// Shutdown cancels all work and waits for it to return or ctx to end.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShutdown
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context, name string, j *job, req WorkRequest) {
	defer s.wg.Done()
	defer j.cancel()

	log := s.logger.With(zap.String("work", name), zap.String("run_id", j.id))

	for attempt := 1; ; attempt++ {
		if req.Constraints.RequireNetwork && s.network != nil {
			s.setState(name, j, StateBlocked)
			if err := s.network.WaitOnline(ctx); err != nil {
				s.finish(name, j, StateCancelled)
				return
			}
		}

		s.setState(name, j, StateRunning)
		result, skipped := s.execute(ctx, name, req, log)

		switch {
		case ctx.Err() != nil:
			log.Info("work cancelled", zap.Int("attempt", attempt))
			s.finish(name, j, StateCancelled)
			return
		case skipped:
			s.finish(name, j, StateSkipped)
			return
		case result == Success:
			log.Info("work succeeded", zap.Int("attempt", attempt))
			s.finish(name, j, StateSucceeded)
			return
		case result == Failure:
			log.Warn("work failed", zap.Int("attempt", attempt))
			s.finish(name, j, StateFailed)
			return
		}

		if req.Backoff.MaxAttempts > 0 && attempt >= req.Backoff.MaxAttempts {
			log.Warn("work gave up after retries", zap.Int("attempts", attempt))
			s.finish(name, j, StateFailed)
			return
		}

		wait := resilience.CalculateBackoff(attempt, req.Backoff)
		log.Info("work will retry", zap.Int("attempt", attempt), zap.Duration("backoff", wait))
		s.setState(name, j, StateEnqueued)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.finish(name, j, StateCancelled)
			return
		case <-timer.C:
		}
	}
}

// execute runs the work once, under the lock when one is configured.
// skipped is true when another instance held the lock.
func (s *Scheduler) execute(ctx context.Context, name string, req WorkRequest, log *zap.Logger) (result Result, skipped bool) {
	if s.locker != nil {
		unlock, err := s.locker.TryLock(ctx, name, s.lockTTL)
		if errors.Is(err, ErrLockHeld) {
			log.Info("work is running on another instance, skipping")
			workRunsTotal.WithLabelValues(name, "skipped").Inc()
			return Success, true
		}
		if err != nil {
			log.Warn("could not acquire work lock", zap.Error(err))
			workRunsTotal.WithLabelValues(name, Retry.String()).Inc()
			return Retry, false
		}
		defer func() {
			// the run context may already be cancelled
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := unlock(releaseCtx); err != nil {
				log.Warn("could not release work lock", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	result = s.safeRun(ctx, req.Work, log)
	workRunDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	workRunsTotal.WithLabelValues(name, result.String()).Inc()
	return result, false
}

func (s *Scheduler) safeRun(ctx context.Context, work WorkFunc, log *zap.Logger) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("work panicked", zap.String("panic", fmt.Sprint(r)), zap.Stack("stack"))
			result = Failure
		}
	}()
	return work(ctx)
}
