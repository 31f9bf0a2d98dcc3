package scheduler

import (
	"context"

	"github.com/richxcame/konversi/pkg/resilience"
)

// Result is the outcome a unit of work reports.
type Result int

const (
	// Success finishes the work.
	Success Result = iota
	// Retry schedules another run after the request's backoff.
	Retry
	// Failure finishes the work without retrying.
	Failure
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Retry:
		return "retry"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// ExistingWorkPolicy decides what happens when work with the same name is
// already enqueued or running.
type ExistingWorkPolicy int

const (
	// Keep leaves the existing work alone and drops the new request.
	Keep ExistingWorkPolicy = iota
	// Replace cancels the existing work and starts the new request.
	Replace
)

// State is the lifecycle state of a named unit of work.
type State string

const (
	StateIdle      State = "idle"
	StateEnqueued  State = "enqueued"
	StateBlocked   State = "blocked"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	// StateSkipped means another instance held the work's lock.
	StateSkipped State = "skipped"
)

// Finished reports whether s is a terminal state.
func (s State) Finished() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled, StateSkipped:
		return true
	}
	return false
}

// Constraints gate when work may run.
type Constraints struct {
	// RequireNetwork holds the work until the network monitor reports online.
	RequireNetwork bool
}

// WorkFunc is the unit of work.
type WorkFunc func(ctx context.Context) Result

// WorkRequest describes work to enqueue. Backoff.MaxAttempts bounds the
// number of runs; zero means retry until cancelled.
type WorkRequest struct {
	Work        WorkFunc
	Constraints Constraints
	Backoff     resilience.RetryConfig
}
