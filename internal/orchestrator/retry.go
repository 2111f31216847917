package orchestrator

import (
	"context"
	"math"
	"time"

	"melding/internal/types"
)

// Backoff tuning knobs. The curve is deliberately steep: early retries are
// seconds apart, later ones hours apart.
const (
	backoffSlope = 0.3
	backoffBase  = 10.0
)

// Backoff returns the delay before the next attempt for a task that has
// failed retryCount times: round(exp(0.3*retryCount + 10)) milliseconds.
// Backoff(0) is e^10 ms, about 22 seconds.
func Backoff(retryCount int) time.Duration {
	ms := math.Round(math.Exp(backoffSlope*float64(retryCount) + backoffBase))
	return time.Duration(ms) * time.Millisecond
}

// RetryScheduler arms one-shot in-memory timers that re-drive failed tasks
// through the single-task submission path.
//
// Timers do not survive a restart. That is acceptable because the
// reconciliation sweep re-drives every non-terminal task from durable state;
// a lost timer only delays a retry until the next sweep. An armed timer is
// never cancelled: if a sweep resolves the task first, the fired callback
// re-reads the task and skips terminal states.
type RetryScheduler struct {
	tasks     TaskStore
	resources ResourceStore
	orch      *Orchestrator
	logger    types.Logger

	// baseCtx outlives individual batches; timer callbacks fire long after
	// the request or sweep that armed them returned.
	baseCtx context.Context

	// afterFunc is swappable for tests; defaults to time.AfterFunc.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// NewRetryScheduler creates a scheduler whose timer callbacks run under
// baseCtx.
func NewRetryScheduler(baseCtx context.Context, tasks TaskStore, resources ResourceStore, orch *Orchestrator, logger types.Logger) *RetryScheduler {
	return &RetryScheduler{
		tasks:     tasks,
		resources: resources,
		orch:      orch,
		logger:    logger,
		baseCtx:   baseCtx,
		afterFunc: time.AfterFunc,
	}
}

// ScheduleRetry arms exactly one timer for the task's next attempt. The
// delay grows exponentially with the retry count already recorded on the
// task.
func (s *RetryScheduler) ScheduleRetry(task *types.Task) {
	delay := Backoff(task.RetryCount)

	s.logger.Info("retry scheduled",
		"task", task.ID,
		"resource", task.ResourceID,
		"attempt", task.RetryCount,
		"delay", delay.String(),
	)

	taskID := task.ID
	s.afterFunc(delay, func() {
		s.fire(taskID)
	})
}

// fire is the timer callback: re-read the task, set it back to pending, and
// re-run the single-task submission path. A failure inside SubmitOne
// re-enters the failure branch and may arm the next timer, recursively,
// until the retry budget is spent.
func (s *RetryScheduler) fire(taskID string) {
	ctx := s.baseCtx

	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		s.logger.Error("retry fired but task lookup failed", "task", taskID, "error", err)
		return
	}
	if task.Status.Terminal() {
		// A sweep (or a conflict detection) resolved the task while the
		// timer was pending.
		s.logger.Info("retry fired for resolved task, skipping",
			"task", task.ID,
			"status", string(task.Status),
		)
		return
	}

	s.logger.Info("retrying task", "task", task.ID, "resource", task.ResourceID)

	if err := s.tasks.UpdateStatus(ctx, task.ID, types.TaskPending, task.RetryCount); err != nil {
		s.logger.Error("retry status reset failed", "task", task.ID, "error", err)
		return
	}
	task.Status = types.TaskPending

	if err := s.resources.UpdateSubmissionStatus(ctx, task.ResourceID, types.SubmissionPending); err != nil {
		s.logger.Error("resource status mirror update failed",
			"resource", task.ResourceID,
			"error", err,
		)
	}

	s.orch.SubmitOne(ctx, task)
}
