// Package orchestrator implements the task submission engine: it decides
// which published resources need a report, drives each one's task through
// the retry state machine, and reconciles durable task state with reality
// after restarts.
//
// The store is the only durable source of truth. In-memory retry timers are
// a latency optimization; the reconciliation sweep re-drives every
// non-terminal task regardless of timer survival.
package orchestrator

import (
	"context"
	"fmt"

	"melding/internal/types"
)

// TaskStore is the durable task persistence the orchestrator needs.
// Implemented by db.TaskRepository.
type TaskStore interface {
	// Create inserts a pending task for the resource, or reports
	// created=false with the existing task when an open one already covers
	// it.
	Create(ctx context.Context, resourceID string) (task *types.Task, created bool, err error)
	Get(ctx context.Context, id string) (*types.Task, error)
	GetForResource(ctx context.Context, resourceID string) (*types.Task, error)
	UpdateStatus(ctx context.Context, id string, status types.TaskStatus, retryCount int) error
	ListPending(ctx context.Context) ([]*types.Task, error)
	ListFailedForRetry(ctx context.Context, maxAttempts int) ([]*types.Task, error)
}

// ResourceStore mirrors task transitions onto the published resource.
// Implemented by db.ResourceRepository.
type ResourceStore interface {
	UpdateSubmissionStatus(ctx context.Context, resourceID string, status types.SubmissionStatus) error
	ListWithoutTask(ctx context.Context) ([]string, error)
}

// EligibilityChecker decides whether a resource requires a report.
// Implemented by rules.Evaluator.
type EligibilityChecker interface {
	RequiresReport(ctx context.Context, resourceID string) (bool, error)
}

// Submitter executes one outbound submission for a task. Implemented by
// submit.Client.
type Submitter interface {
	Submit(ctx context.Context, task *types.Task) (*types.SubmissionResult, error)
}

// retryScheduler arms a delayed re-submission for a failed task.
// Implemented by RetryScheduler; an interface so tests can observe arming
// without real timers.
type retryScheduler interface {
	ScheduleRetry(task *types.Task)
}

// Orchestrator processes batches of candidate resource ids and advances each
// resource's task through the submission state machine.
type Orchestrator struct {
	tasks       TaskStore
	resources   ResourceStore
	eligibility EligibilityChecker
	submitter   Submitter
	retries     retryScheduler
	guard       *Guard
	maxAttempts int
	logger      types.Logger
}

// Config holds the dependencies for creating an Orchestrator.
type Config struct {
	Tasks       TaskStore
	Resources   ResourceStore
	Eligibility EligibilityChecker
	Submitter   Submitter
	Guard       *Guard
	MaxAttempts int
	Logger      types.Logger
}

// New creates an Orchestrator. The retry scheduler is attached afterwards via
// SetRetryScheduler because scheduler and orchestrator reference each other.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		tasks:       cfg.Tasks,
		resources:   cfg.Resources,
		eligibility: cfg.Eligibility,
		submitter:   cfg.Submitter,
		guard:       cfg.Guard,
		maxAttempts: cfg.MaxAttempts,
		logger:      cfg.Logger,
	}
}

// SetRetryScheduler wires the scheduler that re-drives failed tasks. Must be
// called before the first submission; without it, failed tasks wait for the
// next sweep.
func (o *Orchestrator) SetRetryScheduler(rs retryScheduler) {
	o.retries = rs
}

// ProcessCandidates runs one guarded batch over the candidate resource ids.
// Candidates are processed in list order; one candidate's failure is logged
// and does not abort the rest. The guard is held for the whole batch and
// released when it completes.
func (o *Orchestrator) ProcessCandidates(ctx context.Context, resourceIDs []string) error {
	if err := o.guard.Acquire(ctx); err != nil {
		return err
	}
	defer o.guard.Release()

	for _, id := range resourceIDs {
		if err := o.processCandidate(ctx, id); err != nil {
			o.logger.Error("candidate processing failed",
				"resource", id,
				"error", err,
			)
		}
	}
	return nil
}

// processCandidate drives one resource id through eligibility, idempotent
// task creation, and first submission. Callers must hold the guard.
func (o *Orchestrator) processCandidate(ctx context.Context, resourceID string) error {
	required, err := o.eligibility.RequiresReport(ctx, resourceID)
	if err != nil {
		return types.NewAppError(types.ErrCodeEligibilityEvaluation,
			fmt.Sprintf("eligibility evaluation failed for %s", resourceID), err)
	}
	if !required {
		o.logger.Info("no report required", "resource", resourceID)
		return nil
	}

	// Lookup-before-create keeps a second delivery of the same change
	// notification, or an overlapping sweep, from creating a duplicate
	// task. Any existing task counts: terminal ones mean the resource was
	// handled, open ones mean it is in flight.
	existing, err := o.tasks.GetForResource(ctx, resourceID)
	if err != nil {
		return err
	}
	if existing != nil {
		o.logger.Info("task already exists, skipping",
			"resource", resourceID,
			"task", existing.ID,
			"status", string(existing.Status),
		)
		return nil
	}

	task, created, err := o.tasks.Create(ctx, resourceID)
	if err != nil {
		return err
	}
	if !created {
		// Lost the race to a concurrent writer; the store's uniqueness
		// guarantee did its job.
		o.logger.Info("task created concurrently elsewhere, skipping",
			"resource", resourceID,
			"task", task.ID,
		)
		return nil
	}

	if err := o.resources.UpdateSubmissionStatus(ctx, resourceID, types.SubmissionPending); err != nil {
		return err
	}

	o.logger.Info("task created", "task", task.ID, "resource", resourceID)
	o.SubmitOne(ctx, task)
	return nil
}

// SubmitOne executes one submission attempt for an existing task and applies
// the resulting state transition. The task is known eligible; neither the
// eligibility nor the idempotency check is repeated here, which is why retry
// timers may call this path without holding the guard.
func (o *Orchestrator) SubmitOne(ctx context.Context, task *types.Task) {
	result, err := o.submitter.Submit(ctx, task)
	if err != nil {
		// Payload assembly failed; indistinguishable from a transport
		// failure as far as the state machine cares.
		result = &types.SubmissionResult{
			Outcome: types.SubmissionOutcomeFailure,
			Detail:  err.Error(),
		}
	}

	switch result.Outcome {
	case types.SubmissionOutcomeSuccess:
		o.transition(ctx, task, types.TaskSuccess, task.RetryCount)
		o.logger.Info("submission succeeded", "task", task.ID, "resource", task.ResourceID)

	case types.SubmissionOutcomeConflict:
		o.transition(ctx, task, types.TaskAlreadySubmitted, task.RetryCount)
		// The response body says which path already delivered the
		// document; keep it for audit.
		o.logger.Info("resource already submitted elsewhere",
			"task", task.ID,
			"resource", task.ResourceID,
			"response", result.Detail,
		)

	case types.SubmissionOutcomeFailure:
		o.handleFailure(ctx, task, result.Detail)
	}
}

// handleFailure advances a failed task: bump the retry count, persist the
// failed state, and either arm a retry or stop when the budget is spent.
func (o *Orchestrator) handleFailure(ctx context.Context, task *types.Task, reason string) {
	task.RetryCount++
	o.transition(ctx, task, types.TaskFailed, task.RetryCount)

	o.logger.Error("submission failed",
		"task", task.ID,
		"resource", task.ResourceID,
		"attempt", task.RetryCount,
		"max_attempts", o.maxAttempts,
		"reason", reason,
	)

	if task.RetryCount >= o.maxAttempts {
		// Fail-stop: the task stays failed and visible in the store;
		// recovery beyond this point is an operator concern.
		o.logger.Error("retries exhausted, stopping",
			"task", task.ID,
			"resource", task.ResourceID,
		)
		return
	}

	if o.retries != nil {
		o.retries.ScheduleRetry(task)
	}
}

// transition persists a task status change and mirrors it onto the resource.
// Mirror failures are logged, not propagated: the task record is the source
// of truth and the next transition rewrites the mirror anyway.
func (o *Orchestrator) transition(ctx context.Context, task *types.Task, status types.TaskStatus, retryCount int) {
	if err := o.tasks.UpdateStatus(ctx, task.ID, status, retryCount); err != nil {
		o.logger.Error("task status update failed",
			"task", task.ID,
			"status", string(status),
			"error", err,
		)
		return
	}
	task.Status = status
	task.RetryCount = retryCount

	if err := o.resources.UpdateSubmissionStatus(ctx, task.ResourceID, types.SubmissionStatusFor(status)); err != nil {
		o.logger.Error("resource status mirror update failed",
			"resource", task.ResourceID,
			"error", err,
		)
	}
}
