package orchestrator

import (
	"context"
	"time"

	"melding/internal/types"
)

// Sweeper reconciles durable task state with reality. It runs at boot and on
// a schedule, rebuilding the authoritative work list from the store: pending
// tasks whose in-memory timer died with the previous process, failed tasks
// with retry budget left (boot only), and governed resources that never got a
// task at all. Each item is re-driven through the orchestrator synchronously.
//
// The sweep is the correctness mechanism; timers are the latency mechanism.
// Terminal tasks are never selected and therefore never touched.
type Sweeper struct {
	tasks       TaskStore
	resources   ResourceStore
	orch        *Orchestrator
	guard       *Guard
	maxAttempts int

	// staleness flags pending tasks that have sat unusually long; surfaced
	// in logs for operators, not acted upon.
	staleness time.Duration

	clock  types.Clock
	logger types.Logger
}

// SweeperConfig holds the dependencies for creating a Sweeper.
type SweeperConfig struct {
	Tasks       TaskStore
	Resources   ResourceStore
	Orch        *Orchestrator
	Guard       *Guard
	MaxAttempts int
	Staleness   time.Duration
	Clock       types.Clock
	Logger      types.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Sweeper{
		tasks:       cfg.Tasks,
		resources:   cfg.Resources,
		orch:        cfg.Orch,
		guard:       cfg.Guard,
		maxAttempts: cfg.MaxAttempts,
		staleness:   cfg.Staleness,
		clock:       clock,
		logger:      cfg.Logger,
	}
}

// Sweep runs one full reconciliation pass under the guard.
//
// includeFailedRetries is set on the boot sweep only: it additionally picks
// up failed tasks whose retry timer may have been lost between the last
// persist and a crash. The periodic sweep leaves those to their armed timers.
//
// Errors on one item are logged and do not abort the sweep for the others.
func (s *Sweeper) Sweep(ctx context.Context, includeFailedRetries bool) error {
	if err := s.guard.Acquire(ctx); err != nil {
		return err
	}
	defer s.guard.Release()

	worklist, err := s.tasks.ListPending(ctx)
	if err != nil {
		return err
	}
	s.logStale(worklist)

	if includeFailedRetries {
		failed, err := s.tasks.ListFailedForRetry(ctx, s.maxAttempts)
		if err != nil {
			return err
		}
		worklist = append(worklist, failed...)
	}

	s.logger.Info("reconciliation sweep started",
		"tasks", len(worklist),
		"include_failed", includeFailedRetries,
	)

	for _, task := range worklist {
		s.redrive(ctx, task)
	}

	// Resources that never got a task: a crash between intake and task
	// creation, or a delivery this instance never saw. Eligibility is
	// re-evaluated before any task is created, mirroring the batch path.
	orphans, err := s.resources.ListWithoutTask(ctx)
	if err != nil {
		// The task half of the sweep already ran; report the orphan scan
		// failure and let the next sweep retry it.
		return err
	}
	for _, resourceID := range orphans {
		if err := s.orch.processCandidate(ctx, resourceID); err != nil {
			s.logger.Error("sweep: orphan resource processing failed",
				"resource", resourceID,
				"error", err,
			)
		}
	}

	s.logger.Info("reconciliation sweep complete",
		"tasks", len(worklist),
		"orphan_resources", len(orphans),
	)
	return nil
}

// redrive re-arms one existing task and submits it synchronously. No backoff
// delay applies here: the sweep interval itself is the backoff.
func (s *Sweeper) redrive(ctx context.Context, task *types.Task) {
	if err := s.tasks.UpdateStatus(ctx, task.ID, types.TaskPending, task.RetryCount); err != nil {
		s.logger.Error("sweep: task status reset failed", "task", task.ID, "error", err)
		return
	}
	task.Status = types.TaskPending

	if err := s.resources.UpdateSubmissionStatus(ctx, task.ResourceID, types.SubmissionPending); err != nil {
		s.logger.Error("sweep: resource status mirror update failed",
			"resource", task.ResourceID,
			"error", err,
		)
	}

	s.orch.SubmitOne(ctx, task)
}

// logStale reports pending tasks older than the staleness threshold.
func (s *Sweeper) logStale(pending []*types.Task) {
	if s.staleness <= 0 {
		return
	}
	cutoff := s.clock.Now().Add(-s.staleness)
	for _, task := range pending {
		if task.ModifiedAt.Before(cutoff) {
			s.logger.Warn("pending task is stale",
				"task", task.ID,
				"resource", task.ResourceID,
				"modified_at", task.ModifiedAt.Format(time.RFC3339),
			)
		}
	}
}
