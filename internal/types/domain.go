// Package types defines the shared domain model for the melding service:
// submission tasks, eligibility rules, resource facts, and the cross-cutting
// interfaces (Logger, Clock) used by all other packages.
package types

import (
	"time"
)

// TaskStatus is the lifecycle state of a submission task.
type TaskStatus string

const (
	// TaskPending means the task is created or re-armed and awaits a
	// submission attempt.
	TaskPending TaskStatus = "pending"

	// TaskSuccess means the external authority accepted the submission.
	// Terminal.
	TaskSuccess TaskStatus = "success"

	// TaskFailed means the last submission attempt failed. Non-terminal
	// while RetryCount < MaxAttempts, terminal afterwards.
	TaskFailed TaskStatus = "failed"

	// TaskAlreadySubmitted means the authority already holds the document
	// (conflict response). Terminal, not an error.
	TaskAlreadySubmitted TaskStatus = "already_submitted"
)

// Terminal reports whether a task in this status is never picked up again
// by the orchestrator or the sweeper. A failed task is only conditionally
// terminal (retry budget), which the callers check against RetryCount.
func (s TaskStatus) Terminal() bool {
	return s == TaskSuccess || s == TaskAlreadySubmitted
}

// SubmissionStatus is the resource-side mirror of the task lifecycle. It is
// written to the published resource so downstream consumers can see the
// reporting state without joining on tasks.
type SubmissionStatus string

const (
	SubmissionPending SubmissionStatus = "submission_pending"
	SubmissionFailed  SubmissionStatus = "submission_failed"
	SubmissionSuccess SubmissionStatus = "submission_success"
)

// SubmissionStatusFor maps a task status to the resource mirror status.
// AlreadySubmitted maps to success: the authority has the document either way.
func SubmissionStatusFor(s TaskStatus) SubmissionStatus {
	switch s {
	case TaskSuccess, TaskAlreadySubmitted:
		return SubmissionSuccess
	case TaskFailed:
		return SubmissionFailed
	default:
		return SubmissionPending
	}
}

// Task is the durable record tracking one published resource's reporting
// lifecycle. At most one non-terminal task exists per resource; terminal
// tasks are retained for history and never deleted by this service.
type Task struct {
	ID         string
	Status     TaskStatus
	RetryCount int
	ResourceID string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// RuleKind distinguishes the two eligibility rule tables.
type RuleKind string

const (
	// RuleKindDocument rules match on the published resource's document type.
	RuleKindDocument RuleKind = "document"

	// RuleKindDecision rules match on the decision type carried by derived
	// excerpts.
	RuleKindDecision RuleKind = "decision"
)

// Rule is a temporally scoped reporting obligation for one document or
// decision type published by bodies of one classification.
type Rule struct {
	// MatchKey is the document-type or decision-type identifier the rule
	// governs.
	MatchKey string

	// BodyClassification is the classification code of the administrative
	// body whose publications the rule covers.
	BodyClassification string

	// ObligationToReport is the verdict a temporally valid match produces.
	ObligationToReport bool

	// ValidFrom and ValidThrough bound the publication times the rule
	// applies to: [ValidFrom, ValidThrough). A nil bound is unconstrained.
	// A rule with neither bound is inactive and never matches.
	ValidFrom    *time.Time
	ValidThrough *time.Time
}

// Active reports whether the rule carries at least one validity bound.
// Upstream rows without any bound are malformed and must never match.
func (r Rule) Active() bool {
	return r.ValidFrom != nil || r.ValidThrough != nil
}

// AppliesAt reports whether the publication time falls inside the rule's
// validity interval. The lower bound is inclusive, the upper exclusive.
func (r Rule) AppliesAt(publishedAt time.Time) bool {
	if !r.Active() {
		return false
	}
	if r.ValidFrom != nil && publishedAt.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidThrough != nil && !publishedAt.Before(*r.ValidThrough) {
		return false
	}
	return true
}

// ResourceFacts are the descriptive facts of a published resource needed for
// one eligibility evaluation. They are fetched per evaluation and never
// cached.
type ResourceFacts struct {
	ResourceID string

	// DocumentType is the type identifier of the published document.
	DocumentType string

	// DecisionType is set only when the resource is a derived excerpt that
	// carries a decision; empty otherwise.
	DecisionType string

	// BodyClassification is the classification code of the administrative
	// body that published the resource.
	BodyClassification string

	// GoverningBodyClassification is the classification code of the
	// governing body that held the session the resource stems from.
	GoverningBodyClassification string

	// PublishedAt is the publication timestamp. Repositories fall back to
	// the current time when the upstream record lacks one.
	PublishedAt time.Time
}

// SubmissionOutcome is the tri-state result of one submission attempt.
type SubmissionOutcome string

const (
	// SubmissionOutcomeSuccess means the authority accepted the submission.
	SubmissionOutcomeSuccess SubmissionOutcome = "success"

	// SubmissionOutcomeConflict means the authority already holds the
	// document (submitted through another path). Terminal, not an error.
	SubmissionOutcomeConflict SubmissionOutcome = "conflict"

	// SubmissionOutcomeFailure means the attempt failed for a transient or
	// unknown reason and is eligible for retry.
	SubmissionOutcomeFailure SubmissionOutcome = "failure"
)

// SubmissionResult carries the outcome of a submission attempt plus a
// human-readable detail (response body or failure reason) for logging and
// audit.
type SubmissionResult struct {
	Outcome SubmissionOutcome
	Detail  string
}

// SubmissionDetails describe the extracted resource behind a published
// resource, used to assemble the outbound submission payload.
type SubmissionDetails struct {
	// ExtractedResource is the identifier of the derived document to submit.
	ExtractedResource string

	// DocumentType is the extracted resource's type identifier.
	DocumentType string

	// SessionID identifies the session the document belongs to; it is a
	// path segment of the public URL.
	SessionID string

	// Body and its display label identify the publishing administrative body.
	Body      string
	BodyLabel string

	// ClassificationLabel is the display label of the body's classification,
	// also a path segment of the public URL.
	ClassificationLabel string
}
