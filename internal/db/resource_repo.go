package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"melding/internal/types"
)

// ResourceRepository provides data access for the published_resources and
// extracted_resources tables. Published resources are written by the upstream
// publication pipeline; this service only reads their facts and mirrors the
// submission status back onto them.
type ResourceRepository struct {
	db DBTX
}

// NewResourceRepository creates a new ResourceRepository backed by the given
// database connection (pool or transaction).
func NewResourceRepository(db DBTX) *ResourceRepository {
	return &ResourceRepository{db: db}
}

// GetFacts fetches the descriptive facts of a published resource used for
// one eligibility evaluation. A resource without a publication timestamp gets
// the current time: upstream occasionally publishes before stamping, and a
// missing timestamp must not make the document silently ineligible.
func (r *ResourceRepository) GetFacts(ctx context.Context, resourceID string) (*types.ResourceFacts, error) {
	row := r.db.QueryRow(ctx,
		`SELECT pr.id, pr.document_type, COALESCE(pr.decision_type, ''),
		        pr.body_classification, pr.governing_body_classification,
		        pr.published_at
		 FROM published_resources pr
		 WHERE pr.id = $1`,
		resourceID,
	)

	var facts types.ResourceFacts
	var publishedAt *time.Time
	err := row.Scan(
		&facts.ResourceID,
		&facts.DocumentType,
		&facts.DecisionType,
		&facts.BodyClassification,
		&facts.GoverningBodyClassification,
		&publishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundResource, "published resource not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch resource facts", err)
	}

	if publishedAt != nil {
		facts.PublishedAt = publishedAt.UTC()
	} else {
		facts.PublishedAt = time.Now().UTC()
	}

	return &facts, nil
}

// UpdateSubmissionStatus mirrors a task transition onto the published
// resource's externally visible submission status field.
func (r *ResourceRepository) UpdateSubmissionStatus(ctx context.Context, resourceID string, status types.SubmissionStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE published_resources SET submission_status = $1, submission_modified_at = NOW()
		 WHERE id = $2`,
		string(status),
		resourceID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update submission status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundResource, "published resource not found", nil)
	}
	return nil
}

// ListWithoutTask returns the ids of successfully published resources that
// have no task at all. These are notifications dropped before a task could be
// created (a crash between intake and task creation, or a missed delivery);
// the sweeper re-evaluates their eligibility before creating tasks for them.
func (r *ResourceRepository) ListWithoutTask(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT pr.id
		 FROM published_resources pr
		 LEFT JOIN tasks t ON t.resource_id = pr.id
		 WHERE pr.publication_status = 'success' AND t.id IS NULL
		 ORDER BY pr.published_at`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list resources without task", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan resource id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "resource row iteration failed", err)
	}
	return ids, nil
}

// GetSubmissionDetails returns the extracted resources derived from a
// published resource, with the session and body attributes needed to build
// the submission payload. A published resource normally yields exactly one
// extracted resource; the client submits the first one.
func (r *ResourceRepository) GetSubmissionDetails(ctx context.Context, resourceID string) ([]*types.SubmissionDetails, error) {
	rows, err := r.db.Query(ctx,
		`SELECT er.id, er.document_type, er.session_id,
		        er.body, er.body_label, er.classification_label
		 FROM extracted_resources er
		 WHERE er.published_resource_id = $1
		 ORDER BY er.id`,
		resourceID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch submission details", err)
	}
	defer rows.Close()

	var details []*types.SubmissionDetails
	for rows.Next() {
		var d types.SubmissionDetails
		if err := rows.Scan(&d.ExtractedResource, &d.DocumentType, &d.SessionID, &d.Body, &d.BodyLabel, &d.ClassificationLabel); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan submission details", err)
		}
		details = append(details, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "submission details iteration failed", err)
	}
	return details, nil
}

// GetExtractedUUID returns the short uuid of an extracted resource. Excerpt
// documents are published under per-document URLs, so the uuid becomes a path
// segment of the public href.
func (r *ResourceRepository) GetExtractedUUID(ctx context.Context, extractedResource string) (string, error) {
	row := r.db.QueryRow(ctx,
		`SELECT uuid FROM extracted_resources WHERE id = $1`,
		extractedResource,
	)
	var u string
	if err := row.Scan(&u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppError(types.ErrCodeNotFoundResource, "extracted resource not found", err)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to fetch extracted resource uuid", err)
	}
	return u, nil
}

// GetContainedDecision returns the decision document contained in an excerpt.
// Excerpts are not a decision type themselves; the contained decision is what
// gets submitted.
func (r *ResourceRepository) GetContainedDecision(ctx context.Context, extractedResource string) (string, error) {
	row := r.db.QueryRow(ctx,
		`SELECT decision_id FROM extracted_resources WHERE id = $1`,
		extractedResource,
	)
	var decision string
	if err := row.Scan(&decision); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppError(types.ErrCodeNotFoundResource, "extracted resource not found", err)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to fetch contained decision", err)
	}
	return decision, nil
}
