package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"melding/internal/types"
)

// RuleRepository is the external rule source consumed by the rule cache.
// Rules live in the notification_rules table, one row per (kind, match key,
// body classification), maintained by the upstream configuration pipeline.
type RuleRepository struct {
	db DBTX
}

// NewRuleRepository creates a new RuleRepository backed by the given database
// connection (pool or transaction).
func NewRuleRepository(db DBTX) *RuleRepository {
	return &RuleRepository{db: db}
}

// FetchAll bulk-fetches both rule tables in one pass. The cache swaps its
// snapshot wholesale from the result; partial reads are never exposed.
func (r *RuleRepository) FetchAll(ctx context.Context) (document, decision []types.Rule, err error) {
	rows, err := r.db.Query(ctx,
		`SELECT kind, match_key, body_classification, obligation_to_report,
		        valid_from, valid_through
		 FROM notification_rules`,
	)
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeRuleRefresh, "failed to fetch notification rules", err)
	}
	defer rows.Close()

	document, decision, err = collectRules(rows)
	if err != nil {
		return nil, nil, err
	}
	return document, decision, nil
}

func collectRules(rows pgx.Rows) (document, decision []types.Rule, err error) {
	for rows.Next() {
		var kind string
		var rule types.Rule
		var validFrom, validThrough *time.Time
		if err := rows.Scan(&kind, &rule.MatchKey, &rule.BodyClassification, &rule.ObligationToReport, &validFrom, &validThrough); err != nil {
			return nil, nil, types.NewAppError(types.ErrCodeRuleRefresh, "failed to scan notification rule", err)
		}
		rule.ValidFrom = utcOrNil(validFrom)
		rule.ValidThrough = utcOrNil(validThrough)

		switch types.RuleKind(kind) {
		case types.RuleKindDocument:
			document = append(document, rule)
		case types.RuleKindDecision:
			decision = append(decision, rule)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeRuleRefresh, "rule row iteration failed", err)
	}
	return document, decision, nil
}

func utcOrNil(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
