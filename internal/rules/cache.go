// Package rules implements the eligibility side of the melding service: an
// in-memory cache of notification rules refreshed wholesale from the store,
// and the evaluator that decides whether a published resource requires a
// report to the external authority.
package rules

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"melding/internal/types"
)

// RuleSource is the external source the cache refreshes from. Implemented by
// db.RuleRepository.
type RuleSource interface {
	// FetchAll bulk-fetches the document-type and decision-type rule tables.
	FetchAll(ctx context.Context) (document, decision []types.Rule, err error)
}

// snapshot is one immutable, internally consistent view of both rule tables.
// Readers hold a snapshot for the duration of one evaluation; refresh swaps
// the pointer and never mutates a published snapshot.
type snapshot struct {
	documentRules []types.Rule
	decisionRules []types.Rule
	refreshedAt   time.Time
}

// Cache holds the two notification rule tables. Reads are lock-free against
// concurrent refresh via atomic snapshot swap. A failed refresh keeps the
// last-good snapshot: stale-but-valid beats empty.
type Cache struct {
	source RuleSource
	logger types.Logger
	clock  types.Clock

	current atomic.Pointer[snapshot]
}

// NewCache creates an empty rule cache backed by the given source. The cache
// matches nothing until the first successful Refresh.
func NewCache(source RuleSource, logger types.Logger, clock types.Clock) *Cache {
	if clock == nil {
		clock = types.RealClock{}
	}
	c := &Cache{
		source: source,
		logger: logger,
		clock:  clock,
	}
	c.current.Store(&snapshot{})
	return c
}

// Refresh replaces both tables atomically from the rule source. On error the
// existing snapshot stays in place and the error is returned for the caller
// to log; the next scheduled tick retries.
func (c *Cache) Refresh(ctx context.Context) error {
	document, decision, err := c.source.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("rules: refresh: %w", err)
	}

	c.current.Store(&snapshot{
		documentRules: document,
		decisionRules: decision,
		refreshedAt:   c.clock.Now(),
	})

	c.logger.Info("rule cache refreshed",
		"document_rules", len(document),
		"decision_rules", len(decision),
	)

	return nil
}

// DocumentRules returns the current document-type rule table. The returned
// slice belongs to an immutable snapshot and must not be modified.
func (c *Cache) DocumentRules() []types.Rule {
	return c.current.Load().documentRules
}

// DecisionRules returns the current decision-type rule table. The returned
// slice belongs to an immutable snapshot and must not be modified.
func (c *Cache) DecisionRules() []types.Rule {
	return c.current.Load().decisionRules
}

// RefreshedAt returns when the current snapshot was taken; zero before the
// first successful refresh.
func (c *Cache) RefreshedAt() time.Time {
	return c.current.Load().refreshedAt
}
