package rules

import (
	"context"
	"fmt"

	"melding/internal/types"
)

// documentTypeAliases maps legacy publication type identifiers to the current
// document-type concepts used in the rule tables. Older publishing pipelines
// still stamp resources with the legacy identifiers, and some rule rows were
// loaded before the concept scheme migration, so both sides of a match are
// resolved through this table.
var documentTypeAliases = map[string]string{
	"http://mu.semte.ch/vocabularies/ext/Agenda":         "https://data.vlaanderen.be/id/concept/BesluitDocumentType/13fefad6-a9d6-4025-83b5-e4cbee3a8965",
	"http://mu.semte.ch/vocabularies/ext/Besluitenlijst": "https://data.vlaanderen.be/id/concept/BesluitDocumentType/3fa67785-ffdc-4b30-8880-2b99d97b4dee",
	"http://mu.semte.ch/vocabularies/ext/Notulen":        "https://data.vlaanderen.be/id/concept/BesluitDocumentType/8e791b27-7600-4577-b24e-c7c29e0eb773",
}

// governingBodyAllowList is the fixed set of governing-body classification
// codes whose publications are eligible for this notification channel.
// Bodies outside the list (e.g. committees) publish through other channels.
var governingBodyAllowList = map[string]struct{}{
	// Gemeenteraad
	"http://data.vlaanderen.be/id/concept/BestuursorgaanClassificatieCode/5ab0e9b8a3b2ca7c5e000005": {},
	// Raad voor Maatschappelijk Welzijn
	"http://data.vlaanderen.be/id/concept/BestuursorgaanClassificatieCode/5ab0e9b8a3b2ca7c5e000007": {},
	// Districtsraad
	"http://data.vlaanderen.be/id/concept/BestuursorgaanClassificatieCode/5ab0e9b8a3b2ca7c5e000009": {},
}

// FactsSource provides the descriptive facts of a published resource.
// Implemented by db.ResourceRepository.
type FactsSource interface {
	GetFacts(ctx context.Context, resourceID string) (*types.ResourceFacts, error)
}

// RuleTables is the read side of the rule cache.
type RuleTables interface {
	DocumentRules() []types.Rule
	DecisionRules() []types.Rule
}

// Evaluator decides whether a published resource requires a report. It never
// mutates state. Evaluation errors propagate to the caller: silently skipping
// a reportable document is a correctness violation, so there is no
// fail-closed default here.
type Evaluator struct {
	facts FactsSource
	rules RuleTables
}

// NewEvaluator creates an Evaluator over the given facts source and rule
// tables.
func NewEvaluator(facts FactsSource, rules RuleTables) *Evaluator {
	return &Evaluator{
		facts: facts,
		rules: rules,
	}
}

// RequiresReport fetches the resource's facts and matches them against both
// rule tables.
//
// The document-type path is evaluated first: a rule matches when its match
// key resolves to the same document type as the resource (directly or through
// the legacy alias table), the body classifications agree, the publication
// time falls within the rule's validity interval, and the governing body's
// classification is on the channel allow-list.
//
// When the document path yields no positive verdict and the resource is a
// derived excerpt carrying a decision type, the decision-type path applies
// the same matching logic against the decision rule table.
//
// Any matching, temporally valid rule with an obligation to report yields
// true. Rule sets are non-overlapping by construction of the source data;
// contradictory overlaps are an upstream data error and are not resolved
// here.
func (e *Evaluator) RequiresReport(ctx context.Context, resourceID string) (bool, error) {
	facts, err := e.facts.GetFacts(ctx, resourceID)
	if err != nil {
		return false, fmt.Errorf("rules: evaluating %s: %w", resourceID, err)
	}

	if _, allowed := governingBodyAllowList[facts.GoverningBodyClassification]; !allowed {
		return false, nil
	}

	docType := resolveDocumentType(facts.DocumentType)
	for _, rule := range e.rules.DocumentRules() {
		if resolveDocumentType(rule.MatchKey) != docType {
			continue
		}
		if matches(rule, facts) && rule.ObligationToReport {
			return true, nil
		}
	}

	if facts.DecisionType == "" {
		return false, nil
	}
	for _, rule := range e.rules.DecisionRules() {
		if rule.MatchKey != facts.DecisionType {
			continue
		}
		if matches(rule, facts) && rule.ObligationToReport {
			return true, nil
		}
	}

	return false, nil
}

// matches applies the body and temporal conditions shared by both paths.
// The match-key comparison is done by the caller.
func matches(rule types.Rule, facts *types.ResourceFacts) bool {
	if rule.BodyClassification != facts.BodyClassification {
		return false
	}
	return rule.AppliesAt(facts.PublishedAt)
}

// resolveDocumentType maps a legacy type identifier to its current concept.
// Identifiers without an alias entry are already canonical.
func resolveDocumentType(t string) string {
	if canonical, ok := documentTypeAliases[t]; ok {
		return canonical
	}
	return t
}
