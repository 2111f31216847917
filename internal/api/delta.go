// Package api provides the HTTP intake surface of the melding service: the
// endpoint receiving delta change notifications from the upstream publication
// pipeline, plus health and welcome routes.
package api

import (
	"melding/internal/config"
)

// Term is one node of a delta triple.
type Term struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Triple is a single statement in a delta changeset.
type Triple struct {
	Subject   Term `json:"subject"`
	Predicate Term `json:"predicate"`
	Object    Term `json:"object"`
}

// Changeset is one entry of a delta message: the statements inserted and
// deleted by an upstream write.
type Changeset struct {
	Inserts []Triple `json:"inserts"`
	Deletes []Triple `json:"deletes"`
}

// PublishedResources extracts the ids of resources whose publication status
// flipped to success in the given delta, deduplicated in first-seen order.
// Only inserts matter: a publication status is never meaningfully retracted.
func PublishedResources(delta []Changeset, filter config.IntakeConfig) []string {
	seen := make(map[string]struct{})
	var ids []string

	for _, cs := range delta {
		for _, t := range cs.Inserts {
			if t.Predicate.Type != "uri" || t.Predicate.Value != filter.Predicate {
				continue
			}
			if t.Object.Type != "uri" || t.Object.Value != filter.Object {
				continue
			}
			if _, dup := seen[t.Subject.Value]; dup {
				continue
			}
			seen[t.Subject.Value] = struct{}{}
			ids = append(ids, t.Subject.Value)
		}
	}

	return ids
}
