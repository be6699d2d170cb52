// Package search implements substring search across the Entity Store and
// Fact Store (spec §4.9), grounded in the teacher's SearchIssues query
// idiom (a case-insensitive LIKE scan, no ranking). Relevance-scored or
// embedding-backed retrieval is explicitly out of scope (spec Non-goals),
// so this stays a straightforward substring match over both stores.
package search

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/memogarden/memogarden/internal/core"
	"github.com/memogarden/memogarden/internal/soil"
)

// TargetType narrows a search to one store; "" searches both.
type TargetType string

const (
	TargetAny    TargetType = ""
	TargetEntity TargetType = "entity"
	TargetFact   TargetType = "fact"
)

// Coverage controls which JSON paths are scanned; re-exported from soil
// so callers only need to import this package.
type Coverage = soil.Coverage

const (
	CoverageNames   = soil.CoverageNames
	CoverageContent = soil.CoverageContent
	CoverageFull    = soil.CoverageFull
)

// Result is one matched row, tagged with which store it came from.
type Result struct {
	Kind string          `json:"kind"` // "entity" | "fact"
	UUID string          `json:"uuid"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Engine scans both stores for a substring match. Entities are searched
// first, then facts, up to limit combined results; no relevance ranking
// is applied across stores.
type Engine struct {
	entities *core.Store
	facts    *soil.Store
}

func New(entities *core.Store, facts *soil.Store) *Engine {
	return &Engine{entities: entities, facts: facts}
}

// Search performs a case-insensitive substring scan. strategy, effort,
// threshold and continuation_token (accepted at the verb layer) have no
// effect here: this engine has exactly one strategy.
func (e *Engine) Search(ctx context.Context, query string, target TargetType, coverage Coverage, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []Result

	if target == TargetAny || target == TargetEntity {
		entities, _, err := e.entities.QueryWithFilters(ctx, core.QueryFilter{Limit: 10000})
		if err != nil {
			return nil, err
		}
		q := strings.ToLower(query)
		for _, ent := range entities {
			if entityMatches(ent, q, coverage) {
				out = append(out, Result{Kind: "entity", UUID: ent.UUID, Type: ent.Type, Data: ent.Data})
				if len(out) >= limit {
					return out, nil
				}
			}
		}
	}

	if target == TargetAny || target == TargetFact {
		facts, err := e.facts.SearchFacts(ctx, query, coverage, limit-len(out))
		if err != nil {
			return nil, err
		}
		for _, f := range facts {
			out = append(out, Result{Kind: "fact", UUID: f.UUID, Type: f.Type, Data: f.Data})
			if len(out) >= limit {
				break
			}
		}
	}

	return out, nil
}

var nameLikeKeys = []string{"name", "title", "subject"}
var bodyKeys = []string{"body", "content", "text", "message", "description"}

func entityMatches(e core.Entity, q string, coverage Coverage) bool {
	if e.SupersededBy != nil {
		return false
	}
	var blob map[string]any
	_ = json.Unmarshal(e.Data, &blob)

	keys := nameLikeKeys
	switch coverage {
	case CoverageContent:
		keys = append(append([]string{}, nameLikeKeys...), bodyKeys...)
	case CoverageFull:
		for _, v := range blob {
			if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), q) {
				return true
			}
		}
	}
	for _, k := range keys {
		if v, ok := blob[k]; ok {
			if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), q) {
				return true
			}
		}
	}
	return false
}
