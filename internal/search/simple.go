package search

import (
	"context"
	"sort"
	"strings"

	"openpalace/internal/component"
	"openpalace/internal/scratch"
)

// SimpleBackend is the always-available zero-state keyword scan over
// component changelogs, summaries, and recent scratch notes (spec.md
// §4.9 "Simple").
type SimpleBackend struct {
	components *component.Store
	scratch    *scratch.Pad
}

// NewSimpleBackend returns a SimpleBackend over components and pad.
func NewSimpleBackend(components *component.Store, pad *scratch.Pad) *SimpleBackend {
	return &SimpleBackend{components: components, scratch: pad}
}

func (s *SimpleBackend) Name() string     { return "simple" }
func (s *SimpleBackend) Available() bool  { return true }
func (s *SimpleBackend) Reindex(ctx context.Context) (int, error) {
	docs, err := buildCorpus(s.components, s.scratch)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Search scores each document as the fraction of whitespace-split query
// terms present in it, case-insensitively.
func (s *SimpleBackend) Search(ctx context.Context, query, scope string, limit int) ([]Result, error) {
	docs, err := buildCorpus(s.components, s.scratch)
	if err != nil {
		return nil, err
	}

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	var results []Result
	for _, d := range docs {
		if !matchesScope(d.component, scope) {
			continue
		}
		lower := strings.ToLower(d.content)
		hits := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		results = append(results, Result{
			ID:        d.id,
			Content:   d.content,
			Source:    d.source,
			Score:     float64(hits) / float64(len(terms)),
			Component: d.component,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
