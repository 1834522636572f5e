package search

import (
	"strings"

	"openpalace/internal/component"
	"openpalace/internal/scratch"
)

// doc is one indexable unit: a changelog entry, a component summary, or
// a scratch note, matching the granularity spec.md §4.9 describes for
// the embedded-BM25 backend and reused by the simple backend for a
// consistent result shape.
type doc struct {
	id        string
	content   string
	source    string
	component string
}

const summaryTruncateChars = 4000

// buildCorpus assembles every document the simple and BM25 backends
// search over: one per changelog entry and one per component summary
// across every component, plus one per scratch note from the last two
// calendar days.
func buildCorpus(components *component.Store, pad *scratch.Pad) ([]doc, error) {
	var docs []doc

	scopes, err := components.List("")
	if err != nil {
		return nil, err
	}
	for _, scope := range scopes {
		summary, err := components.GetSummary(scope)
		if err == nil && strings.TrimSpace(summary) != "" {
			if len(summary) > summaryTruncateChars {
				summary = summary[:summaryTruncateChars]
			}
			docs = append(docs, doc{id: "summary:" + scope, content: summary, source: "summary", component: scope})
		}

		entries, err := components.ReadChangelogEntries(scope)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			docs = append(docs, doc{id: e.ID, content: changelogSearchText(e), source: "changelog", component: scope})
		}
	}

	if pad != nil {
		notes, err := pad.ReadRecent(2)
		if err != nil {
			return nil, err
		}
		for _, n := range notes {
			docs = append(docs, doc{id: n.ID, content: n.Content, source: "scratch"})
		}
	}

	return docs, nil
}

func matchesScope(component, scope string) bool {
	return scope == "" || strings.HasPrefix(component, scope)
}

// changelogSearchText concatenates the fields spec.md §4.9 names for the
// embedded-BM25 corpus: summary, decision, rationale, details.
func changelogSearchText(e component.ChangelogEntry) string {
	parts := make([]string, 0, 4)
	parts = append(parts, e.Summary)
	if e.Decision != "" {
		parts = append(parts, e.Decision)
	}
	if e.Rationale != "" {
		parts = append(parts, e.Rationale)
	}
	if e.Details != "" {
		parts = append(parts, e.Details)
	}
	return strings.Join(parts, "\n")
}
