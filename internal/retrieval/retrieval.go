// Package retrieval implements Retrieval+Digest (spec.md §4.15):
// progressive L0 -> L1 -> L2 lookup ending in a language-model synthesis
// step, degrading gracefully to raw hits when no model is available.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"openpalace/internal/component"
	"openpalace/internal/index"
	"openpalace/internal/paths"
	"openpalace/internal/search"
)

const (
	maxMatchedScopes    = 5
	fallbackScopeCount  = 3
	searchDataLimit     = 15
	synthesisMaxTokens  = 800
)

// LanguageModel is the narrow interface retrieval needs from the
// language-model caller.
type LanguageModel interface {
	Ask(ctx context.Context, systemPrompt, userMessage string, maxTokens int) (string, error)
}

// Result is the full outcome of a Retrieve call.
type Result struct {
	MatchedScopes []string
	Summaries     map[string]string
	Hits          []search.Result
	Synthesis     string
	Synthesized   bool
}

// Engine runs Retrieve over a store's L0, components, and search router.
type Engine struct {
	index      *index.L0
	components *component.Store
	router     *search.Router
	model      LanguageModel
}

// New returns an Engine wired to the running store's subsystems.
func New(idx *index.L0, components *component.Store, router *search.Router) *Engine {
	return &Engine{index: idx, components: components, router: router}
}

// SetModel installs the language-model caller used for the synthesis
// step. Left unset, Retrieve still succeeds with raw hits and summaries.
func (e *Engine) SetModel(m LanguageModel) { e.model = m }

// Retrieve runs the full pipeline: L0 search, scope mapping, summary
// reads, a bounded search_data call, and (if a model is wired) a final
// synthesis pass over everything gathered.
func (e *Engine) Retrieve(ctx context.Context, query, scope string) (*Result, error) {
	matched, err := e.matchScopes(query)
	if err != nil {
		return nil, err
	}

	summaries := make(map[string]string, len(matched))
	for _, s := range matched {
		summary, err := e.components.GetSummary(s)
		if err != nil {
			continue
		}
		summaries[s] = summary
	}

	hits, err := e.router.Search(ctx, query, scope, searchDataLimit)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search_data: %w", err)
	}

	result := &Result{MatchedScopes: matched, Summaries: summaries, Hits: hits}

	if e.model == nil {
		return result, nil
	}

	synthesis, err := e.synthesize(ctx, query, summaries, hits)
	if err != nil {
		return result, nil // degrade gracefully: raw hits plus summaries still succeed
	}
	result.Synthesis = synthesis
	result.Synthesized = true
	return result, nil
}

// matchScopes searches L0 for query and maps matching lines to component
// scopes, capped at maxMatchedScopes. If nothing matched, it falls back
// to the first fallbackScopeCount components listed overall.
func (e *Engine) matchScopes(query string) ([]string, error) {
	lines, err := e.index.Search(query, "")
	if err != nil {
		return nil, fmt.Errorf("retrieval: L0 search: %w", err)
	}

	var matched []string
	seen := make(map[string]bool)
	for _, line := range lines {
		scope, ok := scopeFromL0Line(line)
		if !ok || seen[scope] {
			continue
		}
		seen[scope] = true
		matched = append(matched, scope)
		if len(matched) >= maxMatchedScopes {
			break
		}
	}
	if len(matched) > 0 {
		return matched, nil
	}

	all, err := e.components.List("")
	if err != nil {
		return nil, fmt.Errorf("retrieval: listing components: %w", err)
	}
	if len(all) > fallbackScopeCount {
		all = all[:fallbackScopeCount]
	}
	return all, nil
}

func scopeFromL0Line(line string) (string, bool) {
	// line is "[TAG] key | status"
	if len(line) < 4 || line[0] != '[' {
		return "", false
	}
	end := strings.IndexByte(line, ']')
	if end < 0 {
		return "", false
	}
	tag := line[1:end]
	componentType, ok := paths.ComponentTypeForTag(tag)
	if !ok {
		return "", false
	}
	rest := strings.TrimSpace(line[end+1:])
	key, _, found := strings.Cut(rest, " | ")
	if !found {
		key = rest
	}
	if key == "" {
		return "", false
	}
	return component.Scope(componentType, key), true
}

func (e *Engine) synthesize(ctx context.Context, query string, summaries map[string]string, hits []search.Result) (string, error) {
	var b strings.Builder
	b.WriteString("Summaries:\n")
	for scope, summary := range summaries {
		fmt.Fprintf(&b, "- %s: %s\n", scope, summary)
	}
	b.WriteString("\nSearch hits:\n")
	for _, h := range hits {
		fmt.Fprintf(&b, "- [%s] %s\n", h.Component, h.Content)
	}

	system := "You answer questions about an agent's stored memory using only the provided context. Be concise."
	user := fmt.Sprintf("Question: %s\n\nContext:\n%s", query, b.String())
	return e.model.Ask(ctx, system, user, synthesisMaxTokens)
}
