// Package validator implements the Write Validator (spec.md §4.10): an
// advisory pre-write check that compares proposed content against a
// component's recent entries and summary, returning a structured risk
// list rather than a pass/fail verdict. Callers decide whether a
// non-passing result aborts the write; the built-in changelog policy
// does not.
package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"openpalace/internal/component"
	"openpalace/internal/logging"
)

// LanguageModel is the minimal surface the validator needs from the LLM
// caller (spec.md §4.16), kept as a narrow interface so this package
// never imports internal/llm directly.
type LanguageModel interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// RiskType classifies a single flagged concern.
type RiskType string

const (
	RiskDuplicate     RiskType = "duplicate"
	RiskContradiction RiskType = "contradiction"
	RiskHallucination RiskType = "hallucination"
	RiskStaleOverride RiskType = "stale_override"
)

// Severity ranks how seriously a Risk should be taken.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Risk is one flagged concern about a proposed write.
type Risk struct {
	Type               RiskType `json:"type"`
	Severity           Severity `json:"severity"`
	Description        string   `json:"description"`
	ConflictingEntryID string   `json:"conflicting_entry_id,omitempty"`
}

// Result is the validator's verdict: advisory, never itself an error.
type Result struct {
	Passed     bool   `json:"passed"`
	Risks      []Risk `json:"risks"`
	Suggestion string `json:"suggestion,omitempty"`
}

// WriteKind distinguishes a changelog write from a summary write.
type WriteKind string

const (
	WriteChangelog WriteKind = "changelog"
	WriteSummary   WriteKind = "summary"
)

// Validator checks a prospective write against a component's recent
// history before it is committed.
type Validator struct {
	components *component.Store
	model      LanguageModel

	// LookbackEntries bounds how many recent entries are gathered.
	// Zero uses a sane default.
	LookbackEntries int
}

// New returns a Validator backed by components, with no LLM configured
// (heuristic-only) until SetModel is called.
func New(components *component.Store) *Validator {
	return &Validator{components: components, LookbackEntries: 20}
}

// SetModel installs (or clears, with nil) the LLM used as the primary
// judge.
func (v *Validator) SetModel(m LanguageModel) { v.model = m }

// ValidateWrite implements spec.md §4.10's validate_write. content is the
// proposed new text; existingSummary is the component's current summary
// (may be empty).
func (v *Validator) ValidateWrite(ctx context.Context, scope string, kind WriteKind, content, existingSummary string) (*Result, error) {
	entries, err := v.components.ReadChangelogEntries(scope)
	if err != nil {
		return nil, err
	}
	lookback := v.LookbackEntries
	if lookback <= 0 {
		lookback = 20
	}
	if len(entries) > lookback {
		entries = entries[len(entries)-lookback:]
	}

	if len(entries) == 0 && existingSummary == "" {
		return &Result{Passed: true}, nil
	}

	if v.model != nil {
		if result, err := v.askModel(ctx, content, entries, existingSummary); err == nil {
			return result, nil
		} else {
			logging.Get(logging.CategoryValidator).Warn("llm validation unavailable, falling back to heuristic: %v", err)
		}
	}

	return v.heuristicCheck(content, entries, existingSummary), nil
}

// ValidateChangelogEntry implements changelog.Validator. Per spec.md
// §4.10's built-in policy, changelog record never aborts on the result —
// this just logs whatever risks come back.
func (v *Validator) ValidateChangelogEntry(ctx context.Context, scope, summary string) error {
	result, err := v.ValidateWrite(ctx, scope, WriteChangelog, summary, "")
	if err != nil {
		return err
	}
	if !result.Passed {
		logging.Get(logging.CategoryValidator).Warn("write to %s flagged %d risk(s): %+v", scope, len(result.Risks), result.Risks)
	}
	return nil
}

func (v *Validator) askModel(ctx context.Context, content string, entries []component.ChangelogEntry, existingSummary string) (*Result, error) {
	var b strings.Builder
	b.WriteString("You are validating a proposed write to a memory store. Respond with strict JSON only: ")
	b.WriteString(`{"passed": bool, "risks": [{"type": "duplicate"|"contradiction"|"hallucination"|"stale_override", "severity": "error"|"warning"|"info", "description": string, "conflicting_entry_id": string}], "suggestion": string}`)
	b.WriteString("\n\nNew content:\n")
	b.WriteString(content)
	if existingSummary != "" {
		b.WriteString("\n\nCurrent summary:\n")
		b.WriteString(existingSummary)
	}
	if len(entries) > 0 {
		b.WriteString("\n\nRecent entries:\n")
		for _, e := range entries {
			fmt.Fprintf(&b, "- [%s] %s\n", e.ID, e.Summary)
			if e.Decision != "" {
				fmt.Fprintf(&b, "  decision: %s\n", e.Decision)
			}
			if e.Rationale != "" {
				fmt.Fprintf(&b, "  rationale: %s\n", e.Rationale)
			}
		}
	}

	resp, err := v.model.Complete(ctx, b.String())
	if err != nil {
		return nil, fmt.Errorf("validator: model call failed: %w", err)
	}

	cleaned := stripCodeFence(resp)
	var result Result
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return &Result{
			Passed: true,
			Risks: []Risk{{
				Type:        RiskHallucination,
				Severity:    SeverityInfo,
				Description: "model response was not parseable JSON",
			}},
		}, nil
	}
	return &result, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// heuristicCheck implements spec.md §4.10 step 4: lowercase-trim equality,
// or containment either direction for contents longer than 20 chars.
func (v *Validator) heuristicCheck(content string, entries []component.ChangelogEntry, existingSummary string) *Result {
	normalized := strings.ToLower(strings.TrimSpace(content))

	check := func(against, conflictingID string) *Risk {
		other := strings.ToLower(strings.TrimSpace(against))
		if other == "" {
			return nil
		}
		match := normalized == other
		if !match && len(normalized) > 20 && len(other) > 20 {
			match = strings.Contains(normalized, other) || strings.Contains(other, normalized)
		}
		if !match {
			return nil
		}
		return &Risk{Type: RiskDuplicate, Severity: SeverityWarning, Description: "matches existing content", ConflictingEntryID: conflictingID}
	}

	var risks []Risk
	if r := check(existingSummary, ""); r != nil {
		risks = append(risks, *r)
	}
	for _, e := range entries {
		if r := check(e.Summary, e.ID); r != nil {
			risks = append(risks, *r)
		}
	}

	return &Result{Passed: len(risks) == 0, Risks: risks}
}
