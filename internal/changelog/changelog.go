// Package changelog implements the Changelog Engine (spec.md §4.5):
// recording timestamped, ID-tagged change entries against a component,
// dual-written to the component's own changelog and the global
// month-bucketed log, with an optional validation pass before write.
package changelog

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"openpalace/internal/component"
	"openpalace/internal/events"
	"openpalace/internal/ids"
	"openpalace/internal/operr"
	"openpalace/internal/paths"
)

// Validator is consulted before a changelog entry is committed, so the
// write validator (spec.md §4.10) can reject or flag likely duplicates.
// A nil Validator disables validation entirely.
type Validator interface {
	ValidateChangelogEntry(ctx context.Context, scope, summary string) error
}

// Input is record()'s full parameter set (spec.md §4.5): a plain
// operation entry leaves Type empty (treated as "operation"), a decision
// entry sets Type to TypeDecision and may carry Decision/Rationale/
// Alternatives.
type Input struct {
	Scope        string
	Type         string
	Agent        string
	Action       string
	Target       string
	Decision     string
	Rationale    string
	Alternatives []component.Alternative
	Summary      string
	Details      string
	Validate     bool
}

// Entry type discriminants (spec.md §3).
const (
	TypeOperation = "operation"
	TypeDecision  = "decision"
)

// Engine records and queries changelog entries.
type Engine struct {
	store      *paths.Store
	components *component.Store
	bus        *events.Bus
	ids        *ids.Generator
	validator  Validator

	autoValidateDecisions bool
}

// New returns an Engine over store, using components for per-component
// writes and auto-creation of missing scopes.
func New(store *paths.Store, components *component.Store, bus *events.Bus, gen *ids.Generator) *Engine {
	return &Engine{store: store, components: components, bus: bus, ids: gen}
}

// SetValidator installs (or clears, with nil) the validation hook.
func (e *Engine) SetValidator(v Validator) { e.validator = v }

// SetAutoValidateDecisions wires config.validation.auto_validate_decisions,
// gating step 1 of record() for decision-type entries that don't
// explicitly request validation themselves (spec.md §4.5).
func (e *Engine) SetAutoValidateDecisions(v bool) { e.autoValidateDecisions = v }

// Record is the operation-entry shorthand kept for callers (scratch
// promotion) that only ever record plain operations with no decision
// fields, and is the Recorder shape internal/scratch depends on.
func (e *Engine) Record(ctx context.Context, scope, source, summary string) (string, error) {
	return e.RecordEntry(ctx, Input{Scope: scope, Type: TypeOperation, Agent: source, Summary: summary})
}

// RecordEntry assigns a new op_MMDD_NNN or dec_MMDD_NNN ID depending on
// in.Type, runs validation per step 1 if configured, auto-creates the
// target component if it doesn't exist yet, dual-writes the entry to the
// component changelog and the global month log, and emits
// changelog.record (spec.md §4.5).
func (e *Engine) RecordEntry(ctx context.Context, in Input) (string, error) {
	entryType := in.Type
	if entryType == "" {
		entryType = TypeOperation
	}

	if e.validator != nil && (in.Validate || (entryType == TypeDecision && e.autoValidateDecisions)) {
		if err := e.validator.ValidateChangelogEntry(ctx, in.Scope, in.Summary); err != nil {
			return "", fmt.Errorf("changelog: validating %s: %w", in.Scope, err)
		}
	}

	if ok, err := e.components.Exists(in.Scope); err != nil {
		return "", err
	} else if !ok {
		componentType, key, err := component.SplitScope(in.Scope)
		if err != nil {
			return "", err
		}
		if err := e.components.Create(ctx, componentType, key, ""); err != nil {
			return "", err
		}
	}

	now := time.Now().UTC()
	mmdd := ids.FormatDate(now)
	prefix := "op"
	if entryType == TypeDecision {
		prefix = "dec"
	}
	id, err := e.ids.Next(prefix, mmdd, now)
	if err != nil {
		return "", fmt.Errorf("changelog: assigning id: %w", err)
	}

	entry := component.ChangelogEntry{
		ID:           id,
		Time:         now.Format(time.RFC3339),
		Agent:        in.Agent,
		Type:         entryType,
		Scope:        in.Scope,
		Action:       in.Action,
		Target:       in.Target,
		Decision:     in.Decision,
		Rationale:    in.Rationale,
		Alternatives: in.Alternatives,
		Summary:      in.Summary,
		Details:      in.Details,
	}

	if err := e.components.AppendChangelogEntry(in.Scope, entry); err != nil {
		return "", err
	}
	if err := e.appendGlobal(ids.YearMonth(now), entry); err != nil {
		return "", err
	}

	ev := events.New(events.KindChangelogRecord, in.Scope, in.Summary)
	ev.EntryID = id
	e.bus.Emit(ctx, ev)
	return id, nil
}

// Query returns a scope's changelog entries newest-first, optionally
// limited to the most recent n (n<=0 means unlimited) and filtered to
// entries at or after since (an RFC3339 timestamp; empty means no
// filter).
func (e *Engine) Query(scope, since string, limit int) ([]component.ChangelogEntry, error) {
	return e.QueryFiltered(scope, since, limit, "", "")
}

// QueryFiltered extends Query with the type/agent filters spec.md §4.5's
// query() names. An empty entryType or agent skips that filter; an
// entry with no recorded Type (pre-existing data) matches
// entryType == "operation" so older logs stay queryable.
func (e *Engine) QueryFiltered(scope, since string, limit int, entryType, agent string) ([]component.ChangelogEntry, error) {
	entries, err := e.components.ReadChangelogEntries(scope)
	if err != nil {
		return nil, err
	}
	// Entries are stored oldest-first and times have one-second precision;
	// reversing before the stable sort keeps same-second entries newest-first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Time > entries[j].Time })

	if since != "" {
		filtered := entries[:0]
		for _, en := range entries {
			if en.Time >= since {
				filtered = append(filtered, en)
			}
		}
		entries = filtered
	}
	if entryType != "" {
		filtered := entries[:0]
		for _, en := range entries {
			t := en.Type
			if t == "" {
				t = TypeOperation
			}
			if t == entryType {
				filtered = append(filtered, en)
			}
		}
		entries = filtered
	}
	if agent != "" {
		filtered := entries[:0]
		for _, en := range entries {
			if en.Agent == agent {
				filtered = append(filtered, en)
			}
		}
		entries = filtered
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// RecoverCounters seeds the ID generator's op_MMDD and dec_MMDD counters
// for today from the current month's global log, so a restart mid-day
// doesn't reissue an ID already on disk (spec.md §4.2, §8).
func (e *Engine) RecoverCounters(now time.Time) error {
	data, err := os.ReadFile(e.store.GlobalChangelogFile(ids.YearMonth(now)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("changelog: recovering counters: %w: %w", operr.ErrBackingStore, err)
	}
	mmdd := ids.FormatDate(now)
	e.ids.Seed("op", mmdd, ids.RecoverCounter(string(data), "op", mmdd))
	e.ids.Seed("dec", mmdd, ids.RecoverCounter(string(data), "dec", mmdd))
	return nil
}

func (e *Engine) appendGlobal(yearMonth string, entry component.ChangelogEntry) error {
	path := e.store.GlobalChangelogFile(yearMonth)
	var entries []component.ChangelogEntry
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("changelog: parsing global log %s: %w: %w", path, operr.ErrBackingStore, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("changelog: reading global log %s: %w: %w", path, operr.ErrBackingStore, err)
	}

	entries = append(entries, entry)
	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("changelog: marshaling global log %s: %w: %w", path, operr.ErrBackingStore, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("changelog: writing global log %s: %w: %w", path, operr.ErrBackingStore, err)
	}
	return nil
}
