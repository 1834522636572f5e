package engine

import (
	"context"
	"fmt"
	"strings"

	"openpalace/internal/changelog"
	"openpalace/internal/component"
	"openpalace/internal/config"
	"openpalace/internal/decay"
	"openpalace/internal/entity"
	"openpalace/internal/health"
	"openpalace/internal/operr"
	"openpalace/internal/relationship"
	"openpalace/internal/retrieval"
	"openpalace/internal/scratch"
	"openpalace/internal/search"
	"openpalace/internal/snapshot"
	"openpalace/internal/summarizer"
	"openpalace/internal/validator"
)

// This file implements the full operation surface named in spec.md §6,
// one method per row of the operation table, as plain Go so
// internal/protocol can map a JSON request straight onto a method call.

// --- Index ---

func (e *Engine) IndexGet() (string, error) { return e.Index.Get() }

func (e *Engine) IndexSearch(query, scope string) ([]string, error) {
	return e.Index.Search(query, scope)
}

// --- Entity ---

func (e *Engine) EntityList() ([]string, error) { return e.Entities.List() }

func (e *Engine) EntityGetSoul(entityID string) (string, bool, error) {
	return e.Entities.GetSoul(entityID)
}

func (e *Engine) EntityGetFull(entityID string) (*entity.Entity, bool, error) {
	return e.Entities.Get(entityID)
}

func (e *Engine) EntityCreate(ctx context.Context, entityID, displayName, description, initialSoul string) (*entity.Entity, error) {
	return e.Entities.Create(ctx, entityID, displayName, description, initialSoul)
}

func (e *Engine) EntityUpdateSoul(ctx context.Context, entityID, content, reason string) error {
	return e.Entities.UpdateSoul(ctx, entityID, content, reason)
}

func (e *Engine) EntityLogEvolution(ctx context.Context, entityID, changeSummary, source string) error {
	return e.Entities.LogEvolution(ctx, entityID, changeSummary, source)
}

// --- Component ---

func (e *Engine) ComponentList(componentType string) ([]string, error) {
	return e.Components.List(componentType)
}

func (e *Engine) ComponentCreate(ctx context.Context, componentType, key, summary string) error {
	return e.Components.Create(ctx, componentType, key, summary)
}

func (e *Engine) ComponentLoad(scope string) (string, []component.ChangelogEntry, error) {
	return e.Components.Load(scope)
}

func (e *Engine) ComponentUnload(ctx context.Context, scope string) error {
	return e.Components.Unload(ctx, scope)
}

func (e *Engine) SummaryGet(scope string) (string, error) { return e.Components.GetSummary(scope) }

// SummaryUpdate writes scope's summary, running the write validator
// first when validate is set by the caller (spec.md §4.10 "write
// validation is opt-in per call, not an always-on gate").
func (e *Engine) SummaryUpdate(ctx context.Context, scope, content string, validate bool) error {
	if validate {
		existing, _ := e.Components.GetSummary(scope)
		result, err := e.Validator.ValidateWrite(ctx, scope, validator.WriteSummary, content, existing)
		if err == nil && !result.Passed {
			return fmt.Errorf("engine: summary update for %s failed validation: %w", scope, operr.ErrValidationRisk)
		}
	}
	return e.Components.UpdateSummary(ctx, scope, content)
}

func (e *Engine) SummaryVerify(ctx context.Context, scope string) error {
	return e.Components.VerifySummary(ctx, scope)
}

// --- Changelog ---

func (e *Engine) ChangelogRecord(ctx context.Context, in changelog.Input) (string, error) {
	return e.Changelog.RecordEntry(ctx, in)
}

func (e *Engine) ChangelogQuery(scope, since string, limit int, entryType, agent string) ([]component.ChangelogEntry, error) {
	return e.Changelog.QueryFiltered(scope, since, limit, entryType, agent)
}

func (e *Engine) ValidateWrite(ctx context.Context, scope, content string, kind validator.WriteKind) (*validator.Result, error) {
	existing, _ := e.Components.GetSummary(scope)
	return e.Validator.ValidateWrite(ctx, scope, kind, content, existing)
}

// --- Scratch ---

func (e *Engine) ScratchWrite(ctx context.Context, content, source string, tags []string) (string, error) {
	if source == "" {
		source = "agent"
	}
	return e.Scratch.WriteTagged(ctx, source, content, tags)
}

func (e *Engine) ScratchRead(date string, tags []string, includeYesterday bool, includePromoted bool, limit int) ([]scratch.Note, error) {
	var notes []scratch.Note
	var err error
	if date != "" {
		notes, err = e.Scratch.ReadDate(date)
	} else {
		days := 1
		if includeYesterday {
			days = 2
		}
		notes, err = e.Scratch.ReadRecent(days)
	}
	if err != nil {
		return nil, err
	}

	var out []scratch.Note
	for _, n := range notes {
		if n.Promoted && !includePromoted {
			continue
		}
		if !n.HasAnyTag(tags) {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ScratchPromote promotes noteID into scope's changelog. It searches the
// last 30 days for the note since the protocol operation only carries
// the note's ID, not its date.
func (e *Engine) ScratchPromote(ctx context.Context, noteID, scope string) (string, error) {
	notes, err := e.Scratch.ReadRecent(30)
	if err != nil {
		return "", err
	}
	for _, n := range notes {
		if n.ID != noteID {
			continue
		}
		date := n.Time
		if len(date) >= 10 {
			date = date[:10]
		}
		return e.Scratch.Promote(ctx, date, noteID, scope, n.Source)
	}
	return "", fmt.Errorf("engine: scratch note %s not found in the last 30 days: %w", noteID, operr.ErrNotFound)
}

// --- Snapshot ---

func (e *Engine) SnapshotSave(ctx context.Context, in snapshot.Input) (*snapshot.Snapshot, error) {
	return e.Snapshots.Save(ctx, in)
}

func (e *Engine) SnapshotRead() (*snapshot.Snapshot, error) { return e.Snapshots.Read() }

// --- Relationship ---

func (e *Engine) RelationshipGet(key string) (*relationship.Profile, error) {
	return e.Relationships.Get(key)
}

func (e *Engine) RelationshipUpdateProfile(ctx context.Context, key, profileType string, detail relationship.ProfileDetail) (*relationship.Profile, error) {
	return e.Relationships.UpdateProfile(ctx, key, profileType, detail)
}

func (e *Engine) RelationshipLogInteraction(ctx context.Context, key string, tags []string) (*relationship.Profile, error) {
	return e.Relationships.LogInteraction(ctx, key, tags)
}

func (e *Engine) RelationshipUpdateTrust(ctx context.Context, key string, delta float64, reason string) (*relationship.Profile, error) {
	return e.Relationships.AdjustTrust(ctx, key, delta, reason)
}

// --- Search ---

func (e *Engine) RawSearch(ctx context.Context, query, scope string, limit int) ([]search.Result, error) {
	return e.Router.Search(ctx, query, scope, limit)
}

func (e *Engine) SearchReindex(ctx context.Context) (int, error) { return e.Router.Reindex(ctx) }

func (e *Engine) SearchStatus() search.Status { return e.Router.StatusOf() }

// --- Decay ---

func (e *Engine) DecayPreview(ctx context.Context, threshold *int) ([]decay.Candidate, error) {
	return e.Decay.Preview(ctx, threshold)
}

func (e *Engine) DecayPin(entryID, action string) error {
	switch strings.ToLower(action) {
	case "pin":
		return e.Decay.Pin(entryID)
	case "unpin":
		return e.Decay.Unpin(entryID)
	default:
		return fmt.Errorf("engine: unknown decay_pin action %q: %w", action, operr.ErrInvalidArgument)
	}
}

// --- System ---

// SystemNames lists the background systems executable via SystemExecute.
var SystemNames = []string{
	"summarizer.digest", "summarizer.synthesis", "summarizer.review",
	"decay.preview", "decay.run",
	"health.check",
	"workspace_sync.sync",
	"retrieval",
	"ingest.scan",
}

func (e *Engine) SystemList() []string { return SystemNames }

// SystemExecute dispatches name against params, one administrative
// entry point fanning out to every scheduled system (spec.md §6 "System"
// family, §5 "Background work ... invoked by the same call path").
func (e *Engine) SystemExecute(ctx context.Context, name string, params map[string]any) (any, error) {
	switch name {
	case "summarizer.digest":
		scope, _ := params["scope"].(string)
		return e.Summarizer.Digest(ctx, scope)
	case "summarizer.synthesis":
		return e.Summarizer.Synthesis(ctx)
	case "summarizer.review":
		return e.Summarizer.Review(ctx)
	case "decay.preview":
		return e.Decay.Preview(ctx, intParam(params, "threshold"))
	case "decay.run":
		return e.Decay.Run(ctx, intParam(params, "threshold"))
	case "health.check":
		return e.Health.Run(ctx)
	case "workspace_sync.sync":
		return e.WorkspaceSync.Sync(ctx)
	case "retrieval":
		query, _ := params["query"].(string)
		if query == "" {
			return nil, fmt.Errorf("engine: retrieval requires a query: %w", operr.ErrInvalidArgument)
		}
		scope, _ := params["scope"].(string)
		return e.Retrieval.Retrieve(ctx, query, scope)
	case "ingest.scan":
		return e.Ingest.Scan(ctx)
	default:
		return nil, fmt.Errorf("engine: unknown system %q: %w", name, operr.ErrInvalidArgument)
	}
}

func intParam(params map[string]any, key string) *int {
	v, ok := params[key]
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case int:
		return &n
	case float64:
		i := int(n)
		return &i
	default:
		return nil
	}
}

// SystemStatus reports the current state of name, or every system if
// name is empty.
func (e *Engine) SystemStatus(name string) map[string]any {
	all := map[string]any{
		"search":     e.Router.StatusOf(),
		"summarizer": summarizerStateSummary(e.Summarizer),
	}
	if name == "" {
		return all
	}
	if v, ok := all[name]; ok {
		return map[string]any{name: v}
	}
	return map[string]any{name: "unknown system"}
}

func summarizerStateSummary(p *summarizer.Pipeline) any {
	watermark, ok, err := p.SafeWatermark()
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	if !ok {
		return map[string]any{"safe_watermark": "none (not every component digested yet)"}
	}
	return map[string]any{"safe_watermark": watermark}
}

func (e *Engine) SystemConfigure(path string, value any) error {
	return e.ConfigUpdate(path, value)
}

// --- Config ---

func (e *Engine) ConfigGet(path string) (any, error) {
	if path == "" {
		return e.Cfg, nil
	}
	return e.Cfg.Get(path)
}

func (e *Engine) ConfigUpdate(path string, value any) error {
	if err := e.Cfg.Set(path, value); err != nil {
		return err
	}
	return e.Cfg.Save(e.Store.ConfigFile())
}

func (e *Engine) ConfigReference(filter string) []config.ReferenceEntry {
	return config.FilterReference(filter)
}

// --- Onboarding ---

func (e *Engine) OnboardingStatus() (bool, error) {
	return e.Cfg.Onboarding.Completed, nil
}

// OnboardingInit marks onboarding complete and records skipAgents, the
// minimal "first run" bookkeeping the spec names; the richer interactive
// onboarding flow lives in the transport layer, outside this engine.
func (e *Engine) OnboardingInit(skipAgents []string) error {
	e.Cfg.Onboarding.Completed = true
	e.Cfg.Onboarding.SkipAgents = skipAgents
	return e.Cfg.Save(e.Store.ConfigFile())
}
