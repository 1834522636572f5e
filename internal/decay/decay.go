// Package decay implements the Decay Engine (spec.md §4.12): a
// temperature score over every live changelog entry, used to preview and
// then archive the coldest ones into month-aggregated files once the
// summarizer has confirmed they are safe to remove from the live store.
package decay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"openpalace/internal/component"
	"openpalace/internal/config"
	"openpalace/internal/events"
	"openpalace/internal/ids"
	"openpalace/internal/logging"
	"openpalace/internal/operr"
	"openpalace/internal/paths"
)

// SafeWatermarker is the narrow interface decay needs from the
// summarizer pipeline: the cross-system contract of spec.md §4.11/§4.12
// that decay must never archive an entry newer than the watermark.
type SafeWatermarker interface {
	SafeWatermark() (watermark time.Time, ok bool, err error)
}

// VCS is the narrow interface decay needs to commit archive writes.
type VCS interface {
	Commit(ctx context.Context, scope, summary string) (string, error)
}

// Breakdown is the per-entry scoring detail returned by Preview, so
// callers can see why an entry did or didn't qualify.
type Breakdown struct {
	AgeDays        float64 `yaml:"age_days"`
	AgeBase        float64 `yaml:"age_base"`
	AccessBonus    float64 `yaml:"access_bonus"`
	ReferenceBonus float64 `yaml:"reference_bonus"`
	PinBonus       float64 `yaml:"pin_bonus,omitempty"`
	Temperature    float64 `yaml:"temperature"`
}

// Candidate is one changelog entry eligible for archival.
type Candidate struct {
	Scope     string                    `yaml:"scope"`
	Entry     component.ChangelogEntry  `yaml:"entry"`
	Breakdown Breakdown                 `yaml:"breakdown"`
}

// ArchiveRecord summarizes one run() invocation, kept in decay_state.
type ArchiveRecord struct {
	Time      string `yaml:"time"`
	Component string `yaml:"component"`
	Count     int    `yaml:"count"`
}

// maxArchiveRecords bounds decay_state's history (spec.md §4.12).
const maxArchiveRecords = 50

// State is the persistent archival ledger.
type State struct {
	TotalArchived int             `yaml:"total_archived"`
	Records       []ArchiveRecord `yaml:"records"`
}

// AccessEntry tracks how often a key ("entry:<id>" or "component:<scope>")
// has been touched by a read path.
type AccessEntry struct {
	Count        int    `yaml:"count"`
	LastAccessed string `yaml:"last_accessed"`
}

// Engine scores, previews, and archives cold changelog entries.
type Engine struct {
	store      *paths.Store
	components *component.Store
	bus        *events.Bus
	cfg        *config.Config
	cfgPath    string
	watermark  SafeWatermarker
	vcs        VCS
}

// New returns an Engine over store and components, reading thresholds
// from cfg (persisted at cfgPath for pin/unpin) and consulting watermark
// for the archive-safety gate.
func New(store *paths.Store, components *component.Store, bus *events.Bus, cfg *config.Config, cfgPath string, watermark SafeWatermarker) *Engine {
	return &Engine{store: store, components: components, bus: bus, cfg: cfg, cfgPath: cfgPath, watermark: watermark}
}

// SetVCS installs the commit backer used by Run.
func (e *Engine) SetVCS(v VCS) { e.vcs = v }

func ageBase(days float64) float64 {
	switch {
	case days < 7:
		return 100
	case days < 30:
		return 80
	case days < 60:
		return 50
	case days < 90:
		return 20
	default:
		return 5
	}
}

func isExcluded(scope string, excluded []string) bool {
	for _, ex := range excluded {
		if scope == ex || strings.HasPrefix(scope, ex+"/") {
			return true
		}
	}
	return false
}

func isPinned(id string, pinned []string) bool {
	for _, p := range pinned {
		if p == id {
			return true
		}
	}
	return false
}

// temperature scores one entry against now, the access log, and config.
func (e *Engine) temperature(now time.Time, scope string, entry component.ChangelogEntry, access map[string]AccessEntry) (float64, Breakdown, error) {
	entryTime, err := time.Parse(time.RFC3339, entry.Time)
	if err != nil {
		return 0, Breakdown{}, fmt.Errorf("decay: parsing entry time for %s: %w", entry.ID, err)
	}
	ageDays := now.Sub(entryTime).Hours() / 24

	if isPinned(entry.ID, e.cfg.Decay.PinnedEntries) {
		return 999, Breakdown{AgeDays: ageDays, PinBonus: 999, Temperature: 999}, nil
	}

	base := ageBase(ageDays)
	accessBonus := 0.0
	if a, ok := access["entry:"+entry.ID]; ok {
		accessBonus = float64(a.Count) * 10
		if accessBonus > 50 {
			accessBonus = 50
		}
	}
	referenceBonus := 0.0
	if a, ok := access["component:"+scope]; ok && a.Count > 0 {
		referenceBonus = 20
	}

	temp := base + accessBonus + referenceBonus
	return temp, Breakdown{
		AgeDays:        ageDays,
		AgeBase:        base,
		AccessBonus:    accessBonus,
		ReferenceBonus: referenceBonus,
		Temperature:    temp,
	}, nil
}

// candidates computes every entry eligible for archival as of now: older
// than config.decay.max_age_days and no newer than the summarizer's safe
// watermark. The watermark is recomputed fresh on every call (spec.md
// §5: "recomputed at the start of every preview/run").
func (e *Engine) candidates(ctx context.Context, now time.Time) ([]Candidate, error) {
	watermark, ok, err := e.watermark.SafeWatermark()
	if err != nil {
		return nil, err
	}
	if !ok {
		// Nothing has been digested yet anywhere; nothing is safe to archive.
		return nil, nil
	}

	access, err := e.readAccessLog()
	if err != nil {
		return nil, err
	}

	scopes, err := e.components.List("")
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, scope := range scopes {
		if isExcluded(scope, e.cfg.Decay.ExcludedScopes) {
			continue
		}
		entries, err := e.components.ReadChangelogEntries(scope)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			entryTime, err := time.Parse(time.RFC3339, entry.Time)
			if err != nil {
				continue
			}
			ageDays := now.Sub(entryTime).Hours() / 24
			if ageDays < float64(e.cfg.Decay.MaxAgeDays) {
				continue
			}
			if entryTime.After(watermark) {
				continue
			}
			temp, breakdown, err := e.temperature(now, scope, entry, access)
			if err != nil {
				return nil, err
			}
			out = append(out, Candidate{Scope: scope, Entry: entry, Breakdown: func() Breakdown { breakdown.Temperature = temp; return breakdown }()})
		}
	}
	return out, nil
}

// Preview returns every archival candidate below threshold (or
// config.decay.default_threshold, if threshold is nil), without
// mutating anything.
func (e *Engine) Preview(ctx context.Context, threshold *int) ([]Candidate, error) {
	limit := e.cfg.Decay.DefaultThreshold
	if threshold != nil {
		limit = *threshold
	}

	all, err := e.candidates(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, c := range all {
		if c.Breakdown.Temperature < float64(limit) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Breakdown.Temperature < out[j].Breakdown.Temperature })
	return out, nil
}

// Run archives every candidate below threshold: removes them from each
// component's live changelog, appends them to the component's
// month-aggregated archive file, updates decay_state, and commits.
func (e *Engine) Run(ctx context.Context, threshold *int) ([]Candidate, error) {
	candidates, err := e.Preview(ctx, threshold)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	byScope := make(map[string][]Candidate)
	for _, c := range candidates {
		byScope[c.Scope] = append(byScope[c.Scope], c)
	}

	state, err := e.readState()
	if err != nil {
		return nil, err
	}

	var scopes []string
	for scope := range byScope {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)

	for _, scope := range scopes {
		chosen := byScope[scope]
		if err := e.archiveOne(scope, chosen); err != nil {
			return nil, err
		}
		state.TotalArchived += len(chosen)
		state.Records = append(state.Records, ArchiveRecord{
			Time:      ids.ISONow(),
			Component: scope,
			Count:     len(chosen),
		})
	}
	if len(state.Records) > maxArchiveRecords {
		state.Records = state.Records[len(state.Records)-maxArchiveRecords:]
	}

	if err := e.writeState(state); err != nil {
		return nil, err
	}

	summary := fmt.Sprintf("archived %d entries across %d component(s)", len(candidates), len(scopes))
	if e.vcs != nil {
		if _, err := e.vcs.Commit(ctx, "decay/run", summary); err != nil {
			logging.Get(logging.CategoryDecay).Warn("decay commit failed: %v", err)
		}
	}
	e.bus.Emit(ctx, events.New(events.KindDecayArchive, "decay", summary))

	return candidates, nil
}

func (e *Engine) archiveOne(scope string, chosen []Candidate) error {
	archived := make(map[string]bool, len(chosen))
	for _, c := range chosen {
		archived[c.Entry.ID] = true
	}

	live, err := e.components.ReadChangelogEntries(scope)
	if err != nil {
		return err
	}
	var remaining []component.ChangelogEntry
	for _, entry := range live {
		if !archived[entry.ID] {
			remaining = append(remaining, entry)
		}
	}
	if err := e.components.ReplaceChangelogEntries(scope, remaining); err != nil {
		return err
	}

	componentType, key, err := component.SplitScope(scope)
	if err != nil {
		return err
	}

	byMonth := make(map[string][]component.ChangelogEntry)
	for _, c := range chosen {
		entryTime, err := time.Parse(time.RFC3339, c.Entry.Time)
		yearMonth := ids.YearMonth(entryTime)
		if err != nil {
			yearMonth = ids.YearMonth(time.Now().UTC())
		}
		byMonth[yearMonth] = append(byMonth[yearMonth], c.Entry)
	}

	for yearMonth, entries := range byMonth {
		path := e.store.ArchivedChangelogFile(componentType, key, yearMonth)
		var existing []component.ChangelogEntry
		if data, err := os.ReadFile(path); err == nil {
			if yerr := yaml.Unmarshal(data, &existing); yerr != nil {
				return fmt.Errorf("decay: parsing archive %s: %w: %w", path, operr.ErrBackingStore, yerr)
			}
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("decay: reading archive %s: %w: %w", path, operr.ErrBackingStore, err)
		}
		existing = append(existing, entries...)

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("decay: creating archive directory: %w: %w", operr.ErrBackingStore, err)
		}
		data, err := yaml.Marshal(existing)
		if err != nil {
			return fmt.Errorf("decay: marshaling archive %s: %w: %w", path, operr.ErrBackingStore, err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("decay: writing archive %s: %w: %w", path, operr.ErrBackingStore, err)
		}
	}
	return nil
}

// Pin adds id to config.decay.pinned_entries, persisting config.
func (e *Engine) Pin(id string) error {
	if isPinned(id, e.cfg.Decay.PinnedEntries) {
		return nil
	}
	e.cfg.Decay.PinnedEntries = append(e.cfg.Decay.PinnedEntries, id)
	return e.cfg.Save(e.cfgPath)
}

// Unpin removes id from config.decay.pinned_entries, persisting config.
func (e *Engine) Unpin(id string) error {
	out := e.cfg.Decay.PinnedEntries[:0]
	for _, p := range e.cfg.Decay.PinnedEntries {
		if p != id {
			out = append(out, p)
		}
	}
	e.cfg.Decay.PinnedEntries = out
	return e.cfg.Save(e.cfgPath)
}

// UpdateAccessLog increments the access count for key ("entry:<id>" or
// "component:<scope>") and stamps last_accessed, called explicitly by
// read paths that count as "touching" (spec.md §4.12).
func (e *Engine) UpdateAccessLog(key string) error {
	access, err := e.readAccessLog()
	if err != nil {
		return err
	}
	entry := access[key]
	entry.Count++
	entry.LastAccessed = ids.ISONow()
	access[key] = entry
	return e.writeAccessLog(access)
}

func (e *Engine) readAccessLog() (map[string]AccessEntry, error) {
	data, err := os.ReadFile(e.store.AccessLogFile())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]AccessEntry{}, nil
		}
		return nil, fmt.Errorf("decay: reading access log: %w: %w", operr.ErrBackingStore, err)
	}
	out := map[string]AccessEntry{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decay: parsing access log: %w: %w", operr.ErrBackingStore, err)
	}
	return out, nil
}

func (e *Engine) writeAccessLog(access map[string]AccessEntry) error {
	data, err := yaml.Marshal(access)
	if err != nil {
		return fmt.Errorf("decay: marshaling access log: %w: %w", operr.ErrBackingStore, err)
	}
	if err := os.WriteFile(e.store.AccessLogFile(), data, 0o644); err != nil {
		return fmt.Errorf("decay: writing access log: %w: %w", operr.ErrBackingStore, err)
	}
	return nil
}

func (e *Engine) readState() (*State, error) {
	data, err := os.ReadFile(e.store.DecayStateFile())
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("decay: reading state: %w: %w", operr.ErrBackingStore, err)
	}
	state := &State{}
	if err := yaml.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("decay: parsing state: %w: %w", operr.ErrBackingStore, err)
	}
	return state, nil
}

func (e *Engine) writeState(state *State) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("decay: marshaling state: %w: %w", operr.ErrBackingStore, err)
	}
	if err := os.WriteFile(e.store.DecayStateFile(), data, 0o644); err != nil {
		return fmt.Errorf("decay: writing state: %w: %w", operr.ErrBackingStore, err)
	}
	return nil
}

