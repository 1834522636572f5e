package decay

import (
	"context"
	"testing"
	"time"

	"openpalace/internal/component"
	"openpalace/internal/config"
	"openpalace/internal/events"
	"openpalace/internal/index"
	"openpalace/internal/paths"
)

type fixedWatermark struct {
	t  time.Time
	ok bool
}

func (f fixedWatermark) SafeWatermark() (time.Time, bool, error) { return f.t, f.ok, nil }

func newTestEngine(t *testing.T, watermark SafeWatermarker) (*Engine, *component.Store) {
	t.Helper()
	store, err := paths.New(t.TempDir())
	if err != nil {
		t.Fatalf("paths.New: %v", err)
	}
	bus := events.NewBus()
	comps := component.New(store, bus, index.New(store, bus))
	cfg := config.Default()
	cfg.Decay.MaxAgeDays = 30
	cfg.Decay.DefaultThreshold = 20
	return New(store, comps, bus, cfg, store.ConfigFile(), watermark), comps
}

func oldEntry(id string, daysAgo int) component.ChangelogEntry {
	t := time.Now().UTC().AddDate(0, 0, -daysAgo)
	return component.ChangelogEntry{ID: id, Time: t.Format(time.RFC3339), Agent: "agent", Summary: "old entry"}
}

func TestPreviewFindsNothingWithoutSafeWatermark(t *testing.T) {
	e, comps := newTestEngine(t, fixedWatermark{ok: false})
	ctx := context.Background()
	scope := component.Scope("projects", "alpha")

	if err := comps.Create(ctx, "projects", "alpha", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := comps.AppendChangelogEntry(scope, oldEntry("op_0101_001", 200)); err != nil {
		t.Fatalf("AppendChangelogEntry: %v", err)
	}

	candidates, err := e.Preview(ctx, nil)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected no candidates without a safe watermark, got %+v", candidates)
	}
}

func TestPreviewFindsOldColdEntry(t *testing.T) {
	watermark := fixedWatermark{t: time.Now().UTC(), ok: true}
	e, comps := newTestEngine(t, watermark)
	ctx := context.Background()
	scope := component.Scope("projects", "alpha")

	if err := comps.Create(ctx, "projects", "alpha", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := comps.AppendChangelogEntry(scope, oldEntry("op_0101_001", 200)); err != nil {
		t.Fatalf("AppendChangelogEntry: %v", err)
	}

	candidates, err := e.Preview(ctx, nil)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %+v", candidates)
	}
	if candidates[0].Breakdown.Temperature != 5 {
		t.Fatalf("expected temperature 5 for a >90 day old entry, got %v", candidates[0].Breakdown.Temperature)
	}
}

func TestPinnedEntryAlwaysHighTemperature(t *testing.T) {
	watermark := fixedWatermark{t: time.Now().UTC(), ok: true}
	e, comps := newTestEngine(t, watermark)
	ctx := context.Background()
	scope := component.Scope("projects", "alpha")

	if err := comps.Create(ctx, "projects", "alpha", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := comps.AppendChangelogEntry(scope, oldEntry("op_0101_001", 200)); err != nil {
		t.Fatalf("AppendChangelogEntry: %v", err)
	}

	if err := e.Pin("op_0101_001"); err != nil {
		t.Fatalf("Pin: %v", err)
	}

	candidates, err := e.Preview(ctx, nil)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected pinned entry excluded from candidates, got %+v", candidates)
	}
}

func TestRunArchivesAndRemovesFromLiveChangelog(t *testing.T) {
	watermark := fixedWatermark{t: time.Now().UTC(), ok: true}
	e, comps := newTestEngine(t, watermark)
	ctx := context.Background()
	scope := component.Scope("projects", "alpha")

	if err := comps.Create(ctx, "projects", "alpha", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := comps.AppendChangelogEntry(scope, oldEntry("op_0101_001", 200)); err != nil {
		t.Fatalf("AppendChangelogEntry: %v", err)
	}
	if err := comps.AppendChangelogEntry(scope, oldEntry("op_0102_001", 1)); err != nil {
		t.Fatalf("AppendChangelogEntry: %v", err)
	}

	archived, err := e.Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(archived) != 1 {
		t.Fatalf("expected 1 archived entry, got %+v", archived)
	}

	remaining, err := comps.ReadChangelogEntries(scope)
	if err != nil {
		t.Fatalf("ReadChangelogEntries: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "op_0102_001" {
		t.Fatalf("expected only the fresh entry to remain, got %+v", remaining)
	}
}

func TestUpdateAccessLogRaisesTemperatureViaBonus(t *testing.T) {
	watermark := fixedWatermark{t: time.Now().UTC(), ok: true}
	e, comps := newTestEngine(t, watermark)
	ctx := context.Background()
	scope := component.Scope("projects", "alpha")

	if err := comps.Create(ctx, "projects", "alpha", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := comps.AppendChangelogEntry(scope, oldEntry("op_0101_001", 200)); err != nil {
		t.Fatalf("AppendChangelogEntry: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := e.UpdateAccessLog("entry:op_0101_001"); err != nil {
			t.Fatalf("UpdateAccessLog: %v", err)
		}
	}

	candidates, err := e.Preview(ctx, nil)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected access bonus to raise entry above threshold 20, got %+v", candidates)
	}
}

func TestPinThenUnpinRoundTrips(t *testing.T) {
	e, _ := newTestEngine(t, fixedWatermark{ok: true})
	if err := e.Pin("op_0101_001"); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if !isPinned("op_0101_001", e.cfg.Decay.PinnedEntries) {
		t.Fatalf("expected entry pinned")
	}
	if err := e.Unpin("op_0101_001"); err != nil {
		t.Fatalf("Unpin: %v", err)
	}
	if isPinned("op_0101_001", e.cfg.Decay.PinnedEntries) {
		t.Fatalf("expected entry unpinned")
	}
}
