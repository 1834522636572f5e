package scratch

import (
	"context"
	"errors"
	"testing"

	"openpalace/internal/events"
	"openpalace/internal/ids"
	"openpalace/internal/operr"
	"openpalace/internal/paths"
)

func newTestPad(t *testing.T) *Pad {
	t.Helper()
	store, err := paths.New(t.TempDir())
	if err != nil {
		t.Fatalf("paths.New: %v", err)
	}
	return New(store, events.NewBus(), ids.New())
}

func TestWriteThenReadDate(t *testing.T) {
	p := newTestPad(t)
	ctx := context.Background()

	id, err := p.Write(ctx, "agent", "remember to check the logs")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	notes, err := p.ReadRecent(1)
	if err != nil {
		t.Fatalf("ReadRecent: %v", err)
	}
	if len(notes) != 1 || notes[0].ID != id {
		t.Fatalf("expected 1 note with id %s, got %+v", id, notes)
	}
	if notes[0].Promoted {
		t.Fatalf("expected fresh note to be unpromoted")
	}
}

type fakeRecorder struct{ calls int }

func (f *fakeRecorder) Record(ctx context.Context, scope, source, summary string) (string, error) {
	f.calls++
	return "op_0731_001", nil
}

func TestPromoteMarksNoteAndRecordsOnce(t *testing.T) {
	p := newTestPad(t)
	rec := &fakeRecorder{}
	p.SetRecorder(rec)
	ctx := context.Background()

	id, err := p.Write(ctx, "agent", "ship the feature")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	notes, _ := p.ReadRecent(1)
	date := notes[0].Time[:10]

	entryID, err := p.Promote(ctx, date, id, "projects/alpha", "agent")
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if entryID != "op_0731_001" {
		t.Fatalf("unexpected entry id: %s", entryID)
	}
	if rec.calls != 1 {
		t.Fatalf("expected recorder called once, got %d", rec.calls)
	}

	_, err = p.Promote(ctx, date, id, "projects/alpha", "agent")
	if !errors.Is(err, operr.ErrAlreadyPromoted) {
		t.Fatalf("expected ErrAlreadyPromoted on repeat, got %v", err)
	}
	if rec.calls != 1 {
		t.Fatalf("expected recorder not called again, got %d calls", rec.calls)
	}
}

func TestPromoteFailsWithoutRecorder(t *testing.T) {
	p := newTestPad(t)
	ctx := context.Background()
	id, err := p.Write(ctx, "agent", "note")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	notes, _ := p.ReadRecent(1)
	date := notes[0].Time[:10]

	_, err = p.Promote(ctx, date, id, "projects/alpha", "agent")
	if err == nil {
		t.Fatalf("expected error when no recorder is configured")
	}
}

func TestWriteTaggedRoundTripsTagsAndHasAnyTagFilters(t *testing.T) {
	p := newTestPad(t)
	ctx := context.Background()

	id, err := p.WriteTagged(ctx, "agent", "investigate flaky test", []string{"bug", "ci"})
	if err != nil {
		t.Fatalf("WriteTagged: %v", err)
	}

	notes, err := p.ReadRecent(1)
	if err != nil {
		t.Fatalf("ReadRecent: %v", err)
	}
	if len(notes) != 1 || notes[0].ID != id {
		t.Fatalf("expected 1 note with id %s, got %+v", id, notes)
	}
	if !notes[0].HasAnyTag([]string{"ci"}) {
		t.Fatalf("expected note to match tag ci")
	}
	if notes[0].HasAnyTag([]string{"unrelated"}) {
		t.Fatalf("expected note not to match an unrelated tag")
	}
	if !notes[0].HasAnyTag(nil) {
		t.Fatalf("expected an empty tag filter to match every note")
	}
}

func TestStatsForCountsPromotedAndUnpromoted(t *testing.T) {
	p := newTestPad(t)
	rec := &fakeRecorder{}
	p.SetRecorder(rec)
	ctx := context.Background()

	id1, _ := p.Write(ctx, "agent", "one")
	if _, err := p.Write(ctx, "agent", "two"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	notes, _ := p.ReadRecent(1)
	date := notes[0].Time[:10]
	if _, err := p.Promote(ctx, date, id1, "projects/alpha", "agent"); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	stats, err := p.StatsFor(1)
	if err != nil {
		t.Fatalf("StatsFor: %v", err)
	}
	if stats.Total != 2 || stats.Promoted != 1 || stats.Unpromoted != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
