package entity

import (
	"context"
	"errors"
	"testing"

	"openpalace/internal/events"
	"openpalace/internal/operr"
	"openpalace/internal/paths"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := paths.New(t.TempDir())
	if err != nil {
		t.Fatalf("paths.New: %v", err)
	}
	return New(store, events.NewBus())
}

func TestCreateThenGet(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Create(ctx, "agent-1", "Agent One", "a test agent", "I am agent one."); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ent, ok, err := r.Get("agent-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if ent.SoulContent != "I am agent one." {
		t.Fatalf("unexpected soul content: %q", ent.SoulContent)
	}
	if len(ent.EvolutionLog) != 1 || ent.EvolutionLog[0].Source != "mp.entity.create" {
		t.Fatalf("expected one create evolution entry, got %+v", ent.EvolutionLog)
	}
}

func TestCreateIsIdempotentOverwriting(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Create(ctx, "agent-1", "Agent One", "desc", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Create(ctx, "agent-1", "Agent One Renamed", "desc v2", ""); err != nil {
		t.Fatalf("second Create: %v", err)
	}

	ent, _, err := r.Get("agent-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ent.DisplayName != "Agent One Renamed" {
		t.Fatalf("expected overwrite of display name, got %q", ent.DisplayName)
	}
}

func TestUpdateSoulAppendsEvolutionAndMirrors(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	var mirrored string
	r.SetMirror(func(entityID, content string) error {
		mirrored = content
		return nil
	})

	if _, err := r.Create(ctx, "agent-1", "Agent One", "desc", "v1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.UpdateSoul(ctx, "agent-1", "v2", "learned something new"); err != nil {
		t.Fatalf("UpdateSoul: %v", err)
	}

	ent, _, err := r.Get("agent-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ent.SoulContent != "v2" {
		t.Fatalf("expected soul_content v2, got %q", ent.SoulContent)
	}
	if len(ent.EvolutionLog) != 2 {
		t.Fatalf("expected 2 evolution entries, got %d", len(ent.EvolutionLog))
	}
	if ent.EvolutionLog[1].ChangeSummary != "learned something new" {
		t.Fatalf("expected summary to equal reason, got %q", ent.EvolutionLog[1].ChangeSummary)
	}
	if mirrored != "v2" {
		t.Fatalf("expected workspace mirror to receive v2, got %q", mirrored)
	}
}

func TestUpdateSoulFailsNotFound(t *testing.T) {
	r := newTestRegistry(t)
	err := r.UpdateSoul(context.Background(), "ghost", "x", "y")
	if !errors.Is(err, operr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSortsEntityIDs(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		if _, err := r.Create(ctx, id, id, "", ""); err != nil {
			t.Fatalf("Create(%s): %v", id, err)
		}
	}
	list, err := r.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	if len(list) != len(want) {
		t.Fatalf("expected %v, got %v", want, list)
	}
	for i := range want {
		if list[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, list)
		}
	}
}
