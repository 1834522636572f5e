package retrieval

import (
	"context"
	"testing"

	"openpalace/internal/component"
	"openpalace/internal/events"
	"openpalace/internal/index"
	"openpalace/internal/paths"
	"openpalace/internal/search"
)

type stubModel struct {
	resp string
	err  error
}

func (s stubModel) Ask(ctx context.Context, systemPrompt, userMessage string, maxTokens int) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.resp, nil
}

func newTestEngine(t *testing.T) (*Engine, *component.Store, *index.L0) {
	t.Helper()
	store, err := paths.New(t.TempDir())
	if err != nil {
		t.Fatalf("paths.New: %v", err)
	}
	bus := events.NewBus()
	idx := index.New(store, bus)
	comps := component.New(store, bus, idx)
	router := search.NewRouter([]search.Backend{search.NewSimpleBackend(comps, nil)}, "", false, 0, bus)
	return New(idx, comps, router), comps, idx
}

func TestRetrieveMapsL0MatchesToScopes(t *testing.T) {
	e, comps, idx := newTestEngine(t)
	ctx := context.Background()

	if err := comps.Create(ctx, "projects", "alpha", "alpha summary text"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := idx.UpdateEntry(ctx, "P", "alpha", "★ alpha project | ⟳0101"); err != nil {
		t.Fatalf("UpdateEntry: %v", err)
	}

	result, err := e.Retrieve(ctx, "alpha", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(result.MatchedScopes) != 1 || result.MatchedScopes[0] != "projects/alpha" {
		t.Fatalf("expected projects/alpha matched, got %+v", result.MatchedScopes)
	}
	if result.Summaries["projects/alpha"] != "alpha summary text" {
		t.Fatalf("expected summary read, got %q", result.Summaries["projects/alpha"])
	}
	if result.Synthesized {
		t.Fatalf("expected no synthesis without a model wired")
	}
}

func TestRetrieveFallsBackToFirstComponentsWhenL0MatchesNothing(t *testing.T) {
	e, comps, _ := newTestEngine(t)
	ctx := context.Background()

	if err := comps.Create(ctx, "projects", "alpha", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := comps.Create(ctx, "knowledge", "beta", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	result, err := e.Retrieve(ctx, "nonexistent-term-xyz", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(result.MatchedScopes) != 2 {
		t.Fatalf("expected fallback to list both components, got %+v", result.MatchedScopes)
	}
}

func TestRetrieveSynthesizesWhenModelWired(t *testing.T) {
	e, comps, idx := newTestEngine(t)
	ctx := context.Background()
	if err := comps.Create(ctx, "projects", "alpha", "alpha summary"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := idx.UpdateEntry(ctx, "P", "alpha", "★ alpha | ⟳0101"); err != nil {
		t.Fatalf("UpdateEntry: %v", err)
	}
	e.SetModel(stubModel{resp: "synthesized answer"})

	result, err := e.Retrieve(ctx, "alpha", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !result.Synthesized || result.Synthesis != "synthesized answer" {
		t.Fatalf("expected synthesis populated, got %+v", result)
	}
}

func TestRetrieveDegradesGracefullyWhenModelFails(t *testing.T) {
	e, comps, idx := newTestEngine(t)
	ctx := context.Background()
	if err := comps.Create(ctx, "projects", "alpha", "alpha summary"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := idx.UpdateEntry(ctx, "P", "alpha", "★ alpha | ⟳0101"); err != nil {
		t.Fatalf("UpdateEntry: %v", err)
	}
	e.SetModel(stubModel{err: context.DeadlineExceeded})

	result, err := e.Retrieve(ctx, "alpha", "")
	if err != nil {
		t.Fatalf("expected Retrieve to still succeed, got %v", err)
	}
	if result.Synthesized {
		t.Fatalf("expected no synthesis on model failure")
	}
	if len(result.Summaries) == 0 {
		t.Fatalf("expected raw summaries still returned")
	}
}
