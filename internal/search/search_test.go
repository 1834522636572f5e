package search

import (
	"context"
	"strings"
	"testing"

	"openpalace/internal/component"
	"openpalace/internal/events"
	"openpalace/internal/ids"
	"openpalace/internal/index"
	"openpalace/internal/paths"
	"openpalace/internal/scratch"
)

func newTestFixtures(t *testing.T) (*component.Store, *scratch.Pad) {
	t.Helper()
	store, err := paths.New(t.TempDir())
	if err != nil {
		t.Fatalf("paths.New: %v", err)
	}
	bus := events.NewBus()
	comps := component.New(store, bus, index.New(store, bus))
	pad := scratch.New(store, bus, ids.New())
	return comps, pad
}

func TestSimpleBackendScoresByTermFraction(t *testing.T) {
	comps, pad := newTestFixtures(t)
	ctx := context.Background()

	if err := comps.Create(ctx, "projects", "alpha", "alpha project about rocket engines"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := comps.Create(ctx, "projects", "beta", "beta project about gardening"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	backend := NewSimpleBackend(comps, pad)
	results, err := backend.Search(ctx, "rocket engines", "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one result")
	}
	if results[0].Component != "projects/alpha" {
		t.Fatalf("expected rocket-engine summary to rank first, got %+v", results[0])
	}
}

func TestSimpleBackendFiltersByScope(t *testing.T) {
	comps, pad := newTestFixtures(t)
	ctx := context.Background()

	if err := comps.Create(ctx, "projects", "alpha", "shared keyword lighthouse"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := comps.Create(ctx, "people", "alpha", "shared keyword lighthouse"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	backend := NewSimpleBackend(comps, pad)
	results, err := backend.Search(ctx, "lighthouse", "projects/", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if !strings.HasPrefix(r.Component, "projects/") {
			t.Fatalf("expected only projects/ scope, got %+v", r)
		}
	}
}

func TestBM25BackendRanksRarerTermsHigher(t *testing.T) {
	comps, pad := newTestFixtures(t)
	ctx := context.Background()

	if err := comps.Create(ctx, "projects", "alpha", "common word appears common word appears everywhere"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := comps.Create(ctx, "projects", "beta", "common word and a rare xenocryst term"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	backend := NewBM25Backend(comps, pad)
	results, err := backend.Search(ctx, "xenocryst", "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Component != "projects/beta" {
		t.Fatalf("expected only the beta summary to match rare term, got %+v", results)
	}
}

func TestBM25BackendAvailableWithoutReindex(t *testing.T) {
	comps, pad := newTestFixtures(t)
	backend := NewBM25Backend(comps, pad)
	if !backend.Available() {
		t.Fatalf("expected bm25 backend to always be available")
	}
}

type fakeBackend struct {
	name      string
	available bool
	reindexed int
}

func (f *fakeBackend) Name() string    { return f.name }
func (f *fakeBackend) Available() bool { return f.available }
func (f *fakeBackend) Search(ctx context.Context, query, scope string, limit int) ([]Result, error) {
	return []Result{{ID: f.name}}, nil
}
func (f *fakeBackend) Reindex(ctx context.Context) (int, error) {
	f.reindexed++
	return f.reindexed, nil
}

func TestRouterPicksFirstAvailableInOrder(t *testing.T) {
	a := &fakeBackend{name: "a", available: false}
	b := &fakeBackend{name: "b", available: true}
	c := &fakeBackend{name: "c", available: true}

	router := NewRouter([]Backend{a, b, c}, "auto", false, 0, events.NewBus())
	results, err := router.Search(context.Background(), "q", "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "b" {
		t.Fatalf("expected first-available backend b selected, got %+v", results)
	}
}

func TestRouterHonorsForcedBackend(t *testing.T) {
	a := &fakeBackend{name: "a", available: true}
	b := &fakeBackend{name: "b", available: true}

	router := NewRouter([]Backend{a, b}, "b", false, 0, events.NewBus())
	results, err := router.Search(context.Background(), "q", "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].ID != "b" {
		t.Fatalf("expected forced backend b, got %+v", results)
	}
}

func TestRouterCachesSelectionUntilReset(t *testing.T) {
	a := &fakeBackend{name: "a", available: true}
	router := NewRouter([]Backend{a}, "auto", false, 0, events.NewBus())

	if _, err := router.Search(context.Background(), "q", "", 10); err != nil {
		t.Fatalf("Search: %v", err)
	}
	a.available = false
	// still cached, should keep returning results from a
	if _, err := router.Search(context.Background(), "q", "", 10); err != nil {
		t.Fatalf("Search after becoming unavailable: %v", err)
	}

	router.Reset()
	results, err := router.Search(context.Background(), "q", "", 10)
	if err != nil {
		t.Fatalf("Search after reset: %v", err)
	}
	if results != nil {
		t.Fatalf("expected no backend selected after reset since a is unavailable, got %+v", results)
	}
}

func TestRouterReindexRecordsStatus(t *testing.T) {
	a := &fakeBackend{name: "a", available: true}
	router := NewRouter([]Backend{a}, "auto", false, 0, events.NewBus())

	count, err := router.Reindex(context.Background())
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected reindex count 1, got %d", count)
	}
	status := router.StatusOf()
	if status.Active != "a" || status.IndexedCount != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}
}
