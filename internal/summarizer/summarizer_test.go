package summarizer

import (
	"context"
	"strings"
	"testing"

	"openpalace/internal/component"
	"openpalace/internal/events"
	"openpalace/internal/index"
	"openpalace/internal/paths"
)

func newTestPipeline(t *testing.T) (*Pipeline, *component.Store) {
	t.Helper()
	store, err := paths.New(t.TempDir())
	if err != nil {
		t.Fatalf("paths.New: %v", err)
	}
	bus := events.NewBus()
	idx := index.New(store, bus)
	comps := component.New(store, bus, idx)
	return New(store, comps, idx, bus), comps
}

type stubModel struct {
	resp string
	err  error
	gotPrompts []string
}

func (s *stubModel) Complete(ctx context.Context, prompt string) (string, error) {
	s.gotPrompts = append(s.gotPrompts, prompt)
	return s.resp, s.err
}

func TestDigestFoldsNewEntriesIntoSummary(t *testing.T) {
	p, comps := newTestPipeline(t)
	ctx := context.Background()
	scope := component.Scope("projects", "alpha")

	if err := comps.Create(ctx, "projects", "alpha", "original summary"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := comps.AppendChangelogEntry(scope, component.ChangelogEntry{
		ID: "op_0101_001", Time: "2026-01-01T00:00:00Z", Agent: "agent", Scope: scope, Summary: "did a thing",
	}); err != nil {
		t.Fatalf("AppendChangelogEntry: %v", err)
	}

	model := &stubModel{resp: "updated summary"}
	p.SetModel(model)

	result, err := p.Digest(ctx, "")
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if !result.Success() {
		t.Fatalf("expected success, got errors: %+v", result.Errors)
	}
	if len(result.Processed) != 1 || result.Processed[0] != scope {
		t.Fatalf("expected %s processed, got %+v", scope, result.Processed)
	}

	summary, err := comps.GetSummary(scope)
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if summary != "updated summary" {
		t.Fatalf("expected summary replaced, got %q", summary)
	}
}

func TestDigestSkipsComponentsWithNoNewEntries(t *testing.T) {
	p, comps := newTestPipeline(t)
	ctx := context.Background()

	if err := comps.Create(ctx, "projects", "quiet", "nothing happened"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	p.SetModel(&stubModel{resp: "should not be used"})
	result, err := p.Digest(ctx, "")
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if len(result.Processed) != 0 {
		t.Fatalf("expected no components processed, got %+v", result.Processed)
	}
}

func TestDigestCollectsPerComponentErrorsWithoutModel(t *testing.T) {
	p, comps := newTestPipeline(t)
	ctx := context.Background()
	scope := component.Scope("projects", "alpha")

	if err := comps.Create(ctx, "projects", "alpha", "summary"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := comps.AppendChangelogEntry(scope, component.ChangelogEntry{
		ID: "op_0101_001", Time: "2026-01-01T00:00:00Z", Agent: "agent", Scope: scope, Summary: "entry",
	}); err != nil {
		t.Fatalf("AppendChangelogEntry: %v", err)
	}

	result, err := p.Digest(ctx, "")
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if result.Success() {
		t.Fatalf("expected digest failure without a configured model")
	}
	if _, ok := result.Errors[scope]; !ok {
		t.Fatalf("expected error recorded for %s, got %+v", scope, result.Errors)
	}
}

func TestSafeWatermarkIsInfiniteUntilEveryComponentDigested(t *testing.T) {
	p, comps := newTestPipeline(t)
	ctx := context.Background()

	if err := comps.Create(ctx, "projects", "alpha", "summary"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := comps.AppendChangelogEntry(component.Scope("projects", "alpha"), component.ChangelogEntry{
		ID: "op_0101_001", Time: "2026-01-01T00:00:00Z", Agent: "agent", Scope: "projects/alpha", Summary: "entry",
	}); err != nil {
		t.Fatalf("AppendChangelogEntry: %v", err)
	}

	_, ok, err := p.SafeWatermark()
	if err != nil {
		t.Fatalf("SafeWatermark: %v", err)
	}
	if ok {
		t.Fatalf("expected no safe watermark before any digest has run")
	}

	p.SetModel(&stubModel{resp: "digested"})
	if _, err := p.Digest(ctx, ""); err != nil {
		t.Fatalf("Digest: %v", err)
	}

	_, ok, err = p.SafeWatermark()
	if err != nil {
		t.Fatalf("SafeWatermark: %v", err)
	}
	if !ok {
		t.Fatalf("expected a safe watermark once all components are digested")
	}
}

func TestSynthesisWritesWeeklyReport(t *testing.T) {
	p, comps := newTestPipeline(t)
	ctx := context.Background()

	if err := comps.Create(ctx, "projects", "alpha", "summary content"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	model := &stubModel{resp: "synthesized report"}
	p.SetModel(model)

	path, err := p.Synthesis(ctx)
	if err != nil {
		t.Fatalf("Synthesis: %v", err)
	}
	if path == "" {
		t.Fatalf("expected non-empty report path")
	}
	if len(model.gotPrompts) != 1 || !strings.Contains(model.gotPrompts[0], "summary content") {
		t.Fatalf("expected prompt to include component summary, got %+v", model.gotPrompts)
	}
}

func TestReviewRejectsResponseMissingSentinel(t *testing.T) {
	p, _ := newTestPipeline(t)
	p.SetModel(&stubModel{resp: "no sentinel here at all"})

	_, err := p.Review(context.Background())
	if err == nil {
		t.Fatalf("expected error for malformed review response")
	}
}

func TestReviewRebuildsIndexAndWritesNarrative(t *testing.T) {
	p, _ := newTestPipeline(t)
	response := "[P] alpha | \xe2\x98\x85 active\n" + reviewSentinel + "\nThis month things happened.\n"
	p.SetModel(&stubModel{resp: response})

	path, err := p.Review(context.Background())
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if path == "" {
		t.Fatalf("expected non-empty review path")
	}
}
