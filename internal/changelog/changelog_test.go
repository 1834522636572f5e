package changelog

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"openpalace/internal/component"
	"openpalace/internal/events"
	"openpalace/internal/ids"
	"openpalace/internal/index"
	"openpalace/internal/paths"
)

func newTestEngine(t *testing.T) (*Engine, *component.Store) {
	t.Helper()
	store, err := paths.New(t.TempDir())
	if err != nil {
		t.Fatalf("paths.New: %v", err)
	}
	bus := events.NewBus()
	comps := component.New(store, bus, index.New(store, bus))
	return New(store, comps, bus, ids.New()), comps
}

func TestRecordAutoCreatesMissingComponent(t *testing.T) {
	e, comps := newTestEngine(t)
	ctx := context.Background()

	id, err := e.Record(ctx, component.Scope("projects", "alpha"), "agent", "kicked off the project")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if id == "" {
		t.Fatalf("expected non-empty id")
	}
	if ok, err := comps.Exists(component.Scope("projects", "alpha")); err != nil || !ok {
		t.Fatalf("expected component auto-created, ok=%v err=%v", ok, err)
	}
}

func TestRecordDualWritesComponentAndGlobalLog(t *testing.T) {
	e, comps := newTestEngine(t)
	ctx := context.Background()
	scope := component.Scope("projects", "alpha")

	if _, err := e.Record(ctx, scope, "agent", "first entry"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	compEntries, err := comps.ReadChangelogEntries(scope)
	if err != nil {
		t.Fatalf("ReadChangelogEntries: %v", err)
	}
	if len(compEntries) != 1 {
		t.Fatalf("expected 1 component changelog entry, got %d", len(compEntries))
	}

	queried, err := e.Query(scope, "", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(queried) != 1 || queried[0].Summary != "first entry" {
		t.Fatalf("unexpected query result: %+v", queried)
	}

	global, err := os.ReadFile(e.store.GlobalChangelogFile(ids.YearMonth(time.Now().UTC())))
	if err != nil {
		t.Fatalf("reading global log: %v", err)
	}
	if !strings.Contains(string(global), "first entry") {
		t.Fatalf("expected entry in global log, got %q", global)
	}
}

func TestRecordAssignsSequentialIDsSameDay(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	scope := component.Scope("projects", "alpha")

	id1, err := e.Record(ctx, scope, "agent", "one")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	id2, err := e.Record(ctx, scope, "agent", "two")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected distinct sequential ids, got %s twice", id1)
	}
}

func TestQueryOrdersNewestFirstAndRespectsLimit(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	scope := component.Scope("projects", "alpha")

	for _, s := range []string{"one", "two", "three"} {
		if _, err := e.Record(ctx, scope, "agent", s); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	entries, err := e.Query(scope, "", 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Summary != "three" || entries[1].Summary != "two" {
		t.Fatalf("expected newest-first order, got %+v", entries)
	}
}

type rejectingValidator struct{}

func (rejectingValidator) ValidateChangelogEntry(ctx context.Context, scope, summary string) error {
	return errors.New("looks like a duplicate")
}

func TestRecordPropagatesValidatorRejectionWhenValidateRequested(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetValidator(rejectingValidator{})

	_, err := e.RecordEntry(context.Background(), Input{
		Scope: component.Scope("projects", "alpha"), Agent: "agent", Summary: "dup", Validate: true,
	})
	if err == nil {
		t.Fatalf("expected validator rejection to propagate")
	}
}

func TestRecordSkipsValidationWhenNotRequested(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetValidator(rejectingValidator{})

	if _, err := e.Record(context.Background(), component.Scope("projects", "alpha"), "agent", "dup"); err != nil {
		t.Fatalf("expected plain Record to skip validation, got %v", err)
	}
}

func TestRecordEntryAutoValidatesDecisionsWhenConfigured(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetValidator(rejectingValidator{})
	e.SetAutoValidateDecisions(true)

	_, err := e.RecordEntry(context.Background(), Input{
		Scope: component.Scope("projects", "alpha"), Agent: "agent", Type: TypeDecision,
		Decision: "use store X", Summary: "dup",
	})
	if err == nil {
		t.Fatalf("expected decision-type entry to auto-validate and propagate rejection")
	}
}

func TestRecordEntryIssuesDecisionPrefixedID(t *testing.T) {
	e, _ := newTestEngine(t)
	scope := component.Scope("projects", "alpha")

	id, err := e.RecordEntry(context.Background(), Input{
		Scope: scope, Agent: "agent", Type: TypeDecision,
		Decision: "use store X", Rationale: "fits our access pattern",
		Alternatives: []component.Alternative{{Option: "store Y", RejectedBecause: "too slow"}},
		Summary:      "chose store X",
	})
	if err != nil {
		t.Fatalf("RecordEntry: %v", err)
	}
	if !strings.HasPrefix(id, "dec_") {
		t.Fatalf("expected a dec_ prefixed id, got %s", id)
	}

	entries, err := e.QueryFiltered(scope, "", 0, TypeDecision, "")
	if err != nil {
		t.Fatalf("QueryFiltered: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != id {
		t.Fatalf("expected the decision entry queryable by type, got %+v", entries)
	}
	if len(entries[0].Alternatives) != 1 || entries[0].Alternatives[0].Option != "store Y" {
		t.Fatalf("expected alternatives round-tripped, got %+v", entries[0].Alternatives)
	}

	opsOnly, err := e.QueryFiltered(scope, "", 0, TypeOperation, "")
	if err != nil {
		t.Fatalf("QueryFiltered: %v", err)
	}
	if len(opsOnly) != 0 {
		t.Fatalf("expected the decision entry excluded from an operation-type query, got %+v", opsOnly)
	}
}

func TestRecoverCountersSeedsFromGlobalLog(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	scope := component.Scope("projects", "alpha")

	if _, err := e.Record(ctx, scope, "agent", "one"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	fresh, _ := newTestEngine(t)
	fresh.store = e.store // reuse same on-disk store

	now := time.Now().UTC()
	if err := fresh.RecoverCounters(now); err != nil {
		t.Fatalf("RecoverCounters: %v", err)
	}
	id, err := fresh.ids.Next("op", ids.FormatDate(now), now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if id == "op_"+ids.FormatDate(now)+"_001" {
		t.Fatalf("expected recovered counter to continue past 001, got %s", id)
	}
}
