// Package events implements the post-write hook bus (spec.md §4.1): a
// typed event set with isolated handlers invoked after every mutating
// operation. This is the tagged-variant event bus Design Note §9 calls
// for, replacing an untyped "record of unknowns".
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"openpalace/internal/logging"
)

// Kind identifies the shape of event emitted after a mutating operation.
type Kind string

const (
	KindIdentityChange       Kind = "identity.change"
	KindIdentityCreate       Kind = "identity.create"
	KindChangelogRecord      Kind = "changelog.record"
	KindSummaryUpdate        Kind = "summary.update"
	KindComponentCreate      Kind = "component.create"
	KindComponentLoad        Kind = "component.load"
	KindComponentUnload      Kind = "component.unload"
	KindIndexUpdate          Kind = "index.update"
	KindSystemExecute        Kind = "system.execute"
	KindSystemConfigure      Kind = "system.configure"
	KindWorkspaceSync        Kind = "workspace.sync"
	KindOnboardingComplete   Kind = "onboarding.complete"
	KindScratchWrite         Kind = "scratch.write"
	KindScratchPromote       Kind = "scratch.promote"
	KindSnapshotSave         Kind = "snapshot.save"
	KindRelationshipUpdate   Kind = "relationship.update"
	KindDecayArchive         Kind = "decay.archive"
)

// Event is the single payload shape emitted after any mutating operation,
// carrying only the fields every handler needs: what happened (Kind),
// where (Scope), and a human-readable description (Summary).
type Event struct {
	ID      uuid.UUID
	Kind    Kind
	Scope   string
	Summary string
	At      time.Time

	// EntryID is set for events tied to a specific changelog/scratch
	// entry, so commit/reindex handlers can reference it in logs.
	EntryID string
}

// New constructs an Event stamped with a fresh correlation ID and the
// current time.
func New(kind Kind, scope, summary string) Event {
	return Event{
		ID:      uuid.New(),
		Kind:    kind,
		Scope:   scope,
		Summary: summary,
		At:      time.Now().UTC(),
	}
}

// Handler consumes an emitted Event. A returned error is logged by the
// bus and does not prevent other handlers or the triggering operation
// from completing (spec.md §4.1, §5 "Ordering guarantees").
type Handler func(context.Context, Event) error

// Bus dispatches events to handlers registered per kind, in registration
// order, isolating handler failures from each other and from the caller.
type Bus struct {
	handlers map[Kind][]Handler
}

// NewBus returns an empty Bus. Handlers are registered at boot time.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]Handler)}
}

// Register appends h to the handler chain for kind.
func (b *Bus) Register(kind Kind, h Handler) {
	b.handlers[kind] = append(b.handlers[kind], h)
}

// RegisterMany registers h for every kind in kinds, preserving relative
// registration order against handlers registered individually per kind.
func (b *Bus) RegisterMany(kinds []Kind, h Handler) {
	for _, k := range kinds {
		b.Register(k, h)
	}
}

// Emit runs every handler registered for ev.Kind in registration order.
// A handler that returns an error is logged and does not stop the
// remaining handlers from running (spec.md §4.1: "a failing handler logs
// and does not abort the operation").
func (b *Bus) Emit(ctx context.Context, ev Event) {
	log := logging.Get(logging.CategoryEvents)
	for _, h := range b.handlers[ev.Kind] {
		if err := h(ctx, ev); err != nil {
			log.Warn("handler for %s (scope=%s) failed: %v", ev.Kind, ev.Scope, err)
		}
	}
}

// MutatingKinds are the event kinds the built-in commit handler should
// subscribe to: every kind that alters persistent state (spec.md §4.1).
var MutatingKinds = []Kind{
	KindIdentityChange,
	KindIdentityCreate,
	KindChangelogRecord,
	KindSummaryUpdate,
	KindComponentCreate,
	KindIndexUpdate,
	KindWorkspaceSync,
	KindOnboardingComplete,
	KindScratchWrite,
	KindScratchPromote,
	KindSnapshotSave,
	KindRelationshipUpdate,
	KindDecayArchive,
}

// ReindexKinds are the event kinds that change searchable content and
// should schedule a debounced reindex (spec.md §4.1, §4.9).
var ReindexKinds = []Kind{
	KindChangelogRecord,
	KindSummaryUpdate,
	KindComponentCreate,
	KindScratchWrite,
	KindDecayArchive,
}
