// Package snapshot implements the Snapshot (spec.md §4.7): a single
// overwrite-only document capturing a point-in-time digest of active
// state, saved incrementally — fields omitted from a save inherit their
// previous value rather than being cleared, except current_focus, which
// every save must supply.
package snapshot

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"openpalace/internal/events"
	"openpalace/internal/ids"
	"openpalace/internal/operr"
	"openpalace/internal/paths"
)

// Task is one entry of Snapshot.ActiveTasks.
type Task struct {
	Description string   `yaml:"description"`
	Status      string   `yaml:"status"`
	Priority    string   `yaml:"priority,omitempty"`
	Blockers    []string `yaml:"blockers,omitempty"`
}

// Snapshot is the singleton state document (spec.md §3).
type Snapshot struct {
	UpdatedAt       string         `yaml:"updated_at"`
	UpdatedBy       string         `yaml:"updated_by,omitempty"`
	CurrentFocus    string         `yaml:"current_focus"`
	ActiveTasks     []Task         `yaml:"active_tasks,omitempty"`
	Blockers        []string       `yaml:"blockers,omitempty"`
	RecentDecisions []string       `yaml:"recent_decisions,omitempty"`
	ContextNotes    string         `yaml:"context_notes,omitempty"`
	SessionMeta     map[string]any `yaml:"session_meta,omitempty"`
}

// Input is save()'s parameter set. CurrentFocus is required on every
// call; every other field is a pointer so Save can tell "not supplied,
// inherit the prior value" apart from "supplied as empty/zero", per
// spec.md §3's "unsupplied fields on update are inherited from the prior
// snapshot".
type Input struct {
	CurrentFocus    *string
	UpdatedBy       *string
	ActiveTasks     *[]Task
	Blockers        *[]string
	RecentDecisions *[]string
	ContextNotes    *string
	SessionMeta     map[string]any
}

// Store manages the single snapshot document under <store>/snapshot.
type Store struct {
	store *paths.Store
	bus   *events.Bus
}

// New returns a Store over store.
func New(store *paths.Store, bus *events.Bus) *Store {
	return &Store{store: store, bus: bus}
}

// Read returns the current snapshot, or an empty one if none has ever
// been saved.
func (s *Store) Read() (*Snapshot, error) {
	data, err := os.ReadFile(s.store.SnapshotFile())
	if err != nil {
		if os.IsNotExist(err) {
			return &Snapshot{}, nil
		}
		return nil, fmt.Errorf("snapshot: reading: %w: %w", operr.ErrBackingStore, err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("snapshot: parsing: %w: %w", operr.ErrBackingStore, err)
	}
	return &snap, nil
}

// Save merges in into the existing snapshot — every field in set
// overwrites, every field left nil inherits its previously saved value —
// then overwrites the singleton document and emits snapshot.save.
// CurrentFocus is required: it must be supplied, non-empty, on every save
// and is never inherited (spec.md §3).
func (s *Store) Save(ctx context.Context, in Input) (*Snapshot, error) {
	snap, err := s.Read()
	if err != nil {
		return nil, err
	}

	if in.CurrentFocus == nil || *in.CurrentFocus == "" {
		return nil, fmt.Errorf("snapshot: current_focus is required: %w", operr.ErrInvalidArgument)
	}
	snap.CurrentFocus = *in.CurrentFocus
	if in.UpdatedBy != nil {
		snap.UpdatedBy = *in.UpdatedBy
	}
	if in.ActiveTasks != nil {
		snap.ActiveTasks = *in.ActiveTasks
	}
	if in.Blockers != nil {
		snap.Blockers = *in.Blockers
	}
	if in.RecentDecisions != nil {
		snap.RecentDecisions = *in.RecentDecisions
	}
	if in.ContextNotes != nil {
		snap.ContextNotes = *in.ContextNotes
	}
	if in.SessionMeta != nil {
		snap.SessionMeta = in.SessionMeta
	}
	snap.UpdatedAt = ids.ISONow()

	data, err := yaml.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshaling: %w: %w", operr.ErrBackingStore, err)
	}
	if err := os.WriteFile(s.store.SnapshotFile(), data, 0o644); err != nil {
		return nil, fmt.Errorf("snapshot: writing: %w: %w", operr.ErrBackingStore, err)
	}

	s.bus.Emit(ctx, events.New(events.KindSnapshotSave, "snapshot", fmt.Sprintf("current_focus: %s", snap.CurrentFocus)))
	return snap, nil
}
