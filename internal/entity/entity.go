// Package entity implements the Entity Registry (spec.md §4.3): agent
// identities with an append-only evolution log and workspace write-back.
package entity

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"openpalace/internal/events"
	"openpalace/internal/ids"
	"openpalace/internal/logging"
	"openpalace/internal/operr"
	"openpalace/internal/paths"
)

// EvolutionEntry records one change to an entity's identity over time.
type EvolutionEntry struct {
	Time          string `yaml:"time"`
	Source        string `yaml:"source"`
	ChangeSummary string `yaml:"change_summary"`
	Ref           string `yaml:"ref,omitempty"`
}

// HostMapping binds an entity to a specific host's agent ID and watched
// files, used by workspace sync (spec.md §4.13).
type HostMapping struct {
	AgentID      string   `yaml:"agent_id"`
	WatchedPaths []string `yaml:"watched_paths"`
}

// Entity is an agent identity document (spec.md §3 "Entity").
type Entity struct {
	EntityID     string                 `yaml:"entity_id"`
	DisplayName  string                 `yaml:"display_name"`
	Description  string                 `yaml:"description"`
	SoulContent  string                 `yaml:"soul_content"`
	EvolutionLog []EvolutionEntry       `yaml:"evolution_log"`
	HostMappings map[string]HostMapping `yaml:"host_mappings"`
}

// MirrorFunc writes content to an entity's primary watched workspace
// file. Registered by the workspace-sync wiring; nil is a valid no-op.
type MirrorFunc func(entityID, content string) error

// Registry manages entity documents under <store>/entities.
type Registry struct {
	store  *paths.Store
	bus    *events.Bus
	mirror MirrorFunc
}

// New returns a Registry over store, emitting events on bus.
func New(store *paths.Store, bus *events.Bus) *Registry {
	return &Registry{store: store, bus: bus}
}

// SetMirror installs the workspace mirror callback used by UpdateSoul.
func (r *Registry) SetMirror(m MirrorFunc) { r.mirror = m }

// List enumerates every entity_id present under the entities directory.
func (r *Registry) List() ([]string, error) {
	entries, err := os.ReadDir(r.store.EntitiesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("entity: listing: %w: %w", operr.ErrBackingStore, err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Get loads the entity document for entityID, if present.
func (r *Registry) Get(entityID string) (*Entity, bool, error) {
	data, err := os.ReadFile(r.store.EntityFile(entityID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("entity: reading %s: %w: %w", entityID, operr.ErrBackingStore, err)
	}
	var ent Entity
	if err := yaml.Unmarshal(data, &ent); err != nil {
		return nil, false, fmt.Errorf("entity: parsing %s: %w: %w", entityID, operr.ErrBackingStore, err)
	}
	return &ent, true, nil
}

// GetSoul returns just the soul_content field, if the entity exists.
func (r *Registry) GetSoul(entityID string) (string, bool, error) {
	ent, ok, err := r.Get(entityID)
	if err != nil || !ok {
		return "", ok, err
	}
	return ent.SoulContent, true, nil
}

// Create writes (or overwrites) an entity document. Idempotent-overwriting:
// re-creating an existing entity_id replaces display_name/description but
// preserves prior evolution history (spec.md §4.3). If initialSoul is
// non-empty, an evolution entry with source "mp.entity.create" is
// appended and soul_content is set.
func (r *Registry) Create(ctx context.Context, entityID, displayName, description, initialSoul string) (*Entity, error) {
	ent, existed, err := r.Get(entityID)
	if err != nil {
		return nil, err
	}
	if !existed {
		ent = &Entity{EntityID: entityID, HostMappings: map[string]HostMapping{}}
	}
	ent.DisplayName = displayName
	ent.Description = description

	if initialSoul != "" {
		ent.SoulContent = initialSoul
		ent.EvolutionLog = append(ent.EvolutionLog, EvolutionEntry{
			Time:          ids.ISONow(),
			Source:        "mp.entity.create",
			ChangeSummary: "initial soul content set",
		})
	}

	if err := r.write(ent); err != nil {
		return nil, err
	}

	kind := events.KindIdentityCreate
	r.bus.Emit(ctx, events.New(kind, "entities/"+entityID, fmt.Sprintf("created entity %s", entityID)))
	return ent, nil
}

// UpdateSoul replaces soul_content, appends an evolution entry, and
// mirrors the new content to the workspace for the primary mapping.
// Ordering: storage first, workspace mirror second, event last
// (spec.md §4.3).
func (r *Registry) UpdateSoul(ctx context.Context, entityID, content, reason string) error {
	ent, ok, err := r.Get(entityID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("entity: %s: %w", entityID, operr.ErrNotFound)
	}

	ent.SoulContent = content
	ent.EvolutionLog = append(ent.EvolutionLog, EvolutionEntry{
		Time:          ids.ISONow(),
		Source:        "mp.entity.update_soul",
		ChangeSummary: reason,
	})

	if err := r.write(ent); err != nil {
		return err
	}

	if r.mirror != nil {
		if err := r.mirror(entityID, content); err != nil {
			logging.Get(logging.CategoryEntity).Warn("workspace mirror failed for %s: %v", entityID, err)
		}
	}

	r.bus.Emit(ctx, events.New(events.KindIdentityChange, "entities/"+entityID, reason))
	return nil
}

// LogEvolution appends a bare evolution entry without touching soul_content.
func (r *Registry) LogEvolution(ctx context.Context, entityID, changeSummary, source string) error {
	ent, ok, err := r.Get(entityID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("entity: %s: %w", entityID, operr.ErrNotFound)
	}
	ent.EvolutionLog = append(ent.EvolutionLog, EvolutionEntry{
		Time:          ids.ISONow(),
		Source:        source,
		ChangeSummary: changeSummary,
	})
	if err := r.write(ent); err != nil {
		return err
	}
	r.bus.Emit(ctx, events.New(events.KindIdentityChange, "entities/"+entityID, changeSummary))
	return nil
}

func (r *Registry) write(ent *Entity) error {
	data, err := yaml.Marshal(ent)
	if err != nil {
		return fmt.Errorf("entity: marshaling %s: %w: %w", ent.EntityID, operr.ErrBackingStore, err)
	}
	if err := os.WriteFile(r.store.EntityFile(ent.EntityID), data, 0o644); err != nil {
		return fmt.Errorf("entity: writing %s: %w: %w", ent.EntityID, operr.ErrBackingStore, err)
	}
	return nil
}
