// Package component implements the Component Store (spec.md §4.4): the
// <type>/<key> scoped units of knowledge the rest of the memory system
// organizes itself around (projects, knowledge, skills, relationships).
package component

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"openpalace/internal/events"
	"openpalace/internal/ids"
	"openpalace/internal/index"
	"openpalace/internal/operr"
	"openpalace/internal/paths"
)

// Alternative is one option considered and rejected alongside a decision
// entry, carried only on entries where Type == "decision" (spec.md §3).
type Alternative struct {
	Option          string `yaml:"option"`
	RejectedBecause string `yaml:"rejected_because,omitempty"`
}

// ChangelogEntry is one recorded change against a component, shared by
// both the per-component changelog file and the global month-bucketed
// log (spec.md §4.5). Type distinguishes a plain operation entry from a
// decision entry; operation fields (Action, Target) and decision fields
// (Decision, Rationale, Alternatives) are only populated for the
// matching Type, by convention rather than enforcement.
type ChangelogEntry struct {
	ID           string        `yaml:"id"`
	Time         string        `yaml:"time"`
	Agent        string        `yaml:"agent,omitempty"`
	Type         string        `yaml:"type"`
	Scope        string        `yaml:"scope"`
	Action       string        `yaml:"action,omitempty"`
	Target       string        `yaml:"target,omitempty"`
	Decision     string        `yaml:"decision,omitempty"`
	Rationale    string        `yaml:"rationale,omitempty"`
	Alternatives []Alternative `yaml:"alternatives,omitempty"`
	Summary      string        `yaml:"summary"`
	Details      string        `yaml:"details,omitempty"`
}

// Store manages component directories under <store>/components.
type Store struct {
	store *paths.Store
	bus   *events.Bus
	index *index.L0

	mu     sync.Mutex
	loaded map[string]bool
}

// New returns a Store over root, wired to idx for L0 upserts.
func New(root *paths.Store, bus *events.Bus, idx *index.L0) *Store {
	return &Store{store: root, bus: bus, index: idx, loaded: make(map[string]bool)}
}

// Scope joins a component type and key into the canonical "type/key"
// scope string used throughout the system.
func Scope(componentType, key string) string { return componentType + "/" + key }

// SplitScope reverses Scope, failing if scope isn't a well-formed
// "type/key" string naming a recognized component type.
func SplitScope(scope string) (componentType, key string, err error) {
	parts := strings.SplitN(scope, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("component: malformed scope %q: %w", scope, operr.ErrInvalidArgument)
	}
	if _, ok := paths.TagForComponentType(parts[0]); !ok {
		return "", "", fmt.Errorf("component: unknown component type %q: %w", parts[0], operr.ErrInvalidArgument)
	}
	return parts[0], parts[1], nil
}

// List enumerates "type/key" scopes. When componentType is non-empty,
// only that type's components are returned.
func (s *Store) List(componentType string) ([]string, error) {
	types := []string{componentType}
	if componentType == "" {
		types = []string{"projects", "knowledge", "skills", "relationships"}
	}

	var out []string
	for _, t := range types {
		dir := filepath.Join(s.store.ComponentsDir(), t)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("component: listing %s: %w: %w", t, operr.ErrBackingStore, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				out = append(out, Scope(t, e.Name()))
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// Exists reports whether a component directory already exists for scope.
func (s *Store) Exists(scope string) (bool, error) {
	componentType, key, err := SplitScope(scope)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(s.store.ComponentDir(componentType, key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("component: checking %s: %w: %w", scope, operr.ErrBackingStore, err)
}

// Create makes a new component directory with an empty changelog and the
// given initial summary, and upserts its L0 row (spec.md §4.4, §4.8).
// Create is idempotent: creating an existing scope overwrites its summary.
func (s *Store) Create(ctx context.Context, componentType, key, initialSummary string) error {
	tag, ok := paths.TagForComponentType(componentType)
	if !ok {
		return fmt.Errorf("component: unknown component type %q: %w", componentType, operr.ErrInvalidArgument)
	}

	dir := s.store.ComponentDir(componentType, key)
	if err := os.MkdirAll(filepath.Join(dir, "raw"), 0o755); err != nil {
		return fmt.Errorf("component: creating %s/%s: %w: %w", componentType, key, operr.ErrBackingStore, err)
	}

	if err := os.WriteFile(s.store.ComponentSummaryFile(componentType, key), []byte(initialSummary), 0o644); err != nil {
		return fmt.Errorf("component: writing summary for %s/%s: %w: %w", componentType, key, operr.ErrBackingStore, err)
	}

	if _, err := os.Stat(s.store.ComponentChangelogFile(componentType, key)); os.IsNotExist(err) {
		if err := writeEntries(s.store.ComponentChangelogFile(componentType, key), nil); err != nil {
			return err
		}
	}

	if err := s.index.UpdateEntry(ctx, tag, key, "★ active ⟳"+index.FormatDate(time.Now().UTC())); err != nil {
		return err
	}

	s.bus.Emit(ctx, events.New(events.KindComponentCreate, Scope(componentType, key), "created component"))
	return nil
}

// Load returns a component's summary and its 10 most recent changelog
// entries (newest first), and marks the scope loaded in the in-process
// working set (spec.md §4.4).
func (s *Store) Load(scope string) (summary string, recent []ChangelogEntry, err error) {
	componentType, key, err := SplitScope(scope)
	if err != nil {
		return "", nil, err
	}

	data, err := os.ReadFile(s.store.ComponentSummaryFile(componentType, key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, fmt.Errorf("component: %s: %w", scope, operr.ErrNotFound)
		}
		return "", nil, fmt.Errorf("component: reading summary for %s: %w: %w", scope, operr.ErrBackingStore, err)
	}

	entries, err := readEntries(s.store.ComponentChangelogFile(componentType, key))
	if err != nil {
		return "", nil, err
	}
	// Reverse the oldest-first file order first so same-second entries
	// also come out newest-first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Time > entries[j].Time })
	if len(entries) > 10 {
		entries = entries[:10]
	}

	s.mu.Lock()
	s.loaded[scope] = true
	s.mu.Unlock()

	return string(data), entries, nil
}

// Unload removes scope from the in-process loaded set.
func (s *Store) Unload(ctx context.Context, scope string) error {
	s.mu.Lock()
	delete(s.loaded, scope)
	s.mu.Unlock()
	s.bus.Emit(ctx, events.New(events.KindComponentUnload, scope, "unloaded component"))
	return nil
}

// IsLoaded reports whether scope is in the in-process working set.
func (s *Store) IsLoaded(scope string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded[scope]
}

// GetSummary returns the raw summary document (front matter included) for
// scope.
func (s *Store) GetSummary(scope string) (string, error) {
	componentType, key, err := SplitScope(scope)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(s.store.ComponentSummaryFile(componentType, key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("component: %s: %w", scope, operr.ErrNotFound)
		}
		return "", fmt.Errorf("component: reading summary for %s: %w: %w", scope, operr.ErrBackingStore, err)
	}
	return string(data), nil
}

// UpdateSummary overwrites a component's summary document, bumps its L0
// last-updated marker, and emits summary.update (spec.md §4.4, §4.8).
func (s *Store) UpdateSummary(ctx context.Context, scope, content string) error {
	componentType, key, err := SplitScope(scope)
	if err != nil {
		return err
	}
	if ok, err := s.Exists(scope); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("component: %s: %w", scope, operr.ErrNotFound)
	}

	if err := os.WriteFile(s.store.ComponentSummaryFile(componentType, key), []byte(content), 0o644); err != nil {
		return fmt.Errorf("component: writing summary for %s: %w: %w", scope, operr.ErrBackingStore, err)
	}

	tag, _ := paths.TagForComponentType(componentType)
	if err := s.index.Touch(ctx, tag, key, time.Now().UTC()); err != nil {
		return err
	}

	s.bus.Emit(ctx, events.New(events.KindSummaryUpdate, scope, "updated summary"))
	return nil
}

var frontMatterFence = regexp.MustCompile(`(?s)^---\n(.*?)\n---\n?(.*)$`)

// VerifySummary stamps a component's summary with last_verified/confidence
// front matter, leaving the body untouched (spec.md §4.4
// "verify_summary").
func (s *Store) VerifySummary(ctx context.Context, scope string) error {
	componentType, key, err := SplitScope(scope)
	if err != nil {
		return err
	}

	raw, err := s.GetSummary(scope)
	if err != nil {
		return err
	}

	body := raw
	if m := frontMatterFence.FindStringSubmatch(raw); m != nil {
		body = m[2]
	}

	fm := fmt.Sprintf("---\nlast_verified: %s\nconfidence: high\n---\n", ids.ISONow())
	if err := os.WriteFile(s.store.ComponentSummaryFile(componentType, key), []byte(fm+body), 0o644); err != nil {
		return fmt.Errorf("component: writing summary for %s: %w: %w", scope, operr.ErrBackingStore, err)
	}

	s.bus.Emit(ctx, events.New(events.KindSummaryUpdate, scope, "verified summary"))
	return nil
}

// AppendChangelogEntry appends entry to the per-component changelog file.
func (s *Store) AppendChangelogEntry(scope string, entry ChangelogEntry) error {
	componentType, key, err := SplitScope(scope)
	if err != nil {
		return err
	}
	path := s.store.ComponentChangelogFile(componentType, key)
	entries, err := readEntries(path)
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	return writeEntries(path, entries)
}

// ReadChangelogEntries returns every changelog entry recorded for scope,
// in file order.
func (s *Store) ReadChangelogEntries(scope string) ([]ChangelogEntry, error) {
	componentType, key, err := SplitScope(scope)
	if err != nil {
		return nil, err
	}
	return readEntries(s.store.ComponentChangelogFile(componentType, key))
}

// ReplaceChangelogEntries overwrites scope's live changelog wholesale,
// used by the decay engine to drop archived entries (spec.md §4.12).
func (s *Store) ReplaceChangelogEntries(scope string, entries []ChangelogEntry) error {
	componentType, key, err := SplitScope(scope)
	if err != nil {
		return err
	}
	return writeEntries(s.store.ComponentChangelogFile(componentType, key), entries)
}

func readEntries(path string) ([]ChangelogEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("component: reading changelog %s: %w: %w", path, operr.ErrBackingStore, err)
	}
	var entries []ChangelogEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("component: parsing changelog %s: %w: %w", path, operr.ErrBackingStore, err)
	}
	return entries, nil
}

func writeEntries(path string, entries []ChangelogEntry) error {
	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("component: marshaling changelog %s: %w: %w", path, operr.ErrBackingStore, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("component: writing changelog %s: %w: %w", path, operr.ErrBackingStore, err)
	}
	return nil
}
