// Package relationship implements the Relationship Profile (spec.md §3):
// trust scoring, accumulating interaction tags, and a free-form profile
// sub-object for the entities and systems an agent interacts with,
// backed by an auto-created "relationships" component.
package relationship

import (
	"context"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"openpalace/internal/component"
	"openpalace/internal/events"
	"openpalace/internal/ids"
	"openpalace/internal/operr"
	"openpalace/internal/paths"
)

// TrustEvent records one trust adjustment. Delta is the caller's
// requested adjustment, unclamped — the profile's Trust field itself is
// always clamped to [0, 1], but the history preserves what was actually
// asked for so a pattern of "asking for more trust than is ever granted"
// stays visible.
type TrustEvent struct {
	Time   string  `yaml:"time"`
	Delta  float64 `yaml:"delta"`
	Reason string  `yaml:"reason"`
}

// InteractionTag is one tag applied to a relationship, with a running
// count of how many times it has been applied and the time it was last
// applied (spec.md §3 "tags accumulate (count incremented on repeat)").
type InteractionTag struct {
	Tag   string `yaml:"tag"`
	Count int    `yaml:"count"`
	Last  string `yaml:"last"`
	Note  string `yaml:"note,omitempty"`
}

// ProfileDetail is free-form context on how to work with a relationship
// (spec.md §3 "profile (style, expertise[], language_pref[], notes)").
type ProfileDetail struct {
	Style        string   `yaml:"style,omitempty"`
	Expertise    []string `yaml:"expertise,omitempty"`
	LanguagePref []string `yaml:"language_pref,omitempty"`
	Notes        string   `yaml:"notes,omitempty"`
}

// Profile is one relationship's persisted state.
type Profile struct {
	Key             string            `yaml:"key"`
	Type            string            `yaml:"type,omitempty"`
	Profile         ProfileDetail     `yaml:"profile,omitempty"`
	InteractionTags []InteractionTag  `yaml:"interaction_tags,omitempty"`
	Trust           float64           `yaml:"trust"`
	History         []TrustEvent      `yaml:"history"`
}

// Store manages relationship profiles under <store>/components/relationships.
type Store struct {
	store      *paths.Store
	bus        *events.Bus
	components *component.Store
}

// New returns a Store over store, auto-creating backing components via
// components.
func New(store *paths.Store, bus *events.Bus, components *component.Store) *Store {
	return &Store{store: store, bus: bus, components: components}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Get returns a relationship's profile, or a fresh zero-trust profile if
// key has never been touched.
func (s *Store) Get(key string) (*Profile, error) {
	data, err := os.ReadFile(s.store.RelationshipProfileFile(key))
	if err != nil {
		if os.IsNotExist(err) {
			return &Profile{Key: key}, nil
		}
		return nil, fmt.Errorf("relationship: reading %s: %w: %w", key, operr.ErrBackingStore, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("relationship: parsing %s: %w: %w", key, operr.ErrBackingStore, err)
	}
	return &p, nil
}

// List enumerates every relationship key with a saved profile.
func (s *Store) List() ([]string, error) {
	scopes, err := s.components.List("relationships")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		_, key, err := component.SplitScope(scope)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}

// AdjustTrust applies delta to key's trust score, clamping the stored
// result to [0, 1] while recording the unclamped delta in history, and
// auto-creates the backing "relationships/<key>" component on first
// touch (spec.md §4.4 "backing component auto-creation").
func (s *Store) AdjustTrust(ctx context.Context, key string, delta float64, reason string) (*Profile, error) {
	if err := s.ensureBackingComponent(ctx, key); err != nil {
		return nil, err
	}

	p, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	p.Trust = clamp(p.Trust + delta)
	p.History = append(p.History, TrustEvent{Time: ids.ISONow(), Delta: delta, Reason: reason})

	if err := s.write(p); err != nil {
		return nil, err
	}
	s.bus.Emit(ctx, events.New(events.KindRelationshipUpdate, "relationships/"+key, reason))
	return p, nil
}

// UpdateProfile patches key's type and profile sub-object, auto-creating
// the backing component if needed. profileType and each ProfileDetail
// field are applied only when non-zero, so a caller can update a single
// field of the profile without clobbering the rest.
func (s *Store) UpdateProfile(ctx context.Context, key, profileType string, detail ProfileDetail) (*Profile, error) {
	if err := s.ensureBackingComponent(ctx, key); err != nil {
		return nil, err
	}
	p, err := s.Get(key)
	if err != nil {
		return nil, err
	}

	if profileType != "" {
		p.Type = profileType
	}
	if detail.Style != "" {
		p.Profile.Style = detail.Style
	}
	if len(detail.Expertise) > 0 {
		p.Profile.Expertise = detail.Expertise
	}
	if len(detail.LanguagePref) > 0 {
		p.Profile.LanguagePref = detail.LanguagePref
	}
	if detail.Notes != "" {
		p.Profile.Notes = detail.Notes
	}

	if err := s.write(p); err != nil {
		return nil, err
	}
	s.bus.Emit(ctx, events.New(events.KindRelationshipUpdate, "relationships/"+key, "profile updated"))
	return p, nil
}

// LogInteraction accumulates tags into key's interaction_tags: a repeat
// tag increments its count and refreshes its last-seen time rather than
// being silently deduplicated, auto-creating the backing component if
// needed (spec.md §3 "tags accumulate (count incremented on repeat)").
func (s *Store) LogInteraction(ctx context.Context, key string, tags []string) (*Profile, error) {
	if err := s.ensureBackingComponent(ctx, key); err != nil {
		return nil, err
	}
	p, err := s.Get(key)
	if err != nil {
		return nil, err
	}

	now := ids.ISONow()
	for _, tag := range tags {
		found := false
		for i := range p.InteractionTags {
			if p.InteractionTags[i].Tag == tag {
				p.InteractionTags[i].Count++
				p.InteractionTags[i].Last = now
				found = true
				break
			}
		}
		if !found {
			p.InteractionTags = append(p.InteractionTags, InteractionTag{Tag: tag, Count: 1, Last: now})
		}
	}

	if err := s.write(p); err != nil {
		return nil, err
	}
	s.bus.Emit(ctx, events.New(events.KindRelationshipUpdate, "relationships/"+key, "logged interaction"))
	return p, nil
}

func (s *Store) ensureBackingComponent(ctx context.Context, key string) error {
	scope := component.Scope("relationships", key)
	ok, err := s.components.Exists(scope)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.components.Create(ctx, "relationships", key, "")
}

func (s *Store) write(p *Profile) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("relationship: marshaling %s: %w: %w", p.Key, operr.ErrBackingStore, err)
	}
	if err := os.WriteFile(s.store.RelationshipProfileFile(p.Key), data, 0o644); err != nil {
		return fmt.Errorf("relationship: writing %s: %w: %w", p.Key, operr.ErrBackingStore, err)
	}
	return nil
}
