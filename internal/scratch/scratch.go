// Package scratch implements the Scratch Pad (spec.md §4.6): a
// day-bucketed, append-only jotter for low-ceremony notes that can later
// be promoted into a component's changelog.
package scratch

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"openpalace/internal/events"
	"openpalace/internal/ids"
	"openpalace/internal/operr"
	"openpalace/internal/paths"
)

// Note is one scratch entry.
type Note struct {
	ID       string   `yaml:"id"`
	Time     string   `yaml:"time"`
	Source   string   `yaml:"source"`
	Content  string   `yaml:"content"`
	Tags     []string `yaml:"tags,omitempty"`
	Promoted bool     `yaml:"promoted"`
}

// HasAnyTag reports whether n carries at least one of tags. An empty
// tags filter matches every note.
func (n Note) HasAnyTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		for _, got := range n.Tags {
			if want == got {
				return true
			}
		}
	}
	return false
}

// Recorder is the subset of the changelog engine scratch needs to
// promote a note into a component's changelog, kept as an interface to
// avoid an import cycle with internal/changelog.
type Recorder interface {
	Record(ctx context.Context, scope, source, summary string) (string, error)
}

// Pad manages day-bucketed scratch files under <store>/scratch.
type Pad struct {
	store    *paths.Store
	bus      *events.Bus
	ids      *ids.Generator
	recorder Recorder
}

// New returns a Pad over store.
func New(store *paths.Store, bus *events.Bus, gen *ids.Generator) *Pad {
	return &Pad{store: store, bus: bus, ids: gen}
}

// SetRecorder installs the changelog engine used by Promote.
func (p *Pad) SetRecorder(r Recorder) { p.recorder = r }

func dateKey(t time.Time) string { return t.Format("2006-01-02") }

// Write appends a new, untagged note to today's scratch file and emits
// scratch.write (spec.md §4.6). Kept alongside WriteTagged so it still
// satisfies Recorder-shaped interfaces (internal/ingest.Recorder) that
// predate the optional tags field.
func (p *Pad) Write(ctx context.Context, source, content string) (string, error) {
	return p.WriteTagged(ctx, source, content, nil)
}

// WriteTagged appends a new note carrying tags to today's scratch file
// and emits scratch.write (spec.md §4.6).
func (p *Pad) WriteTagged(ctx context.Context, source, content string, tags []string) (string, error) {
	now := time.Now().UTC()
	mmdd := ids.FormatDate(now)
	id, err := p.ids.Next("s", mmdd, now)
	if err != nil {
		return "", fmt.Errorf("scratch: assigning id: %w", err)
	}

	note := Note{ID: id, Time: now.Format(time.RFC3339), Source: source, Content: content, Tags: tags}

	path := p.store.ScratchFile(dateKey(now))
	notes, err := readNotes(path)
	if err != nil {
		return "", err
	}
	notes = append(notes, note)
	if err := writeNotes(path, notes); err != nil {
		return "", err
	}

	ev := events.New(events.KindScratchWrite, "scratch/"+dateKey(now), content)
	ev.EntryID = id
	p.bus.Emit(ctx, ev)
	return id, nil
}

// ReadDate returns every note written on date ("2006-01-02").
func (p *Pad) ReadDate(date string) ([]Note, error) {
	return readNotes(p.store.ScratchFile(date))
}

// ReadRecent returns notes from the last n calendar days (including
// today), newest-first.
func (p *Pad) ReadRecent(n int) ([]Note, error) {
	var out []Note
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		day := now.AddDate(0, 0, -i)
		notes, err := readNotes(p.store.ScratchFile(dateKey(day)))
		if err != nil {
			return nil, err
		}
		out = append(out, notes...)
	}
	// Each day's file is oldest-first; reversing before the stable sort
	// keeps same-second notes newest-first too.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time > out[j].Time })
	return out, nil
}

// Promote records an un-promoted note's content into scope's changelog,
// then marks it promoted in place. Promoting an already-promoted note
// fails with ErrAlreadyPromoted and writes no second changelog entry.
func (p *Pad) Promote(ctx context.Context, date, noteID, scope, source string) (string, error) {
	path := p.store.ScratchFile(date)
	notes, err := readNotes(path)
	if err != nil {
		return "", err
	}

	idx := -1
	for i, n := range notes {
		if n.ID == noteID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return "", fmt.Errorf("scratch: note %s on %s: %w", noteID, date, operr.ErrNotFound)
	}
	if notes[idx].Promoted {
		return "", fmt.Errorf("scratch: note %s already promoted: %w", noteID, operr.ErrAlreadyPromoted)
	}

	if p.recorder == nil {
		return "", fmt.Errorf("scratch: no recorder configured: %w", operr.ErrInvalidArgument)
	}
	entryID, err := p.recorder.Record(ctx, scope, source, notes[idx].Content)
	if err != nil {
		return "", err
	}

	notes[idx].Promoted = true
	if err := writeNotes(path, notes); err != nil {
		return "", err
	}

	p.bus.Emit(ctx, events.New(events.KindScratchPromote, scope, notes[idx].Content))
	return entryID, nil
}

// Stats summarizes a Pad's current notes.
type Stats struct {
	Total      int
	Promoted   int
	Unpromoted int
	Days       int
}

// StatsFor computes Stats across the last n calendar days.
func (p *Pad) StatsFor(n int) (Stats, error) {
	notes, err := p.ReadRecent(n)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	s.Total = len(notes)
	for _, note := range notes {
		if note.Promoted {
			s.Promoted++
		} else {
			s.Unpromoted++
		}
	}
	s.Days = n
	return s, nil
}

func readNotes(path string) ([]Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scratch: reading %s: %w: %w", path, operr.ErrBackingStore, err)
	}
	var notes []Note
	if err := yaml.Unmarshal(data, &notes); err != nil {
		return nil, fmt.Errorf("scratch: parsing %s: %w: %w", path, operr.ErrBackingStore, err)
	}
	return notes, nil
}

func writeNotes(path string, notes []Note) error {
	data, err := yaml.Marshal(notes)
	if err != nil {
		return fmt.Errorf("scratch: marshaling %s: %w: %w", path, operr.ErrBackingStore, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("scratch: writing %s: %w: %w", path, operr.ErrBackingStore, err)
	}
	return nil
}
