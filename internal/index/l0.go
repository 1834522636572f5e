// Package index implements the three-level index's L0 master document
// (spec.md §4.8): a single markdown file containing a compressed,
// token-bounded code block of status lines, one per component or system.
package index

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"openpalace/internal/events"
	"openpalace/internal/operr"
	"openpalace/internal/paths"
)

const legend = "Legend: ★ active ○ paused ● done ✕ blocked ⟳MMDD last-updated →focus ⚑blocker"

const header = "# Master Index\n\nOne line per component or registered system. Always safe to read in full.\n"

var entryPattern = regexp.MustCompile(`^\[(P|K|C|R|S)\] (\S+) \| (.*)$`)

// L0 manages the single master-index document.
type L0 struct {
	store *paths.Store
	bus   *events.Bus
}

// New returns an L0 manager over store.
func New(store *paths.Store, bus *events.Bus) *L0 {
	return &L0{store: store, bus: bus}
}

// Get returns the full L0 document, creating a well-formed empty one if
// none exists yet — L0 is "cheap; caller treats it as always-in-context"
// (spec.md §4.8).
func (l *L0) Get() (string, error) {
	data, err := os.ReadFile(l.store.MasterIndexFile())
	if err != nil {
		if os.IsNotExist(err) {
			doc := render(nil)
			if werr := os.WriteFile(l.store.MasterIndexFile(), []byte(doc), 0o644); werr != nil {
				return "", fmt.Errorf("index: initializing L0: %w: %w", operr.ErrBackingStore, werr)
			}
			return doc, nil
		}
		return "", fmt.Errorf("index: reading L0: %w: %w", operr.ErrBackingStore, err)
	}
	return string(data), nil
}

// entry is one parsed [TAG] key | status line.
type entry struct {
	tag, key, status string
}

func (l *L0) readEntries() ([]entry, error) {
	doc, err := l.Get()
	if err != nil {
		return nil, err
	}
	var out []entry
	for _, line := range strings.Split(doc, "\n") {
		if m := entryPattern.FindStringSubmatch(line); m != nil {
			out = append(out, entry{tag: m[1], key: m[2], status: m[3]})
		}
	}
	return out, nil
}

func render(entries []entry) string {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].tag != entries[j].tag {
			return entries[i].tag < entries[j].tag
		}
		return entries[i].key < entries[j].key
	})

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n```\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s | %s\n", e.tag, e.key, e.status)
	}
	b.WriteString(legend + "\n")
	b.WriteString("```\n")
	return b.String()
}

// UpdateEntry upserts the status line for (tag, key), emitting
// index.update (spec.md §4.8).
func (l *L0) UpdateEntry(ctx context.Context, tag, key, statusLine string) error {
	entries, err := l.readEntries()
	if err != nil {
		return err
	}

	found := false
	for i := range entries {
		if entries[i].tag == tag && entries[i].key == key {
			entries[i].status = statusLine
			found = true
			break
		}
	}
	if !found {
		entries = append(entries, entry{tag: tag, key: key, status: statusLine})
	}

	doc := render(entries)
	if err := os.WriteFile(l.store.MasterIndexFile(), []byte(doc), 0o644); err != nil {
		return fmt.Errorf("index: writing L0: %w: %w", operr.ErrBackingStore, err)
	}

	l.bus.Emit(ctx, events.New(events.KindIndexUpdate, fmt.Sprintf("%s/%s", tag, key), fmt.Sprintf("updated [%s] %s", tag, key)))
	return nil
}

// RemoveEntry deletes the (tag, key) row, used when a component is
// archived away entirely.
func (l *L0) RemoveEntry(ctx context.Context, tag, key string) error {
	entries, err := l.readEntries()
	if err != nil {
		return err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.tag == tag && e.key == key {
			continue
		}
		out = append(out, e)
	}
	doc := render(out)
	if err := os.WriteFile(l.store.MasterIndexFile(), []byte(doc), 0o644); err != nil {
		return fmt.Errorf("index: writing L0: %w: %w", operr.ErrBackingStore, err)
	}
	l.bus.Emit(ctx, events.New(events.KindIndexUpdate, fmt.Sprintf("%s/%s", tag, key), fmt.Sprintf("removed [%s] %s", tag, key)))
	return nil
}

// Rebuild replaces the entire code block with a freshly supplied set of
// lines, used by the monthly summarizer review (spec.md §4.11). lines
// must be pre-formatted "[TAG] key | status" strings; malformed lines are
// skipped.
func (l *L0) Rebuild(ctx context.Context, lines []string) error {
	var entries []entry
	for _, line := range lines {
		if m := entryPattern.FindStringSubmatch(line); m != nil {
			entries = append(entries, entry{tag: m[1], key: m[2], status: m[3]})
		}
	}
	doc := render(entries)
	if err := os.WriteFile(l.store.MasterIndexFile(), []byte(doc), 0o644); err != nil {
		return fmt.Errorf("index: rebuilding L0: %w: %w", operr.ErrBackingStore, err)
	}
	l.bus.Emit(ctx, events.New(events.KindIndexUpdate, "index/master", "rebuilt by monthly review"))
	return nil
}

// Search returns every non-empty line of the document whose text contains
// query, case-insensitively. When scope is non-empty only lines whose key
// starts with scope are considered (spec.md §4.8 search()).
func (l *L0) Search(query, scope string) ([]string, error) {
	entries, err := l.readEntries()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []string
	for _, e := range entries {
		if scope != "" && !strings.HasPrefix(e.key, scope) {
			continue
		}
		line := fmt.Sprintf("[%s] %s | %s", e.tag, e.key, e.status)
		if strings.Contains(strings.ToLower(line), q) {
			out = append(out, line)
		}
	}
	return out, nil
}

// Entry is one parsed [TAG] key | status line, exported for callers
// (such as the health check) that need to cross-reference L0 against
// other state without re-parsing the document themselves.
type Entry struct {
	Tag, Key, Status string
}

// Entries returns every parsed line in the document.
func (l *L0) Entries() ([]Entry, error) {
	raw, err := l.readEntries()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(raw))
	for i, e := range raw {
		out[i] = Entry{Tag: e.tag, Key: e.key, Status: e.status}
	}
	return out, nil
}

// StatusFor returns the current status text for (tag, key), if present.
func (l *L0) StatusFor(tag, key string) (string, bool, error) {
	entries, err := l.readEntries()
	if err != nil {
		return "", false, err
	}
	for _, e := range entries {
		if e.tag == tag && e.key == key {
			return e.status, true, nil
		}
	}
	return "", false, nil
}

var timestampPattern = regexp.MustCompile(`⟳\d{4}`)

// Touch bumps (or appends) the ⟳MMDD last-updated marker on an existing
// status line, defaulting to "★ active" for rows that don't exist yet.
func (l *L0) Touch(ctx context.Context, tag, key string, now time.Time) error {
	status, found, err := l.StatusFor(tag, key)
	if err != nil {
		return err
	}
	if !found {
		status = "★ active"
	}
	stamp := "⟳" + FormatDate(now)
	if timestampPattern.MatchString(status) {
		status = timestampPattern.ReplaceAllString(status, stamp)
	} else {
		status = strings.TrimSpace(status) + " " + stamp
	}
	return l.UpdateEntry(ctx, tag, key, status)
}

// FormatDate renders a MMDD stamp for use in status lines.
func FormatDate(t time.Time) string {
	return t.Format("0102")
}
