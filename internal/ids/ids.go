// Package ids implements the monotone per-day sequential ID and time
// helpers used throughout the store (spec.md §4.2).
package ids

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"openpalace/internal/operr"
)

// Generator issues "{prefix}_{MMDD}_{NNN}" identifiers from in-memory
// per-day counters. It does not read the disk itself: a day's counter is
// recovered by seeding it from on-disk content (engine.New seeds today's
// op, dec and s counters at startup), and Next increments it in memory
// after that (spec.md §4.2, §8 "ID counter recovery").
type Generator struct {
	mu       sync.Mutex
	counters map[string]int // key: prefix+"_"+MMDD
	lastSeen time.Time
}

// New returns an empty Generator. Counters start at zero until Seed
// raises them.
func New() *Generator {
	return &Generator{counters: make(map[string]int)}
}

// Seed primes the in-memory counter for prefix/date from a previously
// observed maximum (typically obtained by scanning today's log with
// RecoverCounter). Calling Seed after counters are already in use only
// raises the counter, it never lowers it.
func (g *Generator) Seed(prefix, mmdd string, max int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := prefix + "_" + mmdd
	if cur, ok := g.counters[key]; !ok || max > cur {
		g.counters[key] = max
	}
}

// Next returns the next identifier for prefix on date mmdd ("0131"),
// relative to now for monotonicity checking. Fails with ErrInvalidTime if
// now is earlier than the most recent call's timestamp within this
// process (spec.md §4.2).
func (g *Generator) Next(prefix, mmdd string, now time.Time) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.lastSeen.IsZero() && now.Before(g.lastSeen) {
		return "", fmt.Errorf("ids: now=%s before last-seen=%s: %w", now, g.lastSeen, operr.ErrInvalidTime)
	}
	g.lastSeen = now

	key := prefix + "_" + mmdd
	g.counters[key]++
	return fmt.Sprintf("%s_%s_%03d", prefix, mmdd, g.counters[key]), nil
}

var idPattern = regexp.MustCompile(`(op|dec|s)_(\d{4})_(\d{3})`)

// RecoverCounter scans content (the current month's global changelog, or
// today's scratch file) for IDs matching prefix and mmdd, returning the
// maximum counter observed — the recovery strategy spec.md §4.2 specifies
// as "the" correct one (as opposed to a non-recovering variant that risks
// duplicate IDs across a same-day restart, flagged as a bug in spec.md
// §9's Open Questions).
func RecoverCounter(content, prefix, mmdd string) int {
	max := 0
	for _, m := range idPattern.FindAllStringSubmatch(content, -1) {
		if m[1] != prefix || m[2] != mmdd {
			continue
		}
		if n, err := strconv.Atoi(m[3]); err == nil && n > max {
			max = n
		}
	}
	return max
}

// ISONow returns the current instant as RFC 3339 UTC.
func ISONow() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// FormatDate renders a MMDD stamp for t, used in L0 status lines
// (spec.md §4.8 format_date()).
func FormatDate(t time.Time) string {
	return t.Format("0102")
}

// YearMonth renders "YYYY-MM" for t (or now, if t is zero).
func YearMonth(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.Format("2006-01")
}

// ISOWeek renders "YYYY-Www" using Go's ISO 8601 week numbering.
func ISOWeek(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}
