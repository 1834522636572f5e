// Package search implements the Search Router (spec.md §4.9): backends
// register at boot in a fixed order, the router selects one (forced
// choice or first-available) and caches it, and every backend exposes a
// uniform SearchResult shape regardless of how it actually finds things.
package search

import (
	"context"
	"sync"
	"time"

	"openpalace/internal/events"
	"openpalace/internal/logging"
)

// Result is the uniform shape every backend returns.
type Result struct {
	ID        string
	Content   string
	Source    string
	Score     float64
	Component string
}

// Backend is one search implementation.
type Backend interface {
	Name() string
	Available() bool
	Search(ctx context.Context, query, scope string, limit int) ([]Result, error)
	Reindex(ctx context.Context) (int, error)
}

// Status reports the router's current state for system_status-style
// operations.
type Status struct {
	Active       string
	Available    []string
	LastReindex  time.Time
	IndexedCount int
}

// Router selects and caches a Backend, and owns the debounced reindex
// timer (spec.md §4.9, §5 "the debounced reindex timer is the only
// independent timer").
type Router struct {
	backends []Backend
	forced   string
	bus      *events.Bus

	autoReindex bool
	debounce    time.Duration

	mu           sync.Mutex
	active       Backend
	lastReindex  time.Time
	indexedCount int
	timer        *time.Timer
}

// NewRouter returns a Router over backends, registered in the priority
// order they should be tried under "auto". forced is config.search.backend
// ("auto" or a specific backend name).
func NewRouter(backends []Backend, forced string, autoReindex bool, debounceMs int, bus *events.Bus) *Router {
	return &Router{
		backends:    backends,
		forced:      forced,
		bus:         bus,
		autoReindex: autoReindex,
		debounce:    time.Duration(debounceMs) * time.Millisecond,
	}
}

// Reset invalidates the cached backend choice, forcing re-selection on
// the next Search (spec.md §5 "Caches ... invalidated by explicit calls").
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = nil
}

func (r *Router) pick() Backend {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return r.active
	}

	if r.forced != "" && r.forced != "auto" {
		for _, b := range r.backends {
			if b.Name() == r.forced && b.Available() {
				r.active = b
				return r.active
			}
		}
	}

	for _, b := range r.backends {
		if b.Available() {
			r.active = b
			return r.active
		}
	}
	return nil
}

// Search delegates to the selected backend.
func (r *Router) Search(ctx context.Context, query, scope string, limit int) ([]Result, error) {
	b := r.pick()
	if b == nil {
		return nil, nil
	}
	return b.Search(ctx, query, scope, limit)
}

// Reindex delegates to the selected backend and records the wall-clock
// time and indexed count.
func (r *Router) Reindex(ctx context.Context) (int, error) {
	b := r.pick()
	if b == nil {
		return 0, nil
	}
	count, err := b.Reindex(ctx)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.lastReindex = time.Now().UTC()
	r.indexedCount = count
	r.mu.Unlock()
	return count, nil
}

// StatusOf reports the router's current state.
func (r *Router) StatusOf() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	activeName := ""
	if r.active != nil {
		activeName = r.active.Name()
	}
	var avail []string
	for _, b := range r.backends {
		if b.Available() {
			avail = append(avail, b.Name())
		}
	}
	return Status{Active: activeName, Available: avail, LastReindex: r.lastReindex, IndexedCount: r.indexedCount}
}

// ScheduleDebouncedReindex (re)starts a single-slot timer that invokes
// Reindex on fire; repeated calls inside the debounce window coalesce to
// one reindex, per spec.md §4.9.
func (r *Router) ScheduleDebouncedReindex(ctx context.Context) {
	if !r.autoReindex {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, func() {
		if _, err := r.Reindex(ctx); err != nil {
			logging.Get(logging.CategorySearch).Warn("debounced reindex failed: %v", err)
		}
	})
}
