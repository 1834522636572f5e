// Package engine wires every subsystem into one process and exposes the
// full operation surface (spec.md §6) as plain Go methods, leaving JSON
// framing to internal/protocol. Construction order mirrors dependency
// order: paths, config, bus, then every subsystem that needs the bus,
// then the cross-cutting collaborators (VCS, language-model caller) that
// get wired into the subsystems built before them.
package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"openpalace/internal/changelog"
	"openpalace/internal/component"
	"openpalace/internal/config"
	"openpalace/internal/decay"
	"openpalace/internal/entity"
	"openpalace/internal/events"
	"openpalace/internal/health"
	"openpalace/internal/ids"
	"openpalace/internal/index"
	"openpalace/internal/ingest"
	"openpalace/internal/llm"
	"openpalace/internal/logging"
	"openpalace/internal/operr"
	"openpalace/internal/paths"
	"openpalace/internal/relationship"
	"openpalace/internal/retrieval"
	"openpalace/internal/scratch"
	"openpalace/internal/search"
	"openpalace/internal/snapshot"
	"openpalace/internal/summarizer"
	"openpalace/internal/validator"
	"openpalace/internal/vcs"
	"openpalace/internal/workspacesync"
)

// Engine is the fully wired memory store: every subsystem plus the
// registered post-write handlers that commit and reindex on mutation.
type Engine struct {
	Store *paths.Store
	Cfg   *config.Config

	bus *events.Bus
	vcs *vcs.Backer
	gen *ids.Generator

	Index         *index.L0
	Entities      *entity.Registry
	Components    *component.Store
	Changelog     *changelog.Engine
	Scratch       *scratch.Pad
	Snapshots     *snapshot.Store
	Relationships *relationship.Store
	Router        *search.Router
	Validator     *validator.Validator
	Summarizer    *summarizer.Pipeline
	Decay         *decay.Engine
	WorkspaceSync *workspacesync.Syncer
	Ingest        *ingest.Engine
	Health        *health.Checker
	Retrieval     *retrieval.Engine
	LLM           *llm.Caller
}

// New constructs every subsystem rooted at storeRoot, loads (or
// initializes) config, initializes the version-control backer, recovers
// today's ID counters from disk, builds the language-model caller per
// config.llm, and registers the built-in
// commit and reindex event handlers.
func New(ctx context.Context, storeRoot string) (*Engine, error) {
	store, err := paths.New(storeRoot)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(store.ConfigFile())
	if err != nil {
		return nil, err
	}

	backer, err := vcs.New(ctx, store.Root)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	gen := ids.New()

	idx := index.New(store, bus)
	entities := entity.New(store, bus)
	comps := component.New(store, bus, idx)
	changelogEngine := changelog.New(store, comps, bus, gen)
	scratchPad := scratch.New(store, bus, gen)
	snapshots := snapshot.New(store, bus)
	relationships := relationship.New(store, bus, comps)

	scratchPad.SetRecorder(changelogEngine)

	// Recover today's op/dec counters from the global log and the s
	// counter from today's scratch file, so a restart reissues no ID.
	now := time.Now().UTC()
	if err := changelogEngine.RecoverCounters(now); err != nil {
		return nil, err
	}
	if data, err := os.ReadFile(store.ScratchFile(now.Format("2006-01-02"))); err == nil {
		mmdd := ids.FormatDate(now)
		gen.Seed("s", mmdd, ids.RecoverCounter(string(data), "s", mmdd))
	}

	val := validator.New(comps)
	changelogEngine.SetValidator(val)
	changelogEngine.SetAutoValidateDecisions(cfg.Validation.AutoValidateDecisions)

	caller := buildCaller(ctx, &cfg.LLM)
	val.SetModel(caller)

	backends := buildSearchBackends(store, comps, scratchPad)
	router := search.NewRouter(backends, cfg.Search.Backend, cfg.Search.AutoReindex, cfg.Search.ReindexDebounceMs, bus)

	summ := summarizer.New(store, comps, idx, bus)
	summ.SetModel(caller)
	summ.SetVCS(backer)

	dec := decay.New(store, comps, bus, cfg, store.ConfigFile(), summ)
	dec.SetVCS(backer)

	ws := workspacesync.New(store, bus, entities, &cfg.WorkspaceSync)
	ws.SetVCS(backer)
	entities.SetMirror(ws.Mirror)

	ing := ingest.New(store, scratchPad, &cfg.MemoryIngest)

	hc := health.New(store, comps, idx, entities, store.ConfigFile())
	hc.SetVCS(backer)

	ret := retrieval.New(idx, comps, router)
	ret.SetModel(caller)

	e := &Engine{
		Store: store, Cfg: cfg,
		bus: bus, vcs: backer, gen: gen,
		Index: idx, Entities: entities, Components: comps,
		Changelog: changelogEngine, Scratch: scratchPad, Snapshots: snapshots,
		Relationships: relationships, Router: router, Validator: val,
		Summarizer: summ, Decay: dec, WorkspaceSync: ws, Ingest: ing,
		Health: hc, Retrieval: ret, LLM: caller,
	}
	e.registerHandlers()
	return e, nil
}

// buildCaller wires a language-model caller per config.llm.mode/provider.
// A missing or invalid provider configuration is not fatal: the caller
// degrades to ErrLanguageModelUnavailable on first use instead of
// blocking startup (spec.md §4.16's own graceful-degradation stance).
func buildCaller(ctx context.Context, cfg *config.LLMConfig) *llm.Caller {
	caller := llm.New(llm.Mode(cfg.Mode))
	log := logging.Get(logging.CategoryLLM)

	switch cfg.Provider {
	case "genai":
		apiKey := os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			log.Warn("no API key in env %s, direct genai provider left unconfigured", cfg.APIKeyEnv)
			break
		}
		provider, err := llm.NewGenAIProvider(ctx, apiKey, cfg.Model)
		if err != nil {
			log.Warn("failed to construct genai provider: %v", err)
			break
		}
		caller.SetProvider(provider)
	case "http":
		caller.SetProvider(llm.NewHTTPProvider(cfg.BaseURL, cfg.Model))
	default:
		log.Warn("unknown llm provider %q, direct mode left unconfigured", cfg.Provider)
	}
	return caller
}

func buildSearchBackends(store *paths.Store, comps *component.Store, pad *scratch.Pad) []search.Backend {
	return []search.Backend{
		search.NewBM25Backend(comps, pad),
		search.NewExternalBackend(store, 4),
		search.NewSimpleBackend(comps, pad),
	}
}

// registerHandlers installs the built-in commit and reindex handlers
// spec.md §4.1/§5 describe: commit runs for every mutating kind, then
// (at the registration level, so it runs after commit for the kinds
// that overlap) a debounced reindex is scheduled for kinds that change
// searchable content.
func (e *Engine) registerHandlers() {
	e.bus.RegisterMany(events.MutatingKinds, func(ctx context.Context, ev events.Event) error {
		if _, err := e.vcs.Commit(ctx, ev.Scope, ev.Summary); err != nil {
			return fmt.Errorf("%w: %w", operr.ErrVersionControl, err)
		}
		return nil
	})
	e.bus.RegisterMany(events.ReindexKinds, func(ctx context.Context, ev events.Event) error {
		e.Router.ScheduleDebouncedReindex(ctx)
		return nil
	})
}

// Close releases resources the engine holds open across calls. Today
// that's only the workspace-sync live watcher, started separately via
// StartWatchMode.
func (e *Engine) Close() {
	e.WorkspaceSync.StopWatch()
}

// StartWatchMode starts the optional workspace-sync live watcher if
// config.workspace_sync.watch is enabled.
func (e *Engine) StartWatchMode(ctx context.Context) error {
	return e.WorkspaceSync.StartWatch(ctx)
}
