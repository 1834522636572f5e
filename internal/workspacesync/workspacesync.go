// Package workspacesync implements Workspace Sync (spec.md §4.13):
// mirroring a handful of well-known workspace files (most notably a
// primary identity file) into the store, detecting drift by hashing
// rather than mtimes, and optionally watching for live changes the way
// the teacher's MangleWatcher watches its rule directory.
package workspacesync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"openpalace/internal/config"
	"openpalace/internal/events"
	"openpalace/internal/ids"
	"openpalace/internal/logging"
	"openpalace/internal/operr"
	"openpalace/internal/paths"
)

// EntityRegistry is the narrow interface workspacesync needs from
// internal/entity, avoiding a direct import cycle concern and keeping
// the dependency explicit.
type EntityRegistry interface {
	GetSoul(entityID string) (string, bool, error)
	UpdateSoul(ctx context.Context, entityID, content, reason string) error
}

// VCS is the narrow interface workspacesync needs to commit a single
// summary message for the whole run (spec.md §4.13).
type VCS interface {
	Commit(ctx context.Context, scope, summary string) (string, error)
}

// FileState is the persisted drift-detection record for one watched file.
type FileState struct {
	SHA256     string `yaml:"sha256"`
	LastSynced string `yaml:"last_synced"`
}

// State is the full persisted sync-state document.
type State struct {
	Files map[string]FileState `yaml:"files"`
}

// Result reports what Sync actually did.
type Result struct {
	Changed []string
	Errors  map[string]string
}

// Syncer mirrors workspace files into the store and back.
type Syncer struct {
	store    *paths.Store
	bus      *events.Bus
	entities EntityRegistry
	cfg      *config.WorkspaceSyncConfig
	vcs      VCS

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// New returns a Syncer configured from cfg.
func New(store *paths.Store, bus *events.Bus, entities EntityRegistry, cfg *config.WorkspaceSyncConfig) *Syncer {
	return &Syncer{store: store, bus: bus, entities: entities, cfg: cfg}
}

// SetVCS installs the commit backer used after Sync.
func (s *Syncer) SetVCS(v VCS) { s.vcs = v }

// knownCandidates are probed, in order, when config.workspace_sync.path
// is unset (spec.md §4.13 "probing a known set of candidates").
func knownCandidates() []string {
	var out []string
	if cwd, err := os.Getwd(); err == nil {
		out = append(out, cwd)
	}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, home)
	}
	return out
}

// WorkspacePath resolves the workspace directory: the explicit config
// path if set, else the first existing candidate.
func (s *Syncer) WorkspacePath() (string, error) {
	if s.cfg.Path != "" {
		return s.cfg.Path, nil
	}
	for _, candidate := range knownCandidates() {
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("workspacesync: %w: no workspace directory found", operr.ErrNotFound)
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (s *Syncer) readState() (*State, error) {
	data, err := os.ReadFile(s.store.SyncStateFile())
	if err != nil {
		if os.IsNotExist(err) {
			return &State{Files: map[string]FileState{}}, nil
		}
		return nil, fmt.Errorf("workspacesync: reading state: %w: %w", operr.ErrBackingStore, err)
	}
	state := &State{}
	if err := yaml.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("workspacesync: parsing state: %w: %w", operr.ErrBackingStore, err)
	}
	if state.Files == nil {
		state.Files = map[string]FileState{}
	}
	return state, nil
}

func (s *Syncer) writeState(state *State) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("workspacesync: marshaling state: %w: %w", operr.ErrBackingStore, err)
	}
	if err := os.WriteFile(s.store.SyncStateFile(), data, 0o644); err != nil {
		return fmt.Errorf("workspacesync: writing state: %w: %w", operr.ErrBackingStore, err)
	}
	return nil
}

// Sync compares every configured watched file against its persisted
// hash, backs up and records any that changed, synchronizes the primary
// identity file into the mapped entity's soul_content, and commits one
// summary message listing every changed file. Sync failures for
// individual files are collected, not fatal (spec.md §4.13).
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	if !s.cfg.Enabled {
		return &Result{Errors: map[string]string{}}, nil
	}

	workspace, err := s.WorkspacePath()
	if err != nil {
		return &Result{Errors: map[string]string{"*": err.Error()}}, nil
	}

	state, err := s.readState()
	if err != nil {
		return nil, err
	}

	result := &Result{Errors: map[string]string{}}
	now := ids.ISONow()

	for _, name := range s.cfg.WatchedFiles {
		path := filepath.Join(workspace, name)
		content, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			result.Errors[name] = err.Error()
			continue
		}

		sum := hashContent(content)
		if prior, ok := state.Files[name]; ok && prior.SHA256 == sum {
			continue
		}

		if err := os.WriteFile(s.store.SyncBackupFile(name), content, 0o644); err != nil {
			result.Errors[name] = err.Error()
			continue
		}

		if name == s.cfg.PrimaryIdentityFile && s.cfg.PrimaryEntityID != "" && s.entities != nil {
			if err := s.entities.UpdateSoul(ctx, s.cfg.PrimaryEntityID, string(content), "workspace sync: "+name); err != nil {
				result.Errors[name] = err.Error()
				continue
			}
		}

		state.Files[name] = FileState{SHA256: sum, LastSynced: now}
		result.Changed = append(result.Changed, name)
		s.bus.Emit(ctx, events.New(events.KindWorkspaceSync, "workspace/"+name, "workspace file changed: "+name))
	}

	if err := s.writeState(state); err != nil {
		return result, err
	}

	if len(result.Changed) > 0 && s.vcs != nil {
		summary := fmt.Sprintf("synced %d workspace file(s): %v", len(result.Changed), result.Changed)
		if _, err := s.vcs.Commit(ctx, "workspace/sync", summary); err != nil {
			logging.Get(logging.CategoryWorkspaceSync).Warn("workspace sync commit failed: %v", err)
		}
	}

	return result, nil
}

// WriteSoulToWorkspace reverses the sync direction: it writes content to
// the primary identity file in the workspace for entityID, but only if
// entityID is the mapped primary entity, and updates the persisted hash
// to match (spec.md §4.13).
func (s *Syncer) WriteSoulToWorkspace(ctx context.Context, entityID, content string) error {
	if entityID != s.cfg.PrimaryEntityID {
		return fmt.Errorf("workspacesync: %w: %s is not the mapped primary entity", operr.ErrInvalidArgument, entityID)
	}

	workspace, err := s.WorkspacePath()
	if err != nil {
		return err
	}
	path := filepath.Join(workspace, s.cfg.PrimaryIdentityFile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("workspacesync: writing %s: %w: %w", path, operr.ErrBackingStore, err)
	}

	state, err := s.readState()
	if err != nil {
		return err
	}
	state.Files[s.cfg.PrimaryIdentityFile] = FileState{SHA256: hashContent([]byte(content)), LastSynced: ids.ISONow()}
	if err := s.writeState(state); err != nil {
		return err
	}

	s.bus.Emit(ctx, events.New(events.KindWorkspaceSync, "workspace/"+s.cfg.PrimaryIdentityFile, "wrote soul content to workspace"))
	return nil
}

// Mirror adapts WriteSoulToWorkspace to entity.MirrorFunc's signature, so
// it can be registered directly via entity.Registry.SetMirror by the
// engine wiring.
func (s *Syncer) Mirror(entityID, content string) error {
	return s.WriteSoulToWorkspace(context.Background(), entityID, content)
}

// StartWatch begins a best-effort live-sync mode: an fsnotify watcher on
// the workspace directory that debounce-triggers Sync on write events,
// without violating the single-in-flight-call model — the watcher only
// schedules a future Sync call through the same dispatch path, it never
// calls Sync concurrently with another protocol operation.
func (s *Syncer) StartWatch(ctx context.Context) error {
	if !s.cfg.Watch {
		return nil
	}
	workspace, err := s.WorkspacePath()
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("workspacesync: starting watcher: %w", err)
	}
	if err := watcher.Add(workspace); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("workspacesync: watching %s: %w", workspace, err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	go s.watchLoop(ctx, watcher, stop)
	return nil
}

func (s *Syncer) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, stop chan struct{}) {
	log := logging.Get(logging.CategoryWorkspaceSync)
	var timer *time.Timer
	debounce := 500 * time.Millisecond

	trigger := func() {
		if _, err := s.Sync(ctx); err != nil {
			log.Warn("debounced workspace sync failed: %v", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, trigger)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn("workspace watcher error: %v", err)
		}
	}
}

// StopWatch stops a live watch started by StartWatch, if any.
func (s *Syncer) StopWatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	if s.watcher != nil {
		_ = s.watcher.Close()
		s.watcher = nil
	}
}
