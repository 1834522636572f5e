// Package ingest implements the scheduled memory-ingest system named in
// spec.md's config and on-disk layout (§6, `ingest-state`): watching a
// configured set of paths for new or changed content and folding it into
// scratch as ingest-sourced notes, using the same hash-diff idiom as
// internal/workspacesync.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"openpalace/internal/config"
	"openpalace/internal/operr"
	"openpalace/internal/paths"
)

// Recorder is the narrow interface ingest needs from internal/scratch.
type Recorder interface {
	Write(ctx context.Context, source, content string) (string, error)
}

// FileState is the persisted drift-detection record for one watched path.
type FileState struct {
	SHA256 string `yaml:"sha256"`
}

// State is the full persisted ingest-state document.
type State struct {
	Files map[string]FileState `yaml:"files"`
}

// Result reports what a Scan actually did.
type Result struct {
	Ingested []string
	Errors   map[string]string
}

// Engine scans configured watch paths and records new content to scratch.
type Engine struct {
	store   *paths.Store
	scratch Recorder
	cfg     *config.MemoryIngestConfig
}

// New returns an Engine configured from cfg.
func New(store *paths.Store, scratch Recorder, cfg *config.MemoryIngestConfig) *Engine {
	return &Engine{store: store, scratch: scratch, cfg: cfg}
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (e *Engine) readState() (*State, error) {
	data, err := os.ReadFile(e.store.IngestStateFile())
	if err != nil {
		if os.IsNotExist(err) {
			return &State{Files: map[string]FileState{}}, nil
		}
		return nil, fmt.Errorf("ingest: reading state: %w: %w", operr.ErrBackingStore, err)
	}
	state := &State{}
	if err := yaml.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("ingest: parsing state: %w: %w", operr.ErrBackingStore, err)
	}
	if state.Files == nil {
		state.Files = map[string]FileState{}
	}
	return state, nil
}

func (e *Engine) writeState(state *State) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("ingest: marshaling state: %w: %w", operr.ErrBackingStore, err)
	}
	if err := os.WriteFile(e.store.IngestStateFile(), data, 0o644); err != nil {
		return fmt.Errorf("ingest: writing state: %w: %w", operr.ErrBackingStore, err)
	}
	return nil
}

// Scan reads every configured watch path, hashes its content, and for
// anything new or changed since the last scan, records a scratch note
// tagged with config.memory_ingest.source_label. A read failure for one
// path is collected rather than aborting the scan.
func (e *Engine) Scan(ctx context.Context) (*Result, error) {
	result := &Result{Errors: map[string]string{}}
	if !e.cfg.Enabled {
		return result, nil
	}

	state, err := e.readState()
	if err != nil {
		return nil, err
	}

	for _, path := range e.cfg.WatchPaths {
		content, err := os.ReadFile(path)
		if err != nil {
			result.Errors[path] = err.Error()
			continue
		}
		sum := hashContent(content)
		if prior, ok := state.Files[path]; ok && prior.SHA256 == sum {
			continue
		}

		if _, err := e.scratch.Write(ctx, e.cfg.SourceLabel, string(content)); err != nil {
			result.Errors[path] = err.Error()
			continue
		}
		state.Files[path] = FileState{SHA256: sum}
		result.Ingested = append(result.Ingested, path)
	}

	if err := e.writeState(state); err != nil {
		return result, err
	}
	return result, nil
}
