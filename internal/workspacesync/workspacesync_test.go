package workspacesync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"openpalace/internal/config"
	"openpalace/internal/events"
	"openpalace/internal/paths"
)

type fakeEntities struct {
	soul     string
	reason   string
	entityID string
}

func (f *fakeEntities) GetSoul(entityID string) (string, bool, error) {
	if entityID != f.entityID {
		return "", false, nil
	}
	return f.soul, true, nil
}

func (f *fakeEntities) UpdateSoul(ctx context.Context, entityID, content, reason string) error {
	f.soul = content
	f.reason = reason
	return nil
}

type fakeVCS struct {
	scope, summary string
	calls          int
}

func (f *fakeVCS) Commit(ctx context.Context, scope, summary string) (string, error) {
	f.scope, f.summary = scope, summary
	f.calls++
	return "deadbeef", nil
}

func newTestSyncer(t *testing.T) (*Syncer, string, *fakeEntities) {
	t.Helper()
	store, err := paths.New(t.TempDir())
	if err != nil {
		t.Fatalf("paths.New: %v", err)
	}
	workspace := t.TempDir()
	entities := &fakeEntities{entityID: "prime"}
	cfg := &config.WorkspaceSyncConfig{
		Enabled:             true,
		Path:                workspace,
		WatchedFiles:        []string{"AGENTS.md", "CLAUDE.md"},
		PrimaryIdentityFile: "CLAUDE.md",
		PrimaryEntityID:     "prime",
	}
	s := New(store, events.NewBus(), entities, cfg)
	return s, workspace, entities
}

func TestSyncSkipsWhenDisabled(t *testing.T) {
	s, workspace, _ := newTestSyncer(t)
	s.cfg.Enabled = false
	if err := os.WriteFile(filepath.Join(workspace, "AGENTS.md"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(result.Changed) != 0 {
		t.Fatalf("expected no changes while disabled, got %+v", result.Changed)
	}
}

func TestSyncDetectsChangedFileAndBacksItUp(t *testing.T) {
	s, workspace, _ := newTestSyncer(t)
	ctx := context.Background()
	if err := os.WriteFile(filepath.Join(workspace, "AGENTS.md"), []byte("v1"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := s.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(result.Changed) != 1 || result.Changed[0] != "AGENTS.md" {
		t.Fatalf("expected AGENTS.md reported changed, got %+v", result.Changed)
	}

	backup, err := os.ReadFile(s.store.SyncBackupFile("AGENTS.md"))
	if err != nil {
		t.Fatalf("reading backup: %v", err)
	}
	if string(backup) != "v1" {
		t.Fatalf("expected backup content v1, got %q", backup)
	}

	// a second sync with unchanged content reports nothing changed.
	result, err = s.Sync(ctx)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if len(result.Changed) != 0 {
		t.Fatalf("expected no changes on unchanged rerun, got %+v", result.Changed)
	}
}

func TestSyncMirrorsPrimaryIdentityFileIntoSoulContent(t *testing.T) {
	s, workspace, entities := newTestSyncer(t)
	ctx := context.Background()
	if err := os.WriteFile(filepath.Join(workspace, "CLAUDE.md"), []byte("I am prime"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if entities.soul != "I am prime" {
		t.Fatalf("expected soul content synced, got %q", entities.soul)
	}
	if entities.reason == "" {
		t.Fatalf("expected a non-empty evolution reason")
	}
}

func TestSyncCommitsOneSummaryForAllChangedFiles(t *testing.T) {
	s, workspace, _ := newTestSyncer(t)
	vcs := &fakeVCS{}
	s.SetVCS(vcs)
	ctx := context.Background()
	if err := os.WriteFile(filepath.Join(workspace, "AGENTS.md"), []byte("a"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(workspace, "CLAUDE.md"), []byte("b"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := s.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(result.Changed) != 2 {
		t.Fatalf("expected both files changed, got %+v", result.Changed)
	}
	if vcs.calls != 1 {
		t.Fatalf("expected exactly one commit call, got %d", vcs.calls)
	}
}

func TestWriteSoulToWorkspaceRejectsNonPrimaryEntity(t *testing.T) {
	s, _, _ := newTestSyncer(t)
	err := s.WriteSoulToWorkspace(context.Background(), "someone-else", "content")
	if err == nil {
		t.Fatalf("expected error for non-primary entity")
	}
}

func TestWriteSoulToWorkspaceWritesFileAndUpdatesState(t *testing.T) {
	s, workspace, _ := newTestSyncer(t)
	ctx := context.Background()
	if err := s.WriteSoulToWorkspace(ctx, "prime", "new identity"); err != nil {
		t.Fatalf("WriteSoulToWorkspace: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(workspace, "CLAUDE.md"))
	if err != nil {
		t.Fatalf("reading workspace file: %v", err)
	}
	if string(content) != "new identity" {
		t.Fatalf("expected workspace file updated, got %q", content)
	}

	state, err := s.readState()
	if err != nil {
		t.Fatalf("readState: %v", err)
	}
	if _, ok := state.Files["CLAUDE.md"]; !ok {
		t.Fatalf("expected sync-state updated for CLAUDE.md")
	}

	// a subsequent Sync should see the workspace and store hashes agree
	// and report no further change.
	result, err := s.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(result.Changed) != 0 {
		t.Fatalf("expected no changes after write-back, got %+v", result.Changed)
	}
}
