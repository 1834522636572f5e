// Package paths centralizes the on-disk layout of a store directory
// (spec.md §6 "On-disk layout"), so every other package addresses the
// store through one set of deterministic path helpers instead of
// constructing paths ad hoc.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// Store is a resolved store root, exposing every well-known subpath.
type Store struct {
	Root string
}

// DefaultStoreDir returns "<home>/.open-palace", the default data
// directory named in spec.md §6.
func DefaultStoreDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("paths: resolving home directory: %w", err)
	}
	return filepath.Join(home, ".open-palace"), nil
}

// New resolves a Store rooted at root, creating the directory skeleton
// spec.md §6 names if it does not already exist.
func New(root string) (*Store, error) {
	s := &Store{Root: root}
	for _, dir := range []string{
		s.Root,
		s.IndexDir(),
		filepath.Join(s.IndexDir(), "weekly"),
		filepath.Join(s.IndexDir(), "monthly"),
		s.EntitiesDir(),
		s.ComponentsDir(),
		s.ChangelogsDir(),
		s.ScratchDir(),
		s.SyncDir(),
		filepath.Join(s.SyncDir(), "workspace-backup"),
		s.ArchiveDir(),
		filepath.Join(s.ArchiveDir(), "components"),
		s.VCSDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("paths: creating %s: %w", dir, err)
		}
	}
	return s, nil
}

func (s *Store) ConfigFile() string      { return filepath.Join(s.Root, "config") }
func (s *Store) VCSDir() string          { return filepath.Join(s.Root, ".version-control") }
func (s *Store) IndexDir() string        { return filepath.Join(s.Root, "index") }
func (s *Store) MasterIndexFile() string { return filepath.Join(s.IndexDir(), "master") }

func (s *Store) WeeklyReport(isoWeek string) string {
	return filepath.Join(s.IndexDir(), "weekly", isoWeek)
}

func (s *Store) MonthlyReport(yearMonth string) string {
	return filepath.Join(s.IndexDir(), "monthly", yearMonth)
}

func (s *Store) EntitiesDir() string { return filepath.Join(s.Root, "entities") }
func (s *Store) EntityFile(entityID string) string {
	return filepath.Join(s.EntitiesDir(), entityID)
}

func (s *Store) ComponentsDir() string { return filepath.Join(s.Root, "components") }
func (s *Store) ComponentDir(componentType, key string) string {
	return filepath.Join(s.ComponentsDir(), componentType, key)
}
func (s *Store) ComponentSummaryFile(componentType, key string) string {
	return filepath.Join(s.ComponentDir(componentType, key), "summary")
}
func (s *Store) ComponentChangelogFile(componentType, key string) string {
	return filepath.Join(s.ComponentDir(componentType, key), "changelog")
}
func (s *Store) ComponentRawDir(componentType, key string) string {
	return filepath.Join(s.ComponentDir(componentType, key), "raw")
}

func (s *Store) RelationshipProfileFile(key string) string {
	return filepath.Join(s.ComponentDir("relationships", key), "profile")
}

func (s *Store) ChangelogsDir() string { return filepath.Join(s.Root, "changelogs") }
func (s *Store) GlobalChangelogFile(yearMonth string) string {
	return filepath.Join(s.ChangelogsDir(), yearMonth)
}

func (s *Store) ScratchDir() string { return filepath.Join(s.Root, "scratch") }
func (s *Store) ScratchFile(date string) string {
	return filepath.Join(s.ScratchDir(), date)
}

func (s *Store) SnapshotFile() string { return filepath.Join(s.Root, "snapshot") }

func (s *Store) SyncDir() string      { return filepath.Join(s.Root, "sync") }
func (s *Store) SyncStateFile() string { return filepath.Join(s.SyncDir(), "sync-state") }
func (s *Store) SyncBackupFile(name string) string {
	return filepath.Join(s.SyncDir(), "workspace-backup", name)
}

func (s *Store) ArchiveDir() string { return filepath.Join(s.Root, "archive") }
func (s *Store) ArchivedChangelogFile(componentType, key, yearMonth string) string {
	return filepath.Join(s.ArchiveDir(), "components", componentType, key, fmt.Sprintf("changelog-archived-%s.yaml", yearMonth))
}

func (s *Store) IngestStateFile() string      { return filepath.Join(s.Root, "ingest-state") }
func (s *Store) DecayStateFile() string       { return filepath.Join(s.Root, "decay-state") }
func (s *Store) AccessLogFile() string        { return filepath.Join(s.Root, "access-log") }
func (s *Store) SummarizerStateFile() string  { return filepath.Join(s.Root, "summarizer-state") }
func (s *Store) SystemStateFile() string      { return filepath.Join(s.Root, "system-state") }

// ComponentTypeForTag maps an L0 tag letter to its components/<type> directory
// name (spec.md §4.8).
func ComponentTypeForTag(tag string) (string, bool) {
	switch tag {
	case "P":
		return "projects", true
	case "K":
		return "knowledge", true
	case "C":
		return "skills", true
	case "R":
		return "relationships", true
	default:
		return "", false
	}
}

// TagForComponentType is the inverse of ComponentTypeForTag.
func TagForComponentType(componentType string) (string, bool) {
	switch componentType {
	case "projects":
		return "P", true
	case "knowledge":
		return "K", true
	case "skills":
		return "C", true
	case "relationships":
		return "R", true
	default:
		return "", false
	}
}
