package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewCreatesSkeleton(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "store")

	s, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, p := range []string{
		s.IndexDir(),
		filepath.Join(s.IndexDir(), "weekly"),
		filepath.Join(s.IndexDir(), "monthly"),
		s.EntitiesDir(),
		s.ComponentsDir(),
		s.ChangelogsDir(),
		s.ScratchDir(),
		s.SyncDir(),
		s.ArchiveDir(),
		s.VCSDir(),
	} {
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist: %v", p, err)
		}
	}
}

func TestComponentTypeForTagRoundTrip(t *testing.T) {
	cases := map[string]string{"P": "projects", "K": "knowledge", "C": "skills", "R": "relationships"}
	for tag, typ := range cases {
		got, ok := ComponentTypeForTag(tag)
		if !ok || got != typ {
			t.Fatalf("ComponentTypeForTag(%q) = %q, %v; want %q", tag, got, ok, typ)
		}
		backTag, ok := TagForComponentType(typ)
		if !ok || backTag != tag {
			t.Fatalf("TagForComponentType(%q) = %q, %v; want %q", typ, backTag, ok, tag)
		}
	}
	if _, ok := ComponentTypeForTag("S"); ok {
		t.Fatalf("system tag S must not map to a component directory")
	}
}
