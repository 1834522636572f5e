// Package vcs implements the append-only commit log over the store
// directory (spec.md §2 "Version-Control Backer"). It shells out to the
// git binary the same way the teacher's world.ScanGitHistory does,
// rather than linking a git implementation into the process.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"openpalace/internal/logging"
	"openpalace/internal/operr"
)

// Backer commits the store directory to a local git repository, creating
// one if none exists yet. Commit failures are non-fatal to callers: per
// spec.md §7, post-write handlers log and swallow version-control errors.
type Backer struct {
	root string
}

// New returns a Backer rooted at dir, initializing a git repository there
// if one does not already exist.
func New(ctx context.Context, dir string) (*Backer, error) {
	b := &Backer{root: dir}
	log := logging.Get(logging.CategoryVCS)

	if _, err := b.run(ctx, "rev-parse", "--is-inside-work-tree"); err != nil {
		log.Info("initializing git repository at %s", dir)
		if _, err := b.run(ctx, "init"); err != nil {
			return nil, fmt.Errorf("vcs: git init: %w: %w", operr.ErrVersionControl, err)
		}
		_, _ = b.run(ctx, "config", "user.email", "memory-engine@localhost")
		_, _ = b.run(ctx, "config", "user.name", "memory-engine")
	}
	return b, nil
}

// Commit stages every tracked and new file under root and records a
// commit with message "{scope}: {summary}" (spec.md §4.1). Returns the
// commit hash, or "" with a nil error if there was nothing to commit.
func (b *Backer) Commit(ctx context.Context, scope, summary string) (string, error) {
	log := logging.Get(logging.CategoryVCS)

	if _, err := b.run(ctx, "add", "-A"); err != nil {
		log.Warn("git add failed: %v", err)
		return "", fmt.Errorf("%w: git add: %w", operr.ErrVersionControl, err)
	}

	status, err := b.run(ctx, "status", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("%w: git status: %w", operr.ErrVersionControl, err)
	}
	if strings.TrimSpace(status) == "" {
		return "", nil
	}

	message := fmt.Sprintf("%s: %s", scope, summary)
	if _, err := b.run(ctx, "commit", "-m", message); err != nil {
		log.Warn("git commit failed: %v", err)
		return "", fmt.Errorf("%w: git commit: %w", operr.ErrVersionControl, err)
	}

	hash, err := b.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("%w: git rev-parse: %w", operr.ErrVersionControl, err)
	}
	return strings.TrimSpace(hash), nil
}

// WorkingTreeClean reports whether the repository has no uncommitted
// changes, consumed by the health check (spec.md §4.14).
func (b *Backer) WorkingTreeClean(ctx context.Context) (bool, error) {
	status, err := b.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("%w: git status: %w", operr.ErrVersionControl, err)
	}
	return strings.TrimSpace(status) == "", nil
}

func (b *Backer) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = b.root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}
