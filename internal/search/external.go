package search

import (
	"bufio"
	"context"
	"os/exec"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/semaphore"

	"openpalace/internal/paths"
)

// ExternalBackend dispatches to ripgrep over the on-disk component and
// scratch directories, the way the teacher's internal/retrieval.SparseRetriever
// shells out to rg, bounded to a fixed number of concurrent processes
// instead of scored hit-ranking (spec.md §4.9 "External CLI").
type ExternalBackend struct {
	store *paths.Store
	sem   *semaphore.Weighted
}

// NewExternalBackend returns an ExternalBackend rooted at store. parallelism
// bounds concurrent rg invocations.
func NewExternalBackend(store *paths.Store, parallelism int64) *ExternalBackend {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &ExternalBackend{store: store, sem: semaphore.NewWeighted(parallelism)}
}

func (e *ExternalBackend) Name() string { return "external" }

// Available reports whether ripgrep is on PATH.
func (e *ExternalBackend) Available() bool {
	_, err := exec.LookPath("rg")
	return err == nil
}

// Reindex is a no-op: ripgrep reads the working tree directly, there is
// no index to build.
func (e *ExternalBackend) Reindex(ctx context.Context) (int, error) {
	return 0, nil
}

var rgLinePattern = regexp.MustCompile(`^(.+?):(\d+):(.*)$`)

// Search greps the component and scratch directories for query, bounded
// to at most parallelism concurrent rg processes per ExternalBackend.
func (e *ExternalBackend) Search(ctx context.Context, query, scope string, limit int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)

	searchRoot := e.store.ComponentsDir()

	args := []string{
		"--line-number",
		"--no-heading",
		"--with-filename",
		"--color=never",
		"-i",
		query,
		searchRoot,
		e.store.ScratchDir(),
	}

	cmd := exec.CommandContext(ctx, "rg", args...)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, err
	}

	var results []Result
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		match := rgLinePattern.FindStringSubmatch(scanner.Text())
		if match == nil {
			continue
		}
		file, content := match[1], strings.TrimSpace(match[3])
		component := componentFromPath(e.store, file)
		if !matchesScope(component, scope) {
			continue
		}
		results = append(results, Result{
			ID:        file + ":" + match[2],
			Content:   content,
			Source:    "external",
			Score:     1,
			Component: component,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// componentFromPath recovers a "<type>/<key>" scope from a path under the
// components directory, or "" if file isn't under one (e.g. scratch).
func componentFromPath(store *paths.Store, file string) string {
	rel := strings.TrimPrefix(file, store.ComponentsDir())
	rel = strings.TrimPrefix(rel, "/")
	parts := strings.SplitN(rel, "/", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "/" + parts[1]
}
