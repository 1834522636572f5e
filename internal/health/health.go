// Package health implements the structural invariant report (spec.md
// §4.14): a read-only sweep across the store's five load-bearing
// invariants, returning a single pass/fail verdict plus the detail
// behind it.
package health

import (
	"context"
	"fmt"
	"os"

	"openpalace/internal/component"
	"openpalace/internal/config"
	"openpalace/internal/entity"
	"openpalace/internal/index"
	"openpalace/internal/paths"
)

// Severity classifies an Issue. Only SeverityError fails the overall
// report; SeverityWarning surfaces drift worth a look without blocking.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is one finding from a single check category.
type Issue struct {
	Category string
	Severity Severity
	Detail   string
}

// Report is the full result of a health run.
type Report struct {
	Issues  []Issue
	Healthy bool
}

// VCS is the narrow interface the health check needs to inspect working
// tree cleanliness.
type VCS interface {
	WorkingTreeClean(ctx context.Context) (bool, error)
}

// Checker runs the structural invariant sweep.
type Checker struct {
	store      *paths.Store
	components *component.Store
	index      *index.L0
	entities   *entity.Registry
	vcs        VCS
	configPath string
}

// New returns a Checker wired to the running store's subsystems.
func New(store *paths.Store, components *component.Store, idx *index.L0, entities *entity.Registry, configPath string) *Checker {
	return &Checker{store: store, components: components, index: idx, entities: entities, configPath: configPath}
}

// SetVCS installs the working-tree-cleanliness check. Left unset, that
// category is skipped rather than reported as an error.
func (c *Checker) SetVCS(v VCS) { c.vcs = v }

// Run executes every check category and returns the combined report.
// A Report is always returned even when individual categories fail to
// evaluate; such failures themselves become error-severity issues
// rather than aborting the whole run.
func (c *Checker) Run(ctx context.Context) (*Report, error) {
	var issues []Issue
	issues = append(issues, c.checkIndexConsistency()...)
	issues = append(issues, c.checkStaleness()...)
	issues = append(issues, c.checkEntities()...)
	issues = append(issues, c.checkVCS(ctx)...)
	issues = append(issues, c.checkConfig()...)

	healthy := true
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			healthy = false
			break
		}
	}
	return &Report{Issues: issues, Healthy: healthy}, nil
}

// checkIndexConsistency cross-references L0 against the component
// directories on disk in both directions: an L0 line naming a directory
// that doesn't exist, and a directory with no corresponding L0 line.
func (c *Checker) checkIndexConsistency() []Issue {
	var issues []Issue

	entries, err := c.index.Entries()
	if err != nil {
		return []Issue{{Category: "index", Severity: SeverityError, Detail: "reading L0: " + err.Error()}}
	}

	scopes, err := c.components.List("")
	if err != nil {
		return []Issue{{Category: "index", Severity: SeverityError, Detail: "listing components: " + err.Error()}}
	}
	known := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		known[s] = true
	}

	referenced := make(map[string]bool)
	for _, e := range entries {
		componentType, ok := paths.ComponentTypeForTag(e.Tag)
		if !ok {
			continue // "S" (registered system) lines aren't backed by a component directory
		}
		scope := component.Scope(componentType, e.Key)
		referenced[scope] = true
		if !known[scope] {
			issues = append(issues, Issue{
				Category: "index",
				Severity: SeverityWarning,
				Detail:   fmt.Sprintf("L0 entry %q has no backing directory", scope),
			})
		}
	}
	for _, scope := range scopes {
		if !referenced[scope] {
			issues = append(issues, Issue{
				Category: "index",
				Severity: SeverityWarning,
				Detail:   fmt.Sprintf("component %q has no L0 entry", scope),
			})
		}
	}
	return issues
}

// checkStaleness flags components whose changelog was written to after
// their summary was last updated, meaning recorded activity hasn't been
// folded into the summary yet.
func (c *Checker) checkStaleness() []Issue {
	scopes, err := c.components.List("")
	if err != nil {
		return []Issue{{Category: "staleness", Severity: SeverityError, Detail: "listing components: " + err.Error()}}
	}

	var issues []Issue
	for _, scope := range scopes {
		componentType, key, err := component.SplitScope(scope)
		if err != nil {
			continue
		}
		changelogInfo, err := os.Stat(c.store.ComponentChangelogFile(componentType, key))
		if err != nil {
			continue // no changelog yet, nothing to compare
		}
		summaryInfo, err := os.Stat(c.store.ComponentSummaryFile(componentType, key))
		if err != nil {
			continue
		}
		if changelogInfo.ModTime().After(summaryInfo.ModTime()) {
			issues = append(issues, Issue{
				Category: "staleness",
				Severity: SeverityWarning,
				Detail:   fmt.Sprintf("%s: changelog updated after its summary", scope),
			})
		}
	}
	return issues
}

// checkEntities flags a store with no registered entity at all, which
// means no agent identity has ever been onboarded.
func (c *Checker) checkEntities() []Issue {
	ids, err := c.entities.List()
	if err != nil {
		return []Issue{{Category: "entities", Severity: SeverityError, Detail: "listing entities: " + err.Error()}}
	}
	if len(ids) == 0 {
		return []Issue{{Category: "entities", Severity: SeverityError, Detail: "no entities registered"}}
	}
	return nil
}

// checkVCS flags an unclean working tree. Skipped entirely if no VCS
// backer was wired (e.g. running against a directory outside a repo).
func (c *Checker) checkVCS(ctx context.Context) []Issue {
	if c.vcs == nil {
		return nil
	}
	clean, err := c.vcs.WorkingTreeClean(ctx)
	if err != nil {
		return []Issue{{Category: "vcs", Severity: SeverityError, Detail: "checking working tree: " + err.Error()}}
	}
	if !clean {
		return []Issue{{Category: "vcs", Severity: SeverityWarning, Detail: "uncommitted changes in store"}}
	}
	return nil
}

// checkConfig flags a config file that can't be parsed.
func (c *Checker) checkConfig() []Issue {
	if _, err := config.Load(c.configPath); err != nil {
		return []Issue{{Category: "config", Severity: SeverityError, Detail: "reading config: " + err.Error()}}
	}
	return nil
}
