// Package summarizer implements the three-level Summarizer Pipeline
// (spec.md §4.11): daily digests that fold new changelog entries into a
// component's summary, a weekly cross-component synthesis report, and a
// monthly review that rebuilds L0 and writes a narrative.
package summarizer

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"openpalace/internal/component"
	"openpalace/internal/events"
	"openpalace/internal/ids"
	"openpalace/internal/index"
	"openpalace/internal/logging"
	"openpalace/internal/operr"
	"openpalace/internal/paths"
)

// LanguageModel is the narrow interface the pipeline needs from the
// language-model caller, avoiding an import of internal/llm.
type LanguageModel interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// VCS is the narrow interface the pipeline needs to commit its writes.
type VCS interface {
	Commit(ctx context.Context, scope, summary string) (string, error)
}

// State is the persistent cross-level state, one file shared by all
// three tiers (spec.md §4.11 "Three levels sharing a persistent state
// file").
type State struct {
	LastDigest    map[string]string `yaml:"last_digest"` // scope -> RFC3339 watermark
	LastSynthesis string            `yaml:"last_synthesis"`
	LastReview    string            `yaml:"last_review"`
}

// reviewSentinel separates the rebuilt L0 block from the monthly
// narrative in a Review response (spec.md §4.11).
const reviewSentinel = "===REVIEW-NARRATIVE==="

// digestConcurrency bounds how many components are digested at once.
const digestConcurrency = 4

// DigestResult reports per-component digest outcomes.
type DigestResult struct {
	Processed  []string
	Errors     map[string]string
	CommitHash string
}

// Success is true iff no component failed.
func (r *DigestResult) Success() bool { return len(r.Errors) == 0 }

// Pipeline runs the digest/synthesis/review tiers against a store.
type Pipeline struct {
	store      *paths.Store
	components *component.Store
	index      *index.L0
	bus        *events.Bus
	model      LanguageModel
	vcs        VCS
}

// New returns a Pipeline over store, components, and idx.
func New(store *paths.Store, components *component.Store, idx *index.L0, bus *events.Bus) *Pipeline {
	return &Pipeline{store: store, components: components, index: idx, bus: bus}
}

// SetModel installs the language-model caller used by all three tiers.
func (p *Pipeline) SetModel(m LanguageModel) { p.model = m }

// SetVCS installs the commit backer used after Digest.
func (p *Pipeline) SetVCS(v VCS) { p.vcs = v }

func (p *Pipeline) readState() (*State, error) {
	data, err := os.ReadFile(p.store.SummarizerStateFile())
	if err != nil {
		if os.IsNotExist(err) {
			return &State{LastDigest: map[string]string{}}, nil
		}
		return nil, fmt.Errorf("summarizer: reading state: %w: %w", operr.ErrBackingStore, err)
	}
	state := &State{}
	if err := yaml.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("summarizer: parsing state: %w: %w", operr.ErrBackingStore, err)
	}
	if state.LastDigest == nil {
		state.LastDigest = map[string]string{}
	}
	return state, nil
}

func (p *Pipeline) writeState(state *State) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("summarizer: marshaling state: %w: %w", operr.ErrBackingStore, err)
	}
	if err := os.WriteFile(p.store.SummarizerStateFile(), data, 0o644); err != nil {
		return fmt.Errorf("summarizer: writing state: %w: %w", operr.ErrBackingStore, err)
	}
	return nil
}

// SafeWatermark is the cross-system contract with decay (spec.md §4.11):
// the minimum last-digest time across every component that has ever had
// a changelog entry. ok is false if any such component has never been
// digested, meaning decay must treat the watermark as infinitely far in
// the future — nothing is safe to archive yet.
func (p *Pipeline) SafeWatermark() (watermark time.Time, ok bool, err error) {
	state, err := p.readState()
	if err != nil {
		return time.Time{}, false, err
	}

	scopes, err := p.components.List("")
	if err != nil {
		return time.Time{}, false, err
	}

	first := true
	for _, scope := range scopes {
		entries, err := p.components.ReadChangelogEntries(scope)
		if err != nil {
			return time.Time{}, false, err
		}
		if len(entries) == 0 {
			continue
		}

		stamp, digested := state.LastDigest[scope]
		if !digested {
			return time.Time{}, false, nil
		}
		t, perr := time.Parse(time.RFC3339, stamp)
		if perr != nil {
			return time.Time{}, false, fmt.Errorf("summarizer: parsing watermark for %s: %w", scope, perr)
		}
		if first || t.Before(watermark) {
			watermark = t
			first = false
		}
	}

	if first {
		// No component has any changelog activity yet; nothing to protect.
		return time.Time{}, true, nil
	}
	return watermark, true, nil
}

// Digest folds each component's new changelog entries (newer than its
// coverage watermark) into an updated summary via the language model. If
// scope is non-empty, only that component is processed. Errors are
// collected per component; the run still commits whatever succeeded.
func (p *Pipeline) Digest(ctx context.Context, scope string) (*DigestResult, error) {
	log := logging.Get(logging.CategorySummarizer)
	state, err := p.readState()
	if err != nil {
		return nil, err
	}

	var scopes []string
	if scope != "" {
		scopes = []string{scope}
	} else {
		scopes, err = p.components.List("")
		if err != nil {
			return nil, err
		}
	}

	result := &DigestResult{Errors: map[string]string{}}

	type outcome struct {
		scope     string
		err       error
		advanceTo string
	}
	outcomes := make([]outcome, len(scopes))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(digestConcurrency)
	for i, sc := range scopes {
		i, sc := i, sc
		group.Go(func() error {
			advanceTo, perr := p.digestOne(gctx, sc, state.LastDigest[sc])
			outcomes[i] = outcome{scope: sc, err: perr, advanceTo: advanceTo}
			return nil // per-component errors are collected, not fatal to the group
		})
	}
	_ = group.Wait()

	for _, o := range outcomes {
		if o.err != nil {
			result.Errors[o.scope] = o.err.Error()
			log.Warn("digest failed for %s: %v", o.scope, o.err)
			continue
		}
		if o.advanceTo != "" {
			state.LastDigest[o.scope] = o.advanceTo
			result.Processed = append(result.Processed, o.scope)
		}
	}
	sort.Strings(result.Processed)

	if err := p.writeState(state); err != nil {
		return result, err
	}

	if p.vcs != nil {
		hash, err := p.vcs.Commit(ctx, "summarizer/digest", fmt.Sprintf("digest: %d component(s) updated", len(result.Processed)))
		if err != nil {
			log.Warn("digest commit failed: %v", err)
		}
		result.CommitHash = hash
	}

	return result, nil
}

// digestOne processes a single component, returning the RFC3339 time of
// the latest entry it folded in (empty if there was nothing new).
func (p *Pipeline) digestOne(ctx context.Context, scope, watermark string) (string, error) {
	entries, err := p.components.ReadChangelogEntries(scope)
	if err != nil {
		return "", err
	}

	var fresh []component.ChangelogEntry
	for _, e := range entries {
		if watermark == "" || e.Time > watermark {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		return "", nil
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Time < fresh[j].Time })

	if p.model == nil {
		return "", fmt.Errorf("summarizer: %w: no language model configured", operr.ErrLanguageModelUnavailable)
	}

	summary, err := p.components.GetSummary(scope)
	if err != nil {
		return "", err
	}

	var entryLines strings.Builder
	for _, e := range fresh {
		fmt.Fprintf(&entryLines, "- [%s] (%s) %s\n", e.Time, e.Agent, e.Summary)
		if e.Decision != "" {
			fmt.Fprintf(&entryLines, "  decision: %s (%s)\n", e.Decision, e.Rationale)
		}
	}

	prompt := fmt.Sprintf(
		"You maintain the running markdown summary for %q.\n"+
			"Current summary:\n%s\n\n"+
			"New changelog entries since the last digest:\n%s\n"+
			"Return an updated markdown summary that preserves the existing structure "+
			"and integrates the new entries. Return only the summary markdown, nothing else.",
		scope, summary, entryLines.String())

	updated, err := p.model.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("summarizer: %w: %w", operr.ErrLanguageModelUnavailable, err)
	}

	if err := p.components.UpdateSummary(ctx, scope, strings.TrimSpace(updated)); err != nil {
		return "", err
	}

	return fresh[len(fresh)-1].Time, nil
}

// Synthesis concatenates every current summary and the current month's
// global log into a cross-component report, written to
// index/weekly/YYYY-Www.md (spec.md §4.11).
func (p *Pipeline) Synthesis(ctx context.Context) (string, error) {
	if p.model == nil {
		return "", fmt.Errorf("summarizer: %w: no language model configured", operr.ErrLanguageModelUnavailable)
	}

	scopes, err := p.components.List("")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, scope := range scopes {
		summary, err := p.components.GetSummary(scope)
		if err != nil {
			continue
		}
		if strings.TrimSpace(summary) == "" {
			continue
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", scope, summary)
	}

	now := time.Now().UTC()
	globalPath := p.store.GlobalChangelogFile(ids.YearMonth(now))
	if data, err := os.ReadFile(globalPath); err == nil {
		var entries []component.ChangelogEntry
		if yerr := yaml.Unmarshal(data, &entries); yerr == nil {
			b.WriteString("## Recent activity this month\n")
			for _, e := range entries {
				fmt.Fprintf(&b, "- [%s] %s: %s\n", e.Time, e.Scope, e.Summary)
			}
		}
	}

	prompt := fmt.Sprintf(
		"Produce a weekly cross-component synthesis report from the material below.\n\n%s",
		b.String())

	report, err := p.model.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("summarizer: %w: %w", operr.ErrLanguageModelUnavailable, err)
	}

	isoWeek := ids.ISOWeek(now)
	path := p.store.WeeklyReport(isoWeek)
	if err := writeReport(path, report); err != nil {
		return "", err
	}

	state, err := p.readState()
	if err != nil {
		return "", err
	}
	state.LastSynthesis = ids.ISONow()
	if err := p.writeState(state); err != nil {
		return "", err
	}

	if p.vcs != nil {
		if _, err := p.vcs.Commit(ctx, "summarizer/synthesis", "weekly synthesis "+isoWeek); err != nil {
			logging.Get(logging.CategorySummarizer).Warn("synthesis commit failed: %v", err)
		}
	}

	return path, nil
}

// Review provides the language model with L0 and all summaries, expecting
// one response with the rebuilt L0 block and a monthly narrative separated
// by reviewSentinel (spec.md §4.11). Weekly reports are not included in
// the prompt.
func (p *Pipeline) Review(ctx context.Context) (string, error) {
	if p.model == nil {
		return "", fmt.Errorf("summarizer: %w: no language model configured", operr.ErrLanguageModelUnavailable)
	}

	l0, err := p.index.Get()
	if err != nil {
		return "", err
	}

	scopes, err := p.components.List("")
	if err != nil {
		return "", err
	}
	var summaries strings.Builder
	for _, scope := range scopes {
		summary, err := p.components.GetSummary(scope)
		if err == nil && strings.TrimSpace(summary) != "" {
			fmt.Fprintf(&summaries, "## %s\n%s\n\n", scope, summary)
		}
	}

	now := time.Now().UTC()
	prompt := fmt.Sprintf(
		"Current master index:\n%s\n\nCurrent component summaries:\n%s\n\n"+
			"Respond with exactly two parts separated by the line %q: "+
			"first a rebuilt master-index code block (one \"[TAG] key | status\" line per "+
			"entry, no commentary), then a monthly review narrative.",
		l0, summaries.String(), reviewSentinel)

	response, err := p.model.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("summarizer: %w: %w", operr.ErrLanguageModelUnavailable, err)
	}

	parts := strings.SplitN(response, reviewSentinel, 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("summarizer: %w: review response missing sentinel marker", operr.ErrLanguageModelMalformed)
	}

	var lines []string
	for _, line := range strings.Split(parts[0], "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "```" || strings.HasPrefix(line, "```") {
			continue
		}
		lines = append(lines, line)
	}
	if err := p.index.Rebuild(ctx, lines); err != nil {
		return "", err
	}

	yearMonth := ids.YearMonth(now)
	path := p.store.MonthlyReport(yearMonth)
	if err := writeReport(path, strings.TrimSpace(parts[1])); err != nil {
		return "", err
	}

	state, err := p.readState()
	if err != nil {
		return "", err
	}
	state.LastReview = ids.ISONow()
	if err := p.writeState(state); err != nil {
		return "", err
	}

	if p.vcs != nil {
		if _, err := p.vcs.Commit(ctx, "summarizer/review", "monthly review "+yearMonth); err != nil {
			logging.Get(logging.CategorySummarizer).Warn("review commit failed: %v", err)
		}
	}

	return path, nil
}

func writeReport(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("summarizer: writing report %s: %w: %w", path, operr.ErrBackingStore, err)
	}
	return nil
}
