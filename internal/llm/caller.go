// Package llm implements the language-model caller (spec.md §4.16):
// a small strategy layer over however a completion actually happens —
// delegated to the calling host's own sampling capability, called
// directly against a configured provider, or "auto" (prefer sampling,
// fall back to direct) — so every other package depends on one
// Complete(ctx, prompt) method instead of a provider SDK.
package llm

import (
	"context"
	"fmt"

	"openpalace/internal/operr"
)

// Mode selects how Caller resolves a completion request.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeSampling Mode = "sampling"
	ModeDirect   Mode = "direct"
)

// SamplingFunc delegates completion to the calling host, mirroring an
// MCP-style "sampling/createMessage" capability: the host, not this
// process, owns the model call and its credentials.
type SamplingFunc func(ctx context.Context, prompt string) (string, error)

// Provider performs a completion directly against a configured backend
// (spec.md §4.16 "direct" strategy).
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Caller resolves Complete calls according to Mode, degrading gracefully
// to ErrLanguageModelUnavailable when nothing is configured instead of
// panicking or blocking.
type Caller struct {
	Mode     Mode
	sampling SamplingFunc
	direct   Provider
}

// New returns a Caller in the given mode. Both the sampling callback and
// the direct provider may be wired in afterward (and independently of
// each other) via SetSampling/SetProvider.
func New(mode Mode) *Caller {
	return &Caller{Mode: mode}
}

// SetSampling installs the host-provided sampling callback.
func (c *Caller) SetSampling(fn SamplingFunc) { c.sampling = fn }

// SetProvider installs the direct-call provider.
func (c *Caller) SetProvider(p Provider) { c.direct = p }

// Complete resolves a single completion request per c.Mode.
func (c *Caller) Complete(ctx context.Context, prompt string) (string, error) {
	switch c.Mode {
	case ModeSampling:
		return c.viaSampling(ctx, prompt)
	case ModeDirect:
		return c.viaDirect(ctx, prompt)
	case ModeAuto, "":
		if c.sampling != nil {
			if resp, err := c.viaSampling(ctx, prompt); err == nil {
				return resp, nil
			}
		}
		return c.viaDirect(ctx, prompt)
	default:
		return "", fmt.Errorf("llm: unknown mode %q: %w", c.Mode, operr.ErrInvalidArgument)
	}
}

// Ask is the high-level single-turn helper (spec.md §4.16): folds a
// system prompt and user message into one prompt and returns the
// completion text. maxTokens is advisory and left to the configured
// provider to honor; the caller abstraction has no universal way to cap
// generation length across sampling and direct modes.
func (c *Caller) Ask(ctx context.Context, systemPrompt, userMessage string, maxTokens int) (string, error) {
	prompt := systemPrompt + "\n\n" + userMessage
	return c.Complete(ctx, prompt)
}

func (c *Caller) viaSampling(ctx context.Context, prompt string) (string, error) {
	if c.sampling == nil {
		return "", fmt.Errorf("llm: no sampling callback configured: %w", operr.ErrLanguageModelUnavailable)
	}
	resp, err := c.sampling(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("llm: sampling call failed: %w: %w", operr.ErrLanguageModelUnavailable, err)
	}
	return resp, nil
}

func (c *Caller) viaDirect(ctx context.Context, prompt string) (string, error) {
	if c.direct == nil {
		return "", fmt.Errorf("llm: no direct provider configured: %w", operr.ErrLanguageModelUnavailable)
	}
	resp, err := c.direct.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("llm: direct call failed: %w: %w", operr.ErrLanguageModelUnavailable, err)
	}
	return resp, nil
}
