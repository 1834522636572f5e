package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"openpalace/internal/logging"
)

// GenAIProvider calls Google's Gemini API for text completion, following
// the client-construction and request-timing pattern the teacher uses
// for embeddings (internal/embedding/genai.go), adapted from embedding
// requests to a single-turn GenerateContent call.
type GenAIProvider struct {
	client *genai.Client
	model  string
}

// NewGenAIProvider constructs a provider against apiKey. model defaults
// to "gemini-2.0-flash" when empty.
func NewGenAIProvider(ctx context.Context, apiKey, model string) (*GenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: genai api key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	timer := logging.StartTimer(logging.CategoryLLM, "NewGenAIProvider")
	defer timer.Stop()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("llm: creating genai client: %w", err)
	}

	return &GenAIProvider{client: client, model: model}, nil
}

// Complete issues a single-turn generation request and concatenates the
// text parts of the first candidate's response.
func (p *GenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	log := logging.Get(logging.CategoryLLM)
	log.Debug("genai.Complete: model=%s prompt_len=%d", p.model, len(prompt))

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	result, err := p.client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		log.Error("genai.Complete: request failed: %v", err)
		return "", fmt.Errorf("llm: genai generate failed: %w", err)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("llm: genai returned no candidates")
	}

	var b strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String(), nil
}
