package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"openpalace/internal/logging"
)

// HTTPProvider calls a local Ollama-compatible /api/generate endpoint,
// following the same request/timeout/logging shape as the teacher's
// OllamaEngine (internal/embedding/ollama.go), adapted from the
// embeddings endpoint to generation.
type HTTPProvider struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewHTTPProvider returns a provider against endpoint (default
// "http://localhost:11434") and model (default "llama3.2").
func NewHTTPProvider(endpoint, model string) *HTTPProvider {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	return &HTTPProvider{endpoint: endpoint, model: model, client: &http.Client{Timeout: 60 * time.Second}}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Complete posts a single non-streaming generation request.
func (p *HTTPProvider) Complete(ctx context.Context, prompt string) (string, error) {
	log := logging.Get(logging.CategoryLLM)
	log.Debug("http.Complete: endpoint=%s model=%s prompt_len=%d", p.endpoint, p.model, len(prompt))

	body, err := json.Marshal(generateRequest{Model: p.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("llm: marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		log.Error("http.Complete: request failed after %v: %v", time.Since(start), err)
		return "", fmt.Errorf("llm: http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("llm: http provider returned status %d: %s", resp.StatusCode, string(data))
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("llm: decoding response: %w", err)
	}
	log.Debug("http.Complete: completed in %v", time.Since(start))
	return parsed.Response, nil
}
