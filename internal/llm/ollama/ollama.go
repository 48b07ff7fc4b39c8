// Package ollama implements the llm.Provider interface over a self-hosted
// Ollama instance's /api/generate endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/docudive/docudive/internal/config"
	"github.com/docudive/docudive/internal/llm"
)

// hostCredentialKey lets a request point at its own Ollama instance.
const hostCredentialKey = "ollama_host"

// Provider calls a local or remote Ollama server.
type Provider struct {
	host         string
	defaultModel string
	client       *http.Client
}

// New creates an Ollama provider from config.
func New(cfg config.OllamaConfig) *Provider {
	return &Provider{
		host:         cfg.Host,
		defaultModel: cfg.Model,
		client:       &http.Client{},
	}
}

// Name returns the backend identifier.
func (p *Provider) Name() string { return "ollama" }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Complete runs a non-streaming generation.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (string, error) {
	host := req.Credentials.Get(hostCredentialKey)
	if host == "" {
		host = p.host
	}
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return "", fmt.Errorf("no ollama host configured")
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	bodyBytes, err := json.Marshal(generateRequest{
		Model:  model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshalling generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/api/generate", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("ollama generate failed (status %d): %s", resp.StatusCode, respBody)
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decoding generate response: %w", err)
	}

	slog.Debug("ollama completion", "model", model, "host", host, "response_length", len(genResp.Response))
	return genResp.Response, nil
}
