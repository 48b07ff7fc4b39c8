// Package gemini implements the llm.Provider interface over the Google
// Gemini API using the official genai SDK.
//
// The API key arrives with each request (users bring their own keys), so a
// client is constructed per call rather than held for the process lifetime.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/docudive/docudive/internal/config"
	"github.com/docudive/docudive/internal/llm"
)

// credentialKey is the Credentials entry carrying the Gemini API key.
const credentialKey = "gemini"

// Provider calls the Gemini API.
type Provider struct {
	defaultModel string
	serverKey    string // fallback key from config, may be empty
}

// New creates a Gemini provider from config.
func New(cfg config.GeminiConfig) *Provider {
	return &Provider{
		defaultModel: cfg.Model,
		serverKey:    cfg.APIKey,
	}
}

// Name returns the backend identifier.
func (p *Provider) Name() string { return "gemini" }

// Complete runs a single-turn generation.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (string, error) {
	apiKey := req.Credentials.Get(credentialKey)
	if apiKey == "" {
		apiKey = p.serverKey
	}
	if apiKey == "" {
		return "", fmt.Errorf("no gemini api key in request credentials or config")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("creating gemini client: %w", err)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + prompt
	}

	slog.Debug("gemini completion", "model", model, "prompt_length", len(prompt))

	result, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini generation: %w", err)
	}

	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("gemini returned an empty response")
	}
	return text, nil
}
