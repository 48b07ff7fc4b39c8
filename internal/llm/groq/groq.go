// Package groq implements the llm.Provider interface over Groq's
// OpenAI-compatible chat completions API.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/docudive/docudive/internal/config"
	"github.com/docudive/docudive/internal/llm"
)

// credentialKey is the Credentials entry carrying the Groq API key. The
// original client app calls it "grok"; both spellings are accepted.
const credentialKey = "groq"

// Provider calls the Groq chat completions endpoint.
type Provider struct {
	endpoint     string
	defaultModel string
	serverKey    string
	client       *http.Client
}

// New creates a Groq provider from config.
func New(cfg config.GroqConfig) *Provider {
	return &Provider{
		endpoint:     cfg.Endpoint,
		defaultModel: cfg.Model,
		serverKey:    cfg.APIKey,
		client:       &http.Client{},
	}
}

// Name returns the backend identifier.
func (p *Provider) Name() string { return "groq" }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete runs a single chat completion.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (string, error) {
	apiKey := req.Credentials.Get(credentialKey)
	if apiKey == "" {
		apiKey = req.Credentials.Get("grok")
	}
	if apiKey == "" {
		apiKey = p.serverKey
	}
	if apiKey == "" {
		return "", fmt.Errorf("no groq api key in request credentials or config")
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	bodyBytes, err := json.Marshal(chatRequest{Model: model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("marshalling chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("groq chat failed (status %d): %s", resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from groq")
	}

	slog.Debug("groq completion", "model", model, "response_length", len(chatResp.Choices[0].Message.Content))
	return chatResp.Choices[0].Message.Content, nil
}
