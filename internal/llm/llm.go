// Package llm defines the provider-agnostic interface for LLM text completion.
//
// Callers pick a provider by name per request; credentials travel with the
// request as an opaque bag, so one process can serve many users with their
// own API keys. Docudive ships three backends: Gemini (cloud SDK), Groq
// (OpenAI-compatible chat API), and Ollama (self-hosted).
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrUnknownProvider is returned when a request names a backend that is not
// registered with the router.
var ErrUnknownProvider = errors.New("unknown llm provider")

// Credentials is an opaque bag of provider secrets and overrides, passed
// through from the submitting client unmodified.
type Credentials map[string]string

// Get returns the value for a key, or "" when absent.
func (c Credentials) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}

// Request is one completion call.
type Request struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// Prompt is the user prompt.
	Prompt string

	// System is an optional system instruction.
	System string

	// Credentials carries per-request secrets (API keys, host overrides).
	Credentials Credentials
}

// Provider is a single completion backend.
type Provider interface {
	// Name returns the backend identifier (e.g., "gemini", "groq", "ollama").
	Name() string

	// Complete returns the completion text for the request.
	Complete(ctx context.Context, req Request) (string, error)
}

// Router dispatches completion requests to a named provider.
type Router struct {
	providers       map[string]Provider
	defaultProvider string
}

// NewRouter creates a router over the given providers.
func NewRouter(defaultProvider string, providers ...Provider) *Router {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Router{providers: m, defaultProvider: defaultProvider}
}

// Complete runs one completion on the named provider. An empty provider name
// selects the configured default.
func (r *Router) Complete(ctx context.Context, provider string, req Request) (string, error) {
	name := strings.ToLower(strings.TrimSpace(provider))
	if name == "" {
		name = r.defaultProvider
	}
	p, ok := r.providers[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return p.Complete(ctx, req)
}

// Providers returns the registered backend names.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// ExpandQuery asks the LLM for up to three alternative phrasings of a search
// query, one per line. Expansion is best effort: on any failure the original
// query stands alone and nil is returned.
func ExpandQuery(ctx context.Context, r *Router, provider, model, query string, creds Credentials) []string {
	prompt := fmt.Sprintf(
		"Generate up to 3 alternative search queries that capture different aspects of the question below. "+
			"Return one query per line with no numbering and no other text.\n\nQuestion: %s", query)

	raw, err := r.Complete(ctx, provider, Request{Model: model, Prompt: prompt, Credentials: creds})
	if err != nil {
		slog.Warn("query expansion failed, searching with the original query only", "error", err)
		return nil
	}

	var queries []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line == "" || strings.EqualFold(line, query) {
			continue
		}
		queries = append(queries, line)
		if len(queries) == 3 {
			break
		}
	}
	return queries
}
