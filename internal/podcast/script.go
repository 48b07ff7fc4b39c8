package podcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/docudive/docudive/internal/llm"
)

// Speaker identifies one of the two fixed host personas.
type Speaker string

const (
	// SpeakerAlex is the male host, synthesized by the local engine.
	SpeakerAlex Speaker = "Alex"

	// SpeakerBrenda is the female host, synthesized by the cloud engine.
	SpeakerBrenda Speaker = "Brenda"
)

// Line is one dialogue turn in speaking order.
type Line struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"line"`
}

// Valid reports whether the line can be synthesized: a known persona and
// non-empty text. Invalid lines are skipped, not fatal.
func (l Line) Valid() bool {
	if strings.TrimSpace(l.Text) == "" {
		return false
	}
	return l.Speaker == SpeakerAlex || l.Speaker == SpeakerBrenda
}

// jsonArrayPattern greedily matches the first '[' through the last ']' so
// prose around the JSON array is discarded. LLMs rarely return bare JSON
// even when told to.
var jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// Completer is the slice of the LLM router the generator needs.
type Completer interface {
	Complete(ctx context.Context, provider string, req llm.Request) (string, error)
}

// ScriptGenerator turns document text into a two-host dialogue script.
type ScriptGenerator struct {
	completer Completer
	provider  string
	model     string
	maxChars  int
}

// NewScriptGenerator creates a generator that scripts with the given
// provider and model.
func NewScriptGenerator(completer Completer, provider, model string, maxChars int) *ScriptGenerator {
	if maxChars <= 0 {
		maxChars = 12000
	}
	return &ScriptGenerator{
		completer: completer,
		provider:  provider,
		model:     model,
		maxChars:  maxChars,
	}
}

// Generate produces the dialogue script for a document. The document text is
// truncated to the generator's character limit before prompting; longer
// documents are scripted from their prefix only.
func (g *ScriptGenerator) Generate(ctx context.Context, documentText string, creds llm.Credentials) ([]Line, error) {
	slog.Info("generating conversational podcast script", "provider", g.provider, "chars", len(documentText))

	prompt := buildScriptPrompt(truncateRunes(documentText, g.maxChars))

	raw, err := g.completer.Complete(ctx, g.provider, llm.Request{
		Model:       g.model,
		Prompt:      prompt,
		Credentials: creds,
	})
	if err != nil {
		return nil, fmt.Errorf("script generation call: %w", err)
	}

	script, err := parseScript(raw)
	if err != nil {
		return nil, err
	}

	slog.Info("script generated", "lines", len(script))
	return script, nil
}

// parseScript extracts and decodes the JSON dialogue array from raw LLM output.
func parseScript(raw string) ([]Line, error) {
	match := jsonArrayPattern.FindString(raw)
	if match == "" {
		return nil, fmt.Errorf("no JSON array found in the script response")
	}

	var script []Line
	if err := json.Unmarshal([]byte(match), &script); err != nil {
		return nil, fmt.Errorf("parsing script JSON: %w", err)
	}
	if len(script) == 0 {
		return nil, fmt.Errorf("script response decoded to an empty dialogue")
	}
	return script, nil
}

// buildScriptPrompt renders the fixed two-host scripting instruction.
func buildScriptPrompt(text string) string {
	var sb strings.Builder
	sb.WriteString("You are a master podcast scriptwriter. Transform the following technical document into an engaging, conversational podcast script for two hosts: Alex (male) and Brenda (female).\n")
	sb.WriteString("CRITICAL INSTRUCTIONS:\n")
	sb.WriteString("1. Create a real dialogue: Alex explains a concept, Brenda reacts, asks clarifying questions, or summarizes. This back-and-forth is essential.\n")
	sb.WriteString("2. Use conversational language with natural filler phrases (e.g., \"So, what you're saying is...\", \"Right, that makes sense.\", \"Hmm, interesting.\").\n")
	sb.WriteString("3. Structure the script with a clear intro, a body of conversational turns, and a concluding outro.\n")
	sb.WriteString("4. Output MUST be a valid JSON array of objects, each with a \"speaker\" key (\"Alex\" or \"Brenda\") and a \"line\" key. Do not include any text outside the JSON array.\n")
	sb.WriteString("Example of good dialogue flow:\n")
	sb.WriteString(`[
  {"speaker": "Alex", "line": "Welcome to 'Docu-Dive'! Today, we're tackling a paper on Ohm's Law."},
  {"speaker": "Brenda", "line": "Great! So, for anyone new to this, what's the core idea of Ohm's Law, Alex?"}
]`)
	sb.WriteString("\nHere is the document text to transform:\n---\n")
	sb.WriteString(text)
	sb.WriteString("\n---\n")
	return sb.String()
}

// truncateRunes cuts s to at most max runes.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
