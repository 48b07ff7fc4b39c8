package podcast

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/docudive/docudive/internal/llm"
)

type fakeCompleter struct {
	response   string
	err        error
	lastPrompt string
}

func (f *fakeCompleter) Complete(_ context.Context, _ string, req llm.Request) (string, error) {
	f.lastPrompt = req.Prompt
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestGenerateExtractsEmbeddedArray(t *testing.T) {
	completer := &fakeCompleter{
		response: "Sure! Here is your podcast script:\n" +
			`[{"speaker":"Alex","line":"Hi"}]` +
			"\nLet me know if you need changes.",
	}
	g := NewScriptGenerator(completer, "gemini", "", 12000)

	script, err := g.Generate(context.Background(), "doc text", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(script) != 1 {
		t.Fatalf("expected 1 line, got %d", len(script))
	}
	if script[0].Speaker != SpeakerAlex || script[0].Text != "Hi" {
		t.Fatalf("unexpected line: %+v", script[0])
	}
}

func TestGenerateNoArrayFails(t *testing.T) {
	g := NewScriptGenerator(&fakeCompleter{response: "I could not produce a script, sorry."}, "gemini", "", 12000)

	if _, err := g.Generate(context.Background(), "doc text", nil); err == nil {
		t.Fatal("expected error when no JSON array is present")
	}
}

func TestGenerateMalformedJSONFails(t *testing.T) {
	g := NewScriptGenerator(&fakeCompleter{response: `[{"speaker": "Alex", "line": }]`}, "gemini", "", 12000)

	if _, err := g.Generate(context.Background(), "doc text", nil); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestGenerateCallFailurePropagates(t *testing.T) {
	g := NewScriptGenerator(&fakeCompleter{err: fmt.Errorf("auth failure")}, "gemini", "", 12000)

	if _, err := g.Generate(context.Background(), "doc text", nil); err == nil {
		t.Fatal("expected error from failing LLM call")
	}
}

func TestGenerateTruncatesDocument(t *testing.T) {
	completer := &fakeCompleter{response: `[{"speaker":"Alex","line":"Hi"}]`}
	g := NewScriptGenerator(completer, "gemini", "", 100)

	long := strings.Repeat("x", 500)
	if _, err := g.Generate(context.Background(), long, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(completer.lastPrompt, strings.Repeat("x", 101)) {
		t.Fatal("document was not truncated before prompting")
	}
	if !strings.Contains(completer.lastPrompt, strings.Repeat("x", 100)) {
		t.Fatal("truncated document prefix missing from prompt")
	}
}

func TestLineValid(t *testing.T) {
	cases := []struct {
		line Line
		want bool
	}{
		{Line{Speaker: SpeakerAlex, Text: "Hello"}, true},
		{Line{Speaker: SpeakerBrenda, Text: "Hello"}, true},
		{Line{Speaker: SpeakerAlex, Text: "   "}, false},
		{Line{Speaker: "", Text: "Hello"}, false},
		{Line{Speaker: "Charlie", Text: "Hello"}, false},
	}
	for _, tc := range cases {
		if got := tc.line.Valid(); got != tc.want {
			t.Fatalf("Valid(%+v) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

func TestGreedyMatchSpansNestedBrackets(t *testing.T) {
	raw := `prose [{"speaker":"Alex","line":"arrays [like this] inside"}] trailing`
	script, err := parseScript(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if script[0].Text != "arrays [like this] inside" {
		t.Fatalf("greedy match mangled the line: %q", script[0].Text)
	}
}
