package index

import (
	"context"
	"strings"
	"testing"

	"github.com/docudive/docudive/internal/document"
)

// wordEmbedder produces a toy bag-of-words vector over a fixed vocabulary so
// similarity ordering is deterministic in tests.
type wordEmbedder struct {
	vocab []string
}

func (e *wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(e.vocab))
	lower := strings.ToLower(text)
	for i, w := range e.vocab {
		vec[i] = float32(strings.Count(lower, w))
	}
	return vec, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), &wordEmbedder{vocab: []string{"voltage", "current", "pasta", "sauce"}})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return s
}

func TestQueryRanksBySimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chunks := []document.Chunk{
		{DocumentName: "ohm.txt", Index: 0, Content: "Voltage equals current times resistance."},
		{DocumentName: "cook.txt", Index: 0, Content: "Simmer the pasta sauce gently."},
	}
	if err := s.Add(ctx, "alice", chunks); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := s.Query(ctx, "alice", "what is voltage and current?", 1, "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].DocumentName != "ohm.txt" {
		t.Fatalf("expected ohm.txt best match, got %+v", got)
	}
	if got[0].Score <= 0 {
		t.Fatalf("expected positive score, got %f", got[0].Score)
	}
}

func TestQueryActiveFileFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chunks := []document.Chunk{
		{DocumentName: "ohm.txt", Index: 0, Content: "voltage current"},
		{DocumentName: "cook.txt", Index: 0, Content: "voltage current pasta"},
	}
	if err := s.Add(ctx, "alice", chunks); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := s.Query(ctx, "alice", "voltage", 5, "cook.txt")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, c := range got {
		if c.DocumentName != "cook.txt" {
			t.Fatalf("filter leaked document %q", c.DocumentName)
		}
	}
}

func TestQueryEmptyIndex(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Query(context.Background(), "nobody", "anything", 5, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no results, got %+v", got)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	emb := &wordEmbedder{vocab: []string{"voltage", "current", "pasta", "sauce"}}
	ctx := context.Background()

	s1, err := NewStore(dir, emb)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	if err := s1.Add(ctx, "alice", []document.Chunk{{DocumentName: "ohm.txt", Content: "voltage current"}}); err != nil {
		t.Fatalf("add: %v", err)
	}

	// A fresh store over the same directory must see the persisted entries.
	s2, err := NewStore(dir, emb)
	if err != nil {
		t.Fatalf("creating second store: %v", err)
	}
	got, err := s2.Query(ctx, "alice", "voltage", 5, "")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].DocumentName != "ohm.txt" {
		t.Fatalf("expected persisted chunk, got %+v", got)
	}
}

func TestCosine(t *testing.T) {
	if got := cosine([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Fatalf("identical vectors should score ~1, got %f", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("orthogonal vectors should score 0, got %f", got)
	}
	if got := cosine([]float32{1, 0}, []float32{1}); got != 0 {
		t.Fatalf("mismatched lengths should score 0, got %f", got)
	}
}
