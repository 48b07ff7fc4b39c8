// Package index maintains per-user vector indices over document chunks.
//
// Each user owns one index: a flat list of chunks with their embedding
// vectors, searched by cosine similarity and persisted as JSON under the
// index directory. Indices are loaded on first use and kept in memory for
// the process lifetime.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/docudive/docudive/internal/document"
)

// entry pairs an indexed chunk with its embedding vector.
type entry struct {
	Chunk  document.Chunk `json:"chunk"`
	Vector []float32      `json:"vector"`
}

// userIndex is the persisted index of a single user.
type userIndex struct {
	Entries []entry `json:"entries"`
}

// Store owns all loaded user indices.
type Store struct {
	dir      string
	embedder Embedder

	mu      sync.Mutex
	indices map[string]*userIndex
}

// NewStore creates a store rooted at dir, embedding via the given embedder.
func NewStore(dir string, embedder Embedder) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	return &Store{
		dir:      dir,
		embedder: embedder,
		indices:  make(map[string]*userIndex),
	}, nil
}

// Add embeds the chunks and appends them to the user's index, persisting the
// result.
func (s *Store) Add(ctx context.Context, userID string, chunks []document.Chunk) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	entries := make([]entry, 0, len(chunks))
	for _, c := range chunks {
		vec, err := s.embedder.Embed(ctx, c.Content)
		if err != nil {
			return fmt.Errorf("embedding chunk %d of %s: %w", c.Index, c.DocumentName, err)
		}
		entries = append(entries, entry{Chunk: c, Vector: vec})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.loadLocked(userID)
	idx.Entries = append(idx.Entries, entries...)
	if err := s.persistLocked(userID, idx); err != nil {
		return err
	}

	slog.Info("chunks indexed", "user", userID, "added", len(entries), "total", len(idx.Entries))
	return nil
}

// Query embeds the query text and returns the k most similar chunks,
// best first. When activeFile is non-empty, only chunks from that document
// are considered. An empty index yields no results, not an error.
func (s *Store) Query(ctx context.Context, userID, query string, k int, activeFile string) ([]document.Chunk, error) {
	if userID == "" || strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("user id and query are required")
	}
	if k <= 0 {
		k = 5
	}

	s.mu.Lock()
	idx := s.loadLocked(userID)
	// Snapshot under the lock; scoring happens outside it.
	entries := make([]entry, len(idx.Entries))
	copy(entries, idx.Entries)
	s.mu.Unlock()

	if len(entries) == 0 {
		return nil, nil
	}

	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	type scored struct {
		chunk document.Chunk
		score float32
	}
	results := make([]scored, 0, len(entries))
	for _, e := range entries {
		if activeFile != "" && e.Chunk.DocumentName != activeFile {
			continue
		}
		results = append(results, scored{chunk: e.Chunk, score: cosine(qvec, e.Vector)})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > k {
		results = results[:k]
	}

	out := make([]document.Chunk, len(results))
	for i, r := range results {
		c := r.chunk
		c.Score = r.score
		out[i] = c
	}
	return out, nil
}

// Loaded reports whether the user's index is resident in memory.
func (s *Store) Loaded(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.indices[userID]
	return ok
}

// Preload forces the given user's index into memory at startup.
func (s *Store) Preload(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked(userID)
}

// loadLocked returns the user's index, reading it from disk on first access.
// Callers must hold s.mu.
func (s *Store) loadLocked(userID string) *userIndex {
	if idx, ok := s.indices[userID]; ok {
		return idx
	}

	idx := &userIndex{}
	data, err := os.ReadFile(s.path(userID))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, idx); err != nil {
			slog.Warn("corrupt index file, starting empty", "user", userID, "error", err)
			idx = &userIndex{}
		} else {
			slog.Info("index loaded", "user", userID, "entries", len(idx.Entries))
		}
	case os.IsNotExist(err):
		slog.Info("creating new index", "user", userID)
	default:
		slog.Warn("cannot read index file, starting empty", "user", userID, "error", err)
	}

	s.indices[userID] = idx
	return idx
}

// persistLocked writes the user's index to disk. Callers must hold s.mu.
func (s *Store) persistLocked(userID string, idx *userIndex) error {
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("marshalling index: %w", err)
	}
	tmp := s.path(userID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	if err := os.Rename(tmp, s.path(userID)); err != nil {
		return fmt.Errorf("replacing index: %w", err)
	}
	return nil
}

// path returns the index file for a user, with the id made filesystem-safe.
func (s *Store) path(userID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, userID)
	return filepath.Join(s.dir, safe+".json")
}

// cosine computes cosine similarity between two vectors. Mismatched or zero
// vectors score zero.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
