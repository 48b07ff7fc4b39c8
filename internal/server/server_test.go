package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docudive/docudive/internal/config"
	"github.com/docudive/docudive/internal/document"
	"github.com/docudive/docudive/internal/index"
	"github.com/docudive/docudive/internal/jobs"
	"github.com/docudive/docudive/internal/llm"
)

// wordEmbedder hashes words into a fixed-size bag so similar texts land near
// each other without a live embedding backend.
type wordEmbedder struct {
	fail bool
}

func (e *wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, fmt.Errorf("embedding backend down")
	}
	vec := make([]float32, 32)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		var h uint32
		for _, r := range w {
			h = h*31 + uint32(r)
		}
		vec[h%32]++
	}
	return vec, nil
}

// fakeProvider answers every completion with a canned response.
type fakeProvider struct {
	name     string
	response string
	err      error

	prompts []string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Complete(_ context.Context, req llm.Request) (string, error) {
	p.prompts = append(p.prompts, req.Prompt)
	if p.err != nil {
		return "", p.err
	}
	return p.response, nil
}

type fakeJobParser struct{ text string }

func (f *fakeJobParser) Parse(_ context.Context, _ string) (string, error) { return f.text, nil }

type fakeJobPipeline struct{}

func (f *fakeJobPipeline) Run(_ context.Context, _, baseName string, _ llm.Credentials) (string, error) {
	return baseName + ".mp3", nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{APIPort: 0},
		Index: config.IndexConfig{
			Dir:          t.TempDir(),
			ChunkSize:    200,
			ChunkOverlap: 20,
			DefaultK:     3,
			DefaultUser:  "default",
		},
		Embedding: config.EmbeddingConfig{Endpoint: "http://localhost:11434/api/embeddings", Model: "nomic-embed-text"},
		Podcast:   config.PodcastConfig{OutputDir: t.TempDir()},
	}
}

func newAPIServer(t *testing.T, cfg *config.Config, embedder index.Embedder, provider *fakeProvider) *Server {
	t.Helper()
	idx, err := index.NewStore(cfg.Index.Dir, embedder)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	router := llm.NewRouter(provider.name, provider)
	manager := jobs.NewManager(jobs.NewMemoryStore(), &fakeJobParser{text: "some document text"}, &fakeJobPipeline{}, 2)
	return New(cfg, document.NewParser(), idx, embedder, router, manager)
}

func newTestServer(t *testing.T, cfg *config.Config, embedder index.Embedder, provider *fakeProvider) *httptest.Server {
	t.Helper()
	srv := newAPIServer(t, cfg, embedder, provider)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	return path
}

func TestRunSignalsReadyAfterListenerBinds(t *testing.T) {
	srv := newAPIServer(t, testConfig(t), &wordEmbedder{}, &fakeProvider{name: "fake"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("server exited before signalling ready: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("ready never signalled")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error on shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestHealthOK(t *testing.T) {
	ts := newTestServer(t, testConfig(t), &wordEmbedder{}, &fakeProvider{name: "fake"})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.EmbeddingDimension != 32 {
		t.Errorf("embedding_dimension = %d, want 32", body.EmbeddingDimension)
	}
	if len(body.Providers) != 1 || body.Providers[0] != "fake" {
		t.Errorf("providers = %v", body.Providers)
	}
}

func TestHealthEmbedderDown(t *testing.T) {
	ts := newTestServer(t, testConfig(t), &wordEmbedder{fail: true}, &fakeProvider{name: "fake"})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestAddDocumentAndQuery(t *testing.T) {
	ts := newTestServer(t, testConfig(t), &wordEmbedder{}, &fakeProvider{name: "fake"})
	path := writeDoc(t, "notes.txt", "Solar panels convert sunlight into electricity using photovoltaic cells.")

	resp, body := postJSON(t, ts.URL+"/add_document", map[string]any{
		"user_id": "u1", "file_path": path, "original_name": "notes.txt",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add status = %d, body = %v", resp.StatusCode, body)
	}
	if body["status"] != "added" {
		t.Fatalf("status = %v, want added", body["status"])
	}
	if body["chunks_added"].(float64) < 1 {
		t.Fatalf("chunks_added = %v", body["chunks_added"])
	}

	resp, body = postJSON(t, ts.URL+"/query_rag_documents", map[string]any{
		"user_id": "u1", "query": "sunlight electricity",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query status = %d", resp.StatusCode)
	}
	docs := body["relevantDocs"].([]any)
	if len(docs) == 0 {
		t.Fatal("no relevant docs returned")
	}
	first := docs[0].(map[string]any)
	if first["documentName"] != "notes.txt" {
		t.Errorf("documentName = %v", first["documentName"])
	}
}

func TestAddDocumentWhitespaceOnlySkipped(t *testing.T) {
	ts := newTestServer(t, testConfig(t), &wordEmbedder{}, &fakeProvider{name: "fake"})
	path := writeDoc(t, "empty.txt", "   \n\t  ")

	resp, body := postJSON(t, ts.URL+"/add_document", map[string]any{
		"user_id": "u1", "file_path": path, "original_name": "empty.txt",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "skipped" {
		t.Errorf("status = %v, want skipped", body["status"])
	}
}

func TestAddDocumentMissingFile(t *testing.T) {
	ts := newTestServer(t, testConfig(t), &wordEmbedder{}, &fakeProvider{name: "fake"})

	resp, body := postJSON(t, ts.URL+"/add_document", map[string]any{
		"user_id": "u1", "file_path": "/nonexistent/file.txt", "original_name": "file.txt",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if body["status"] != "error" {
		t.Errorf("status = %v, want error", body["status"])
	}
}

func TestQueryMissingFields(t *testing.T) {
	ts := newTestServer(t, testConfig(t), &wordEmbedder{}, &fakeProvider{name: "fake"})

	resp, _ := postJSON(t, ts.URL+"/query_rag_documents", map[string]any{"user_id": "u1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAnalyzeDocument(t *testing.T) {
	provider := &fakeProvider{name: "fake", response: "A tidy summary."}
	ts := newTestServer(t, testConfig(t), &wordEmbedder{}, provider)
	path := writeDoc(t, "paper.txt", "The quick brown fox jumps over the lazy dog.")

	resp, body := postJSON(t, ts.URL+"/analyze_document", map[string]any{
		"user_id":                "u1",
		"document_name":          "paper.txt",
		"analysis_type":          "summary",
		"file_path_for_analysis": path,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["analysis_result"] != "A tidy summary." {
		t.Errorf("analysis_result = %v", body["analysis_result"])
	}
	if len(provider.prompts) != 1 || !strings.Contains(provider.prompts[0], "quick brown fox") {
		t.Errorf("prompt did not carry the document text: %v", provider.prompts)
	}
}

func TestAnalyzeDocumentUnknownType(t *testing.T) {
	ts := newTestServer(t, testConfig(t), &wordEmbedder{}, &fakeProvider{name: "fake"})
	path := writeDoc(t, "paper.txt", "content")

	resp, _ := postJSON(t, ts.URL+"/analyze_document", map[string]any{
		"user_id":                "u1",
		"document_name":          "paper.txt",
		"analysis_type":          "sentiment",
		"file_path_for_analysis": path,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatResponseWithRAG(t *testing.T) {
	provider := &fakeProvider{name: "fake", response: "Photovoltaic cells do the conversion."}
	ts := newTestServer(t, testConfig(t), &wordEmbedder{}, provider)

	path := writeDoc(t, "solar.txt", "Solar panels convert sunlight into electricity using photovoltaic cells.")
	resp, _ := postJSON(t, ts.URL+"/add_document", map[string]any{
		"user_id": "u1", "file_path": path, "original_name": "solar.txt",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add status = %d", resp.StatusCode)
	}

	multiQuery := false
	resp, body := postJSON(t, ts.URL+"/generate_chat_response", map[string]any{
		"user_id":            "u1",
		"query":              "how do solar panels make electricity",
		"enable_multi_query": multiQuery,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["llm_response"] != "Photovoltaic cells do the conversion." {
		t.Errorf("llm_response = %v", body["llm_response"])
	}
	refs := body["references"].([]any)
	if len(refs) == 0 {
		t.Fatal("expected references from the index")
	}
	if refs[0].(map[string]any)["documentName"] != "solar.txt" {
		t.Errorf("reference = %v", refs[0])
	}

	final := provider.prompts[len(provider.prompts)-1]
	if !strings.Contains(final, "photovoltaic") {
		t.Errorf("final prompt missing retrieved context: %q", final)
	}
}

func TestChatResponseWithoutRAG(t *testing.T) {
	provider := &fakeProvider{name: "fake", response: "General answer."}
	ts := newTestServer(t, testConfig(t), &wordEmbedder{}, provider)

	performRAG := false
	resp, body := postJSON(t, ts.URL+"/generate_chat_response", map[string]any{
		"user_id":     "u1",
		"query":       "hello",
		"perform_rag": performRAG,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	refs := body["references"].([]any)
	if len(refs) != 0 {
		t.Errorf("references = %v, want none", refs)
	}
	if len(provider.prompts) != 1 {
		t.Fatalf("prompts = %d, want exactly one completion call", len(provider.prompts))
	}
	if !strings.Contains(provider.prompts[0], noContextFound) {
		t.Errorf("prompt missing the no-context marker: %q", provider.prompts[0])
	}
}

func TestChatResponseUnknownProvider(t *testing.T) {
	ts := newTestServer(t, testConfig(t), &wordEmbedder{}, &fakeProvider{name: "fake"})

	performRAG := false
	resp, _ := postJSON(t, ts.URL+"/generate_chat_response", map[string]any{
		"user_id":      "u1",
		"query":        "hello",
		"perform_rag":  performRAG,
		"llm_provider": "nonsense",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGeneratePodcastLifecycle(t *testing.T) {
	ts := newTestServer(t, testConfig(t), &wordEmbedder{}, &fakeProvider{name: "fake"})
	path := writeDoc(t, "episode.txt", "document for the show")

	resp, body := postJSON(t, ts.URL+"/generate_podcast", map[string]any{
		"file_path": path, "document_name": "My Episode",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %v", resp.StatusCode, body)
	}
	if body["status"] != "queued" {
		t.Errorf("status = %v, want queued", body["status"])
	}
	taskID, _ := body["task_id"].(string)
	if taskID == "" {
		t.Fatal("missing task_id")
	}

	deadline := time.Now().Add(2 * time.Second)
	var task map[string]any
	for {
		r, err := http.Get(ts.URL + "/podcast_status/" + taskID)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		err = json.NewDecoder(r.Body).Decode(&task)
		r.Body.Close()
		if err != nil {
			t.Fatalf("decode poll: %v", err)
		}
		if task["status"] == "complete" || task["status"] == "failed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never finished: %v", task)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if task["status"] != "complete" {
		t.Fatalf("task = %v", task)
	}
	filename, _ := task["filename"].(string)
	if !strings.HasPrefix(filename, "My Episode_") || !strings.HasSuffix(filename, ".mp3") {
		t.Errorf("filename = %q", filename)
	}
	audioURL, _ := task["audioUrl"].(string)
	if !strings.HasSuffix(audioURL, "/podcasts/"+filename) {
		t.Errorf("audioUrl = %q", audioURL)
	}
	if !strings.HasPrefix(audioURL, "http://") {
		t.Errorf("audioUrl missing derived host: %q", audioURL)
	}
}

func TestGeneratePodcastMissingFile(t *testing.T) {
	ts := newTestServer(t, testConfig(t), &wordEmbedder{}, &fakeProvider{name: "fake"})

	resp, _ := postJSON(t, ts.URL+"/generate_podcast", map[string]any{
		"file_path": "/nonexistent/doc.txt", "document_name": "Doc",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPodcastStatusUnknownTask(t *testing.T) {
	ts := newTestServer(t, testConfig(t), &wordEmbedder{}, &fakeProvider{name: "fake"})

	resp, err := http.Get(ts.URL + "/podcast_status/no-such-task")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServePodcast(t *testing.T) {
	cfg := testConfig(t)
	ts := newTestServer(t, cfg, &wordEmbedder{}, &fakeProvider{name: "fake"})

	mp3 := filepath.Join(cfg.Podcast.OutputDir, "show.mp3")
	if err := os.WriteFile(mp3, []byte("ID3 fake audio"), 0o644); err != nil {
		t.Fatalf("write mp3: %v", err)
	}

	resp, err := http.Get(ts.URL + "/podcasts/show.mp3")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestServePodcastRejectsTraversal(t *testing.T) {
	ts := newTestServer(t, testConfig(t), &wordEmbedder{}, &fakeProvider{name: "fake"})

	resp, err := http.Get(ts.URL + "/podcasts/..%2Fsecret.txt")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Fatal("traversal request served")
	}
}

func TestServePodcastUnknownFile(t *testing.T) {
	ts := newTestServer(t, testConfig(t), &wordEmbedder{}, &fakeProvider{name: "fake"})

	resp, err := http.Get(ts.URL + "/podcasts/missing.mp3")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
