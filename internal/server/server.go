// Package server exposes the document, chat, and podcast APIs over HTTP.
//
// The surface is JSON-in/JSON-out. Podcast generation is asynchronous: the
// submit route answers 202 with a task id and the caller polls for the
// download link.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docudive/docudive/internal/config"
	"github.com/docudive/docudive/internal/document"
	"github.com/docudive/docudive/internal/index"
	"github.com/docudive/docudive/internal/jobs"
	"github.com/docudive/docudive/internal/llm"

	httpSwagger "github.com/swaggo/http-swagger/v2"
)

const noContextFound = "No relevant context was found in the available documents."

// Server is the main API server.
type Server struct {
	cfg      *config.Config
	parser   *document.Parser
	index    *index.Store
	embedder index.Embedder
	llm      *llm.Router
	manager  *jobs.Manager

	server *http.Server
	ready  chan struct{}
}

// New creates the API server over its collaborators.
func New(cfg *config.Config, parser *document.Parser, idx *index.Store, embedder index.Embedder, router *llm.Router, manager *jobs.Manager) *Server {
	return &Server{
		cfg:      cfg,
		parser:   parser,
		index:    idx,
		embedder: embedder,
		llm:      router,
		manager:  manager,
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the listener is bound and accepting connections.
// Readiness probes should not pass before this.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Run binds the listener, signals readiness, and serves until ctx is
// cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Server.APIPort))
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}

	slog.Info("api server listening", "port", s.cfg.Server.APIPort)
	close(s.ready)

	go func() {
		<-ctx.Done()
		slog.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.Serve(ln); err != http.ErrServerClosed {
		return fmt.Errorf("api serve: %w", err)
	}
	return nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /add_document", s.handleAddDocument)
	mux.HandleFunc("POST /query_rag_documents", s.handleQueryDocuments)
	mux.HandleFunc("POST /analyze_document", s.handleAnalyzeDocument)
	mux.HandleFunc("POST /generate_chat_response", s.handleChatResponse)
	mux.HandleFunc("POST /generate_podcast", s.handleGeneratePodcast)
	mux.HandleFunc("GET /podcast_status/{task_id}", s.handlePodcastStatus)
	mux.HandleFunc("GET /podcasts/{filename}", s.handleServePodcast)

	// Swagger UI — serves the generated OpenAPI docs.
	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return mux
}

// writeJSON encodes v as the response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the standard error envelope.
func writeError(w http.ResponseWriter, message string, status int) {
	slog.Error("api error response", "status", status, "error", message)
	writeJSON(w, status, map[string]string{"error": message, "status": "error"})
}

// decodeJSON reads the request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

type healthResponse struct {
	Status             string   `json:"status"`
	EmbeddingEndpoint  string   `json:"embedding_endpoint"`
	EmbeddingModel     string   `json:"embedding_model"`
	EmbeddingDimension int      `json:"embedding_dimension,omitempty"`
	Providers          []string `json:"providers"`
	DefaultIndexLoaded bool     `json:"default_index_loaded"`
	Message            string   `json:"message"`
}

// handleHealth reports component status.
//
// @Summary     Service health
// @Description Probes the embedding backend and reports provider and index state.
// @Tags        system
// @Produce     json
// @Success     200  {object}  healthResponse
// @Failure     503  {object}  healthResponse
// @Router      /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:             "error",
		EmbeddingEndpoint:  s.cfg.Embedding.Endpoint,
		EmbeddingModel:     s.cfg.Embedding.Model,
		Providers:          s.llm.Providers(),
		DefaultIndexLoaded: s.index.Loaded(s.cfg.Index.DefaultUser),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	vec, err := s.embedder.Embed(ctx, "ping")
	if err != nil {
		resp.Message = "embedding check failed: " + err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	resp.Status = "ok"
	resp.EmbeddingDimension = len(vec)
	resp.Message = "Service is running. Embeddings OK."
	if !resp.DefaultIndexLoaded {
		resp.Message = "Service is running. Default index will be loaded on first use."
	}
	writeJSON(w, http.StatusOK, resp)
}

type addDocumentRequest struct {
	UserID       string `json:"user_id"`
	FilePath     string `json:"file_path"`
	OriginalName string `json:"original_name"`
}

// handleAddDocument parses a document and adds its chunks to the user's index.
//
// @Summary     Index a document
// @Description Parses the file at file_path, splits it into chunks, and adds them to the user's retrieval index.
// @Tags        documents
// @Accept      json
// @Produce     json
// @Param       request  body      addDocumentRequest  true  "Document to index"
// @Success     200  {object}  map[string]any  "status added or skipped"
// @Failure     400  {object}  map[string]string
// @Failure     404  {object}  map[string]string
// @Router      /add_document [post]
func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	var req addDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.FilePath == "" || req.OriginalName == "" {
		writeError(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	if _, err := os.Stat(req.FilePath); err != nil {
		writeError(w, fmt.Sprintf("File not found: %s", req.FilePath), http.StatusNotFound)
		return
	}

	text, err := s.parser.Parse(r.Context(), req.FilePath)
	if err != nil && !errors.Is(err, document.ErrNoText) {
		writeError(w, fmt.Sprintf("Failed to process '%s': %v", req.OriginalName, err), http.StatusInternalServerError)
		return
	}
	if strings.TrimSpace(text) == "" {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("No text in '%s'.", req.OriginalName),
			"status":  "skipped",
		})
		return
	}

	chunks := document.Split(text, req.OriginalName, s.cfg.Index.ChunkSize, s.cfg.Index.ChunkOverlap)
	if err := s.index.Add(r.Context(), req.UserID, chunks); err != nil {
		writeError(w, fmt.Sprintf("Failed to process '%s': %v", req.OriginalName, err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      fmt.Sprintf("'%s' added.", req.OriginalName),
		"chunks_added": len(chunks),
		"status":       "added",
	})
}

type queryDocumentsRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
	K      int    `json:"k"`
}

type relevantDoc struct {
	DocumentName string  `json:"documentName"`
	Score        float32 `json:"score"`
	Content      string  `json:"content,omitempty"`
}

// handleQueryDocuments runs a similarity search over the user's index.
//
// @Summary     Query indexed documents
// @Tags        documents
// @Accept      json
// @Produce     json
// @Param       request  body      queryDocumentsRequest  true  "Search request"
// @Success     200  {object}  map[string]any  "relevantDocs with scores"
// @Failure     400  {object}  map[string]string
// @Router      /query_rag_documents [post]
func (s *Server) handleQueryDocuments(w http.ResponseWriter, r *http.Request) {
	var req queryDocumentsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Query == "" {
		writeError(w, "Missing user_id or query", http.StatusBadRequest)
		return
	}
	if req.K <= 0 {
		req.K = s.cfg.Index.DefaultK
	}

	chunks, err := s.index.Query(r.Context(), req.UserID, req.Query, req.K, "")
	if err != nil {
		writeError(w, fmt.Sprintf("Failed to query index: %v", err), http.StatusInternalServerError)
		return
	}

	docs := make([]relevantDoc, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, relevantDoc{DocumentName: c.DocumentName, Score: c.Score, Content: c.Content})
	}
	writeJSON(w, http.StatusOK, map[string]any{"relevantDocs": docs, "status": "success"})
}

type analyzeDocumentRequest struct {
	UserID     string            `json:"user_id"`
	Document   string            `json:"document_name"`
	Type       string            `json:"analysis_type"`
	FilePath   string            `json:"file_path_for_analysis"`
	Provider   string            `json:"llm_provider"`
	Model      string            `json:"llm_model_name"`
	APIKeys    map[string]string `json:"api_keys"`
	OllamaHost string            `json:"ollama_host"`
}

// handleAnalyzeDocument runs a one-shot LLM analysis over a whole document.
//
// @Summary     Analyze a document
// @Description Parses the document and asks the selected LLM for a summary, an FAQ, or its key topics.
// @Tags        documents
// @Accept      json
// @Produce     json
// @Param       request  body      analyzeDocumentRequest  true  "Analysis request"
// @Success     200  {object}  map[string]string
// @Failure     400  {object}  map[string]string
// @Failure     404  {object}  map[string]string
// @Router      /analyze_document [post]
func (s *Server) handleAnalyzeDocument(w http.ResponseWriter, r *http.Request) {
	var req analyzeDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Document == "" || req.Type == "" || req.FilePath == "" {
		writeError(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	if _, err := os.Stat(req.FilePath); err != nil {
		writeError(w, fmt.Sprintf("Document not found at path: %s", req.FilePath), http.StatusNotFound)
		return
	}

	creds := normalizeCredentials(req.APIKeys, req.OllamaHost)

	text, err := s.parser.Parse(r.Context(), req.FilePath)
	if err != nil || strings.TrimSpace(text) == "" {
		writeError(w, "Could not parse text from the document. It may be empty, corrupted, or an unsupported format.", http.StatusBadRequest)
		return
	}

	prompt, err := analysisPrompt(req.Type, text)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.llm.Complete(r.Context(), req.Provider, llm.Request{
		Model:       req.Model,
		Prompt:      prompt,
		Credentials: creds,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, llm.ErrUnknownProvider) {
			status = http.StatusBadRequest
		}
		writeError(w, fmt.Sprintf("Failed to perform analysis: %v", err), status)
		return
	}
	if result == "" {
		slog.Warn("llm returned an empty analysis", "type", req.Type, "document", req.Document)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"document_name":   req.Document,
		"analysis_type":   req.Type,
		"analysis_result": result,
		"status":          "success",
	})
}

// analysisPrompt builds the per-type analysis instruction.
func analysisPrompt(analysisType, text string) (string, error) {
	switch analysisType {
	case "summary":
		return "Provide a concise summary of the following document. Capture the main arguments and conclusions in a few short paragraphs of plain prose.\n\nDOCUMENT:\n" + text, nil
	case "faq":
		return "Generate a list of frequently asked questions with answers based on the following document. Format each entry as a 'Q:' line followed by an 'A:' line.\n\nDOCUMENT:\n" + text, nil
	case "key_topics":
		return "Extract the key topics from the following document. Return a bulleted list where each topic is followed by a one-sentence explanation.\n\nDOCUMENT:\n" + text, nil
	default:
		return "", fmt.Errorf("unknown analysis_type: %q", analysisType)
	}
}

// ChatMessage is one prior turn of the conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	UserID           string            `json:"user_id"`
	Query            string            `json:"query"`
	ChatHistory      []ChatMessage     `json:"chat_history"`
	SystemPrompt     string            `json:"system_prompt"`
	Provider         string            `json:"llm_provider"`
	Model            string            `json:"llm_model_name"`
	PerformRAG       *bool             `json:"perform_rag"`
	EnableMultiQuery *bool             `json:"enable_multi_query"`
	APIKeys          map[string]string `json:"api_keys"`
	OllamaHost       string            `json:"ollama_host"`
	ActiveFile       string            `json:"active_file"`
}

// handleChatResponse answers a chat turn, optionally grounded in the user's
// indexed documents.
//
// @Summary     Generate a chat response
// @Description Optionally expands the query, retrieves matching chunks from the user's index, and asks the selected LLM for an answer grounded in them.
// @Tags        chat
// @Accept      json
// @Produce     json
// @Param       request  body      chatRequest  true  "Chat request"
// @Success     200  {object}  map[string]any  "llm_response plus references"
// @Failure     400  {object}  map[string]string
// @Failure     502  {object}  map[string]string
// @Router      /generate_chat_response [post]
func (s *Server) handleChatResponse(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Query == "" {
		writeError(w, "Missing user_id or query in request", http.StatusBadRequest)
		return
	}

	creds := normalizeCredentials(req.APIKeys, req.OllamaHost)

	contextText := noContextFound
	references := []relevantDoc{}
	if req.PerformRAG == nil || *req.PerformRAG {
		queries := []string{req.Query}
		if req.EnableMultiQuery == nil || *req.EnableMultiQuery {
			queries = append(queries, llm.ExpandQuery(r.Context(), s.llm, req.Provider, req.Model, req.Query, creds)...)
		}

		seen := make(map[string]bool)
		var hits []document.Chunk
		for _, q := range queries {
			chunks, err := s.index.Query(r.Context(), req.UserID, q, s.cfg.Index.DefaultK, req.ActiveFile)
			if err != nil {
				slog.Warn("rag retrieval failed", "query", q, "error", err)
				continue
			}
			for _, c := range chunks {
				if seen[c.Content] {
					continue
				}
				seen[c.Content] = true
				hits = append(hits, c)
			}
		}

		if len(hits) > 0 {
			parts := make([]string, len(hits))
			for i, c := range hits {
				parts[i] = fmt.Sprintf("[%d] Source: %s\n%s", i+1, c.DocumentName, c.Content)
				references = append(references, relevantDoc{DocumentName: c.DocumentName, Score: c.Score})
			}
			contextText = strings.Join(parts, "\n\n---\n\n")
		}
	}

	answer, err := s.llm.Complete(r.Context(), req.Provider, llm.Request{
		Model:       req.Model,
		Prompt:      buildChatPrompt(req.Query, contextText, req.ChatHistory),
		System:      req.SystemPrompt,
		Credentials: creds,
	})
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, llm.ErrUnknownProvider) {
			status = http.StatusBadRequest
		}
		writeError(w, fmt.Sprintf("Failed to generate chat response: %v", err), status)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"llm_response": answer,
		"references":   references,
		"status":       "success",
	})
}

// buildChatPrompt weaves retrieved context and prior turns into one prompt.
func buildChatPrompt(query, contextText string, history []ChatMessage) string {
	var b strings.Builder
	b.WriteString("Use the following context from the user's documents to answer. If the context is not relevant, answer from general knowledge.\n\nCONTEXT:\n")
	b.WriteString(contextText)
	b.WriteString("\n\n")
	for _, m := range history {
		role := "User"
		if strings.EqualFold(m.Role, "assistant") || strings.EqualFold(m.Role, "model") {
			role = "Assistant"
		}
		b.WriteString(role + ": " + m.Content + "\n")
	}
	b.WriteString("User: " + query)
	return b.String()
}

// normalizeCredentials folds the top-level ollama_host field into the
// credential map so providers see a single source of overrides.
func normalizeCredentials(apiKeys map[string]string, ollamaHost string) llm.Credentials {
	creds := llm.Credentials{}
	for k, v := range apiKeys {
		creds[k] = v
	}
	if ollamaHost == "" {
		ollamaHost = creds.Get("ollamaHost")
	}
	if ollamaHost != "" {
		creds["ollama_host"] = strings.TrimSpace(ollamaHost)
	}
	return creds
}

type generatePodcastRequest struct {
	FilePath     string            `json:"file_path"`
	DocumentName string            `json:"document_name"`
	APIKeys      map[string]string `json:"api_keys"`
}

// handleGeneratePodcast queues an asynchronous podcast job.
//
// @Summary     Generate a podcast
// @Description Queues a background job that turns the document into a two-voice podcast MP3. Poll /podcast_status/{task_id} for the result.
// @Tags        podcast
// @Accept      json
// @Produce     json
// @Param       request  body      generatePodcastRequest  true  "Podcast request"
// @Success     202  {object}  map[string]string  "task_id and queued status"
// @Failure     400  {object}  map[string]string
// @Failure     404  {object}  map[string]string
// @Router      /generate_podcast [post]
func (s *Server) handleGeneratePodcast(w http.ResponseWriter, r *http.Request) {
	var req generatePodcastRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.FilePath == "" || req.DocumentName == "" {
		writeError(w, "Missing required fields: file_path, document_name", http.StatusBadRequest)
		return
	}
	if _, err := os.Stat(req.FilePath); err != nil {
		writeError(w, fmt.Sprintf("File not found: %s", req.FilePath), http.StatusNotFound)
		return
	}

	taskID, err := s.manager.Submit(jobs.SubmitRequest{
		FilePath:     req.FilePath,
		DocumentName: req.DocumentName,
		Credentials:  llm.Credentials(req.APIKeys),
		BaseURL:      s.baseURL(r),
	})
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "task_id": taskID})
}

// baseURL picks the public base URL for download links. The configured value
// wins; otherwise it is derived from the submitting request.
func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.Server.PublicBaseURL != "" {
		return s.cfg.Server.PublicBaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/"
}

// handlePodcastStatus reports the state of one podcast job.
//
// @Summary     Poll a podcast job
// @Tags        podcast
// @Produce     json
// @Param       task_id  path      string  true  "Task id returned by /generate_podcast"
// @Success     200  {object}  jobs.Task
// @Failure     404  {object}  map[string]string
// @Router      /podcast_status/{task_id} [get]
func (s *Server) handlePodcastStatus(w http.ResponseWriter, r *http.Request) {
	task, err := s.manager.Poll(r.PathValue("task_id"))
	if err != nil {
		if errors.Is(err, jobs.ErrTaskNotFound) {
			writeError(w, "Task not found", http.StatusNotFound)
			return
		}
		writeError(w, fmt.Sprintf("Failed to read task: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleServePodcast serves a finished MP3 from the output directory.
//
// @Summary     Download a podcast
// @Tags        podcast
// @Produce     audio/mpeg
// @Param       filename  path  string  true  "Podcast filename from the task record"
// @Success     200  {file}  file
// @Failure     404  {object}  map[string]string
// @Router      /podcasts/{filename} [get]
func (s *Server) handleServePodcast(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	if filename == "" || filename != filepath.Base(filename) || strings.Contains(filename, "..") {
		writeError(w, "Invalid filename", http.StatusBadRequest)
		return
	}
	path := filepath.Join(s.cfg.Podcast.OutputDir, filename)
	if _, err := os.Stat(path); err != nil {
		writeError(w, "Podcast not found", http.StatusNotFound)
		return
	}
	slog.Info("serving podcast file", "filename", filename)
	http.ServeFile(w, r, path)
}
