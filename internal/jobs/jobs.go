// Package jobs tracks asynchronous podcast generation tasks.
//
// A task is created at submission, handed to exactly one detached worker,
// and polled by clients until it reaches a terminal state. Task fields are
// only ever written by the worker that owns the task; the store protects its
// own container, nothing more is needed.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docudive/docudive/internal/llm"
)

// Status values. Transitions are monotonic:
// pending → processing → (complete | failed).
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
)

// ErrTaskNotFound is returned when polling an unknown task id.
var ErrTaskNotFound = errors.New("task not found")

// Task is the polled record of one podcast job. Exactly one of Filename and
// Error is ever populated once the task is terminal.
type Task struct {
	ID        string `json:"task_id"`
	Status    string `json:"status"`
	Filename  string `json:"filename,omitempty"`
	AudioURL  string `json:"audioUrl,omitempty"`
	Error     string `json:"error,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

// Store persists task records.
type Store interface {
	SetTask(task Task) error
	GetTask(taskID string) (Task, error)
}

// Parser is the document-parsing collaborator (see internal/document).
type Parser interface {
	Parse(ctx context.Context, path string) (string, error)
}

// PipelineRunner is the podcast pipeline collaborator (see internal/podcast).
type PipelineRunner interface {
	Run(ctx context.Context, documentText, baseName string, creds llm.Credentials) (string, error)
}

// SubmitRequest carries one podcast submission.
type SubmitRequest struct {
	FilePath     string
	DocumentName string
	Credentials  llm.Credentials

	// BaseURL is the public base URL for the eventual download link,
	// captured from the submitting request before the worker detaches.
	BaseURL string
}

// Manager validates submissions, spawns workers, and answers polls.
type Manager struct {
	store    Store
	parser   Parser
	pipeline PipelineRunner
	sem      chan struct{}
}

// NewManager creates a manager running at most workerLimit concurrent jobs.
func NewManager(store Store, parser Parser, pipeline PipelineRunner, workerLimit int) *Manager {
	if workerLimit <= 0 {
		workerLimit = 4
	}
	return &Manager{
		store:    store,
		parser:   parser,
		pipeline: pipeline,
		sem:      make(chan struct{}, workerLimit),
	}
}

// Submit validates the request, records a pending task, and hands the job to
// a detached worker. It returns the task id immediately. Validation failures
// never create a task.
func (m *Manager) Submit(req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.FilePath) == "" || strings.TrimSpace(req.DocumentName) == "" {
		return "", fmt.Errorf("file path and document name are required")
	}
	if _, err := os.Stat(req.FilePath); err != nil {
		return "", fmt.Errorf("source file not found: %s", req.FilePath)
	}

	taskID := uuid.New().String()
	baseName := fmt.Sprintf("%s_%s", sanitizeName(req.DocumentName), taskID[:8])

	task := Task{
		ID:        taskID,
		Status:    StatusPending,
		CreatedAt: time.Now().Unix(),
	}
	if err := m.store.SetTask(task); err != nil {
		return "", fmt.Errorf("recording task: %w", err)
	}

	// The worker owns the task from here. It runs on a background context so
	// the job outlives the submitting request.
	go m.runJob(context.Background(), task, req, baseName)

	slog.Info("podcast job queued", "task", taskID, "document", req.DocumentName)
	return taskID, nil
}

// Poll returns the current task record.
func (m *Manager) Poll(taskID string) (Task, error) {
	return m.store.GetTask(taskID)
}

// runJob drives one podcast job to a terminal state. All failures are
// job-scoped: panics and errors end up in the task record, never in the
// process.
func (m *Manager) runJob(ctx context.Context, task Task, req SubmitRequest, baseName string) {
	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	logger := slog.With("task", task.ID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("podcast worker panicked", "panic", r)
			m.finish(task, "", "", fmt.Sprintf("internal error: %v", r))
		}
	}()

	task.Status = StatusProcessing
	task.UpdatedAt = time.Now().Unix()
	if err := m.store.SetTask(task); err != nil {
		logger.Warn("could not record processing status", "error", err)
	}
	logger.Info("podcast generation started", "document", req.DocumentName)

	text, err := m.parser.Parse(ctx, req.FilePath)
	if err != nil {
		logger.Error("document parsing failed", "error", err)
		m.finish(task, "", "", "document is empty or could not be parsed")
		return
	}

	finalName, err := m.pipeline.Run(ctx, text, baseName, req.Credentials)
	if err != nil {
		logger.Error("podcast generation failed", "error", err)
		m.finish(task, "", "", userSafeMessage(err))
		return
	}

	audioURL := strings.TrimRight(req.BaseURL, "/") + "/podcasts/" + finalName
	m.finish(task, finalName, audioURL, "")
	logger.Info("podcast generation completed", "file", finalName)
}

// finish writes the single terminal transition for a task.
func (m *Manager) finish(task Task, filename, audioURL, errMsg string) {
	task.UpdatedAt = time.Now().Unix()
	if errMsg != "" {
		task.Status = StatusFailed
		task.Error = errMsg
		task.Filename = ""
		task.AudioURL = ""
	} else {
		task.Status = StatusComplete
		task.Filename = filename
		task.AudioURL = audioURL
		task.Error = ""
	}
	if err := m.store.SetTask(task); err != nil {
		slog.Error("could not record terminal task state", "task", task.ID, "error", err)
	}
}

// userSafeMessage caps the length of the client-facing error field. The cut
// lands on a rune boundary so the stored string stays valid UTF-8.
func userSafeMessage(err error) string {
	msg := err.Error()
	if runes := []rune(msg); len(runes) > 300 {
		return string(runes[:300])
	}
	return msg
}

// sanitizeName reduces a display name to a filesystem-safe base: only
// letters, digits, spaces, and underscores survive, and trailing spaces are
// trimmed.
func sanitizeName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == ' ', r == '_':
			sb.WriteRune(r)
		}
	}
	return strings.TrimRight(sb.String(), " ")
}
