// Package document extracts plain text from uploaded files and splits it
// into overlapping chunks for indexing.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNoText is returned when a file parses to empty or whitespace-only text.
var ErrNoText = errors.New("document contains no extractable text")

// ErrUnsupported is returned for file types the parser cannot handle.
var ErrUnsupported = errors.New("unsupported document type")

// Chunk is one indexed slice of a document.
type Chunk struct {
	DocumentName string  `json:"documentName"`
	Index        int     `json:"index"`
	Content      string  `json:"content"`
	Score        float32 `json:"score,omitempty"`
}

// Parser extracts text from files on disk. PDF extraction shells out to
// pdftotext, so the binary path is configurable (and stubbed in tests).
type Parser struct {
	PdftotextBin string
}

// NewParser returns a parser using the pdftotext binary from PATH.
func NewParser() *Parser {
	return &Parser{PdftotextBin: "pdftotext"}
}

// Parse reads a file and returns its plain text content.
// Whitespace-only content yields ErrNoText.
func (p *Parser) Parse(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("cannot access document: %w", err)
	}

	var text string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".log", ".csv", "":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading document: %w", err)
		}
		text = string(data)
	case ".pdf":
		out, err := p.parsePDF(ctx, path)
		if err != nil {
			return "", err
		}
		text = out
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
	}

	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}

// parsePDF extracts text via `pdftotext <file> -` (stdout mode).
func (p *Parser) parsePDF(ctx context.Context, path string) (string, error) {
	bin := p.PdftotextBin
	if bin == "" {
		bin = "pdftotext"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return "", fmt.Errorf("pdftotext binary not found: %w", err)
	}

	cmd := exec.CommandContext(ctx, bin, "-layout", path, "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftotext failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Split cuts text into rune-safe chunks of at most size runes with the given
// overlap between consecutive chunks. Chunks keep the document name so query
// results can be attributed.
func Split(text, documentName string, size, overlap int) []Chunk {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var chunks []Chunk
	step := size - overlap
	for start, idx := 0, 0; start < len(runes); start, idx = start+step, idx+1 {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			chunks = append(chunks, Chunk{
				DocumentName: documentName,
				Index:        idx,
				Content:      content,
			})
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
