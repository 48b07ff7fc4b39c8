// Package gtrans implements the TTS Synthesizer over the Google Translate
// speech endpoint.
//
// The endpoint serves short MP3 clips for text fragments, so longer lines
// are split into fragments of at most 200 runes at sentence punctuation and
// the MP3 streams are appended in order. The tld parameter selects the
// accent (co.uk gives the British voice the podcast uses for its female
// host). The voice is naturally slow-paced; the pipeline compensates with a
// tempo filter at normalization time rather than here.
package gtrans

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"unicode"

	"github.com/docudive/docudive/internal/config"
)

// maxFragmentRunes is the longest text fragment the endpoint accepts reliably.
const maxFragmentRunes = 200

// Synthesizer renders speech via the translate TTS endpoint.
type Synthesizer struct {
	endpoint string
	tld      string
	lang     string
	client   *http.Client
}

// New creates a cloud synthesizer from config.
func New(cfg config.TTSConfig) *Synthesizer {
	return &Synthesizer{
		endpoint: cfg.TranslateEndpoint,
		tld:      cfg.TranslateTLD,
		lang:     "en",
		client:   &http.Client{},
	}
}

// Name returns the engine identifier.
func (s *Synthesizer) Name() string { return "gtrans" }

// Ext returns the raw clip extension.
func (s *Synthesizer) Ext() string { return ".mp3" }

// Synthesize fetches MP3 audio for each fragment of text and appends the
// streams to outPath in order.
func (s *Synthesizer) Synthesize(ctx context.Context, text, outPath string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("empty text for synthesis")
	}

	fragments := splitFragments(text, maxFragmentRunes)

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating clip file: %w", err)
	}
	defer out.Close()

	for i, frag := range fragments {
		if err := s.fetchFragment(ctx, frag, i, len(fragments), out); err != nil {
			out.Close()
			_ = os.Remove(outPath)
			return err
		}
	}

	slog.Debug("cloud synthesis complete", "fragments", len(fragments), "path", outPath)
	return nil
}

// fetchFragment downloads one MP3 fragment into w.
func (s *Synthesizer) fetchFragment(ctx context.Context, text string, idx, total int, w io.Writer) error {
	params := url.Values{}
	params.Set("ie", "UTF-8")
	params.Set("client", "tw-ob")
	params.Set("tl", s.lang)
	params.Set("ttsspeed", "1")
	params.Set("q", text)
	params.Set("idx", fmt.Sprintf("%d", idx))
	params.Set("total", fmt.Sprintf("%d", total))
	params.Set("textlen", fmt.Sprintf("%d", len([]rune(text))))

	endpoint := strings.Replace(s.endpoint, "translate.google.com", "translate.google."+s.tld, 1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating tts request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64)")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("tts fetch failed (status %d): %s", resp.StatusCode, body)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("writing tts audio: %w", err)
	}
	return nil
}

// splitFragments cuts text into fragments of at most max runes, preferring
// sentence punctuation, then any whitespace, and falling back to a hard cut
// for pathological unbroken runs.
func splitFragments(text string, max int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return []string{string(runes)}
	}

	var fragments []string
	for len(runes) > 0 {
		if len(runes) <= max {
			fragments = append(fragments, strings.TrimSpace(string(runes)))
			break
		}

		cut := -1
		for i := max; i > 0; i-- {
			switch runes[i-1] {
			case '.', '!', '?', ';', ':', ',':
				cut = i
			}
			if cut != -1 {
				break
			}
		}
		if cut == -1 {
			for i := max; i > 0; i-- {
				if unicode.IsSpace(runes[i-1]) {
					cut = i
					break
				}
			}
		}
		if cut == -1 {
			cut = max
		}

		frag := strings.TrimSpace(string(runes[:cut]))
		if frag != "" {
			fragments = append(fragments, frag)
		}
		runes = []rune(strings.TrimSpace(string(runes[cut:])))
	}
	return fragments
}
