// Package summarizer implements the summary/keyword extractor of §4.6: a
// single LLM call producing {summary, keywords}, with truncation, a
// short-text skip, and an exponential-backoff retry policy that degrades
// to an empty result on exhaustion instead of failing the ingest.
//
// Grounded on original_source/src/bm25/llm_extraction.py's
// extract_summary_and_keywords (same truncation length, same short-text
// skip, same JSON response contract) and the teacher's
// core/llm_client.go chat-completion transport (via internal/llmclient),
// substituting the retry/backoff loop the Python version lacked with the
// one named explicitly in §4.6.
package summarizer

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ragcore/internal/llmclient"
	"ragcore/models"
)

const (
	// MaxTextLength truncates the input before the LLM call (§4.6).
	MaxTextLength = 25000
	// MinNonSpaceChars is the threshold below which extraction is skipped entirely.
	MinNonSpaceChars = 100
	// MaxAttempts is the retry ceiling (§4.6).
	MaxAttempts = 5
	// MaxKeywords caps the returned keyword list.
	MaxKeywords = 20
)

// Result is the extractor's output; both fields default to empty on
// degrade-to-empty (the extractor never fails the ingest).
type Result struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

// ChatClient is the chat-completions transport Extractor depends on;
// *llmclient.Client satisfies it directly.
type ChatClient interface {
	ChatCompletion(ctx context.Context, model string, messages []models.ChatCompletionMessage, temperature float64) (string, error)
}

// Extractor calls an LLM chat-completions endpoint to produce a document
// summary and keyword list.
type Extractor struct {
	Client ChatClient
	Model  string
	Log    zerolog.Logger

	// retryDelay is the initial backoff delay; New sets it to one second,
	// and a zero value retries without waiting. Tests leave it zero to
	// avoid sleeping.
	retryDelay time.Duration
}

func New(client *llmclient.Client, model string, log zerolog.Logger) *Extractor {
	return &Extractor{Client: client, Model: model, Log: log, retryDelay: time.Second}
}

// Extract runs the full §4.6 contract: skip on short text, truncate,
// retry with exponential backoff on retriable failures, degrade to an
// empty Result on exhaustion.
func (e *Extractor) Extract(ctx context.Context, text string) Result {
	if countNonSpace(text) < MinNonSpaceChars {
		return Result{}
	}

	truncated := text
	if len(truncated) > MaxTextLength {
		truncated = truncated[:MaxTextLength]
	}

	prompt := buildPrompt(truncated)
	messages := []models.ChatCompletionMessage{
		{Role: "user", Content: prompt},
	}

	backoff := e.retryDelay
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		content, err := e.Client.ChatCompletion(ctx, e.Model, messages, 0.1)
		isDecodeErr := false
		if err == nil {
			result, parseErr := parseResponse(content)
			if parseErr == nil {
				return result
			}
			err = parseErr
			isDecodeErr = true
		}

		if (!isDecodeErr && !retriable(err)) || attempt == MaxAttempts {
			e.Log.Warn().Err(err).Int("attempt", attempt).Msg("summary/keyword extraction failed, degrading to empty result")
			return Result{}
		}

		select {
		case <-ctx.Done():
			return Result{}
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return Result{}
}

func buildPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Analyze this document and provide:\n\n")
	b.WriteString("1. Summary: 2-3 concise sentences capturing the main topics and purpose\n")
	b.WriteString("2. Keywords: up to 20 key technical terms, concepts, or topics\n\n")
	b.WriteString("Document text:\n")
	b.WriteString(text)
	b.WriteString("\n\nOutput strictly valid JSON of the form:\n")
	b.WriteString(`{"summary": "...", "keywords": ["...", "..."]}`)
	return b.String()
}

func parseResponse(content string) (Result, error) {
	var raw struct {
		Summary  string   `json:"summary"`
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &raw); err != nil {
		return Result{}, err
	}
	if len(raw.Keywords) > MaxKeywords {
		raw.Keywords = raw.Keywords[:MaxKeywords]
	}
	return Result{Summary: raw.Summary, Keywords: raw.Keywords}, nil
}

// extractJSON trims any non-JSON wrapper text a chat model may add around
// the requested JSON object (e.g. markdown code fences).
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return content
	}
	return content[start : end+1]
}

func retriable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *llmclient.StatusError
	if se, ok := err.(*llmclient.StatusError); ok {
		statusErr = se
	}
	if statusErr != nil {
		return llmclient.IsRetriable(statusErr.Status)
	}
	return false
}

func countNonSpace(s string) int {
	n := 0
	for _, r := range s {
		if !strings.ContainsRune(" \t\n\r\v\f", r) {
			n++
		}
	}
	return n
}
