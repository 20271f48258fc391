package summarizer

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/llmclient"
	"ragcore/models"
)

type fakeChatClient struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeChatClient) ChatCompletion(ctx context.Context, model string, messages []models.ChatCompletionMessage, temperature float64) (string, error) {
	i := f.calls
	f.calls++
	var resp string
	var err error
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return resp, err
}

func newExtractor(client ChatClient) *Extractor {
	return &Extractor{Client: client, Model: "test-model", Log: zerolog.Nop()}
}

func TestExtractSkipsShortText(t *testing.T) {
	client := &fakeChatClient{}
	e := newExtractor(client)
	result := e.Extract(context.Background(), "too short")
	assert.Equal(t, Result{}, result)
	assert.Equal(t, 0, client.calls)
}

func TestExtractParsesValidJSON(t *testing.T) {
	client := &fakeChatClient{
		responses: []string{`{"summary": "a doc about widgets", "keywords": ["widgets", "manufacturing"]}`},
	}
	e := newExtractor(client)
	text := strings.Repeat("widget manufacturing details. ", 10)
	result := e.Extract(context.Background(), text)
	require.Equal(t, "a doc about widgets", result.Summary)
	assert.Equal(t, []string{"widgets", "manufacturing"}, result.Keywords)
	assert.Equal(t, 1, client.calls)
}

func TestExtractToleratesMarkdownFence(t *testing.T) {
	client := &fakeChatClient{
		responses: []string{"```json\n{\"summary\": \"s\", \"keywords\": [\"a\"]}\n```"},
	}
	e := newExtractor(client)
	text := strings.Repeat("fenced response test content. ", 10)
	result := e.Extract(context.Background(), text)
	assert.Equal(t, "s", result.Summary)
	assert.Equal(t, []string{"a"}, result.Keywords)
}

func TestExtractCapsKeywordsAtMax(t *testing.T) {
	kws := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		kws = append(kws, `"k"`)
	}
	body := `{"summary": "s", "keywords": [` + strings.Join(kws, ",") + `]}`
	client := &fakeChatClient{responses: []string{body}}
	e := newExtractor(client)
	text := strings.Repeat("keyword capping test content. ", 10)
	result := e.Extract(context.Background(), text)
	assert.Len(t, result.Keywords, MaxKeywords)
}

func TestExtractRetriesOnRetriableStatusThenSucceeds(t *testing.T) {
	client := &fakeChatClient{
		responses: []string{"", `{"summary": "ok", "keywords": []}`},
		errs:      []error{&llmclient.StatusError{Status: 503, Body: "overloaded"}, nil},
	}
	e := newExtractor(client)
	e.retryDelay = 0
	text := strings.Repeat("retry path test content. ", 10)
	result := e.Extract(context.Background(), text)
	assert.Equal(t, "ok", result.Summary)
	assert.Equal(t, 2, client.calls)
}

func TestExtractDegradesToEmptyOnNonRetriableStatus(t *testing.T) {
	client := &fakeChatClient{
		responses: []string{""},
		errs:      []error{&llmclient.StatusError{Status: 400, Body: "bad request"}},
	}
	e := newExtractor(client)
	text := strings.Repeat("non retriable failure test. ", 10)
	result := e.Extract(context.Background(), text)
	assert.Equal(t, Result{}, result)
	assert.Equal(t, 1, client.calls)
}

func TestExtractDegradesToEmptyAfterExhaustingRetries(t *testing.T) {
	client := &fakeChatClient{}
	e := newExtractor(client)
	e.retryDelay = 0
	for i := 0; i < MaxAttempts; i++ {
		client.responses = append(client.responses, "")
		client.errs = append(client.errs, &llmclient.StatusError{Status: 500, Body: "fail"})
	}
	text := strings.Repeat("exhausted retries test content. ", 10)
	result := e.Extract(context.Background(), text)
	assert.Equal(t, Result{}, result)
	assert.Equal(t, MaxAttempts, client.calls)
}

func TestExtractTruncatesOversizedInput(t *testing.T) {
	var seen string
	client := &capturingClient{
		onCall: func(messages []models.ChatCompletionMessage) {
			seen = messages[0].Content
		},
		resp: `{"summary": "s", "keywords": []}`,
	}
	e := newExtractor(client)
	text := strings.Repeat("x", MaxTextLength+5000)
	e.Extract(context.Background(), text)
	assert.Equal(t, MaxTextLength+len(buildPrompt("")), len(seen)) // prompt wrapper adds a fixed overhead
}

type capturingClient struct {
	onCall func(messages []models.ChatCompletionMessage)
	resp   string
}

func (c *capturingClient) ChatCompletion(ctx context.Context, model string, messages []models.ChatCompletionMessage, temperature float64) (string, error) {
	c.onCall(messages)
	return c.resp, nil
}
