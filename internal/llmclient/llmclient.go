// Package llmclient is the shared OpenAI-compatible HTTP transport used by
// the embedding engine (§4.4), the summary/keyword extractor (§4.6) and the
// LLM reranker (§4.11).
//
// Grounded on the teacher's core/llm_client.go (chat-completions) and
// core/embedding_service.go (embeddings): same wire format, same base-URL
// configuration, generalised into one reusable client instead of two
// package-level functions closing over a shared *http.Client.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ragcore/models"
)

// Client talks to an OpenAI-compatible chat-completions and embeddings
// server (e.g. a local LlamaCPP or vLLM instance).
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New builds a Client against baseURL (e.g. "http://localhost:8091/v1").
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// ChatCompletion sends a chat-completions request and returns the first
// choice's message content.
func (c *Client) ChatCompletion(ctx context.Context, model string, messages []models.ChatCompletionMessage, temperature float64) (string, error) {
	reqPayload := models.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
	}
	payloadBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return "", fmt.Errorf("marshal chat completion request: %w", err)
	}

	apiURL := c.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payloadBytes))
	if err != nil {
		return "", fmt.Errorf("build chat completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call chat completion API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &StatusError{Status: resp.StatusCode, Body: string(body)}
	}

	var completionResp models.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completionResp); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(completionResp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned from chat completion API")
	}
	return completionResp.Choices[0].Message.Content, nil
}

// Embed sends an embeddings request for a batch of texts against model,
// returning one embedding vector per input text in request order.
func (c *Client) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	reqPayload := models.EmbeddingRequest{Input: texts, Model: model}
	payloadBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	apiURL := c.BaseURL + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embedding API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Status: resp.StatusCode, Body: string(body)}
	}

	var embResp models.EmbeddingAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	out := make([][]float32, len(texts))
	for _, d := range embResp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

// RerankResult is one scored document from an external rerank endpoint.
type RerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
	Text  string  `json:"document"`
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []RerankResult `json:"results"`
}

// Rerank calls an external rerank-style endpoint (cross-encoder or vendor
// API) at path relative to BaseURL, used by the reranker's non-LLM
// variants.
func (c *Client) Rerank(ctx context.Context, model, path, query string, documents []string, topN int) ([]RerankResult, error) {
	reqPayload := rerankRequest{Model: model, Query: query, Documents: documents, TopN: topN}
	payloadBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	apiURL := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call rerank endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Status: resp.StatusCode, Body: string(body)}
	}

	var rerankResp rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rerankResp); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	return rerankResp.Results, nil
}

// StatusError carries the HTTP status and body of a failed provider call
// so callers can distinguish retriable statuses (429/500/503/504) and
// oversized-batch errors from other failures.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider request failed with status %d: %s", e.Status, e.Body)
}

// IsRetriable reports whether status is one of the retriable codes from
// §4.6's retry policy.
func IsRetriable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
