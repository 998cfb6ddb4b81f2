package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "nomic-embed-text"
)

// OllamaOptions configures the Ollama embedder.
type OllamaOptions struct {
	// BaseURL of the Ollama server. Defaults to http://localhost:11434.
	BaseURL string
	// Model name. Defaults to nomic-embed-text.
	Model string
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// OllamaEmbedder embeds text via a local Ollama server. nomic-embed-text
// yields 768-dimensional vectors; they are zero-padded to Dimension.
type OllamaEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaEmbedder constructs an embedder backed by an Ollama server.
func NewOllamaEmbedder(optFns ...func(o *OllamaOptions)) *OllamaEmbedder {
	opts := OllamaOptions{
		BaseURL: defaultOllamaBaseURL,
		Model:   defaultOllamaModel,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OllamaEmbedder{
		baseURL: opts.BaseURL,
		model:   opts.Model,
		client:  opts.HTTPClient,
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embedding server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding server returned %d: %s", resp.StatusCode, data)
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embedding server returned empty vector for model %q", e.model)
	}
	return pad(out.Embedding), nil
}
