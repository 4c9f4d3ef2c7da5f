package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// EmbeddingConfig selects and configures an embedding backend.
type EmbeddingConfig struct {
	Provider  string `json:"provider" validate:"omitempty,oneof=api local"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension" validate:"gte=0"`
}

// NewEmbedder returns the backend named by cfg.Provider. An empty provider means "api".
func NewEmbedder(cfg EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "api":
		return NewAPIEmbedder(cfg), nil
	case "local":
		return NewLocalEmbedder(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// dimension remembers the width of the first vector seen, falling back to the
// configured value until then. Safe for concurrent use.
type dimension struct {
	configured int
	observed   atomic.Int64
}

func (d *dimension) observe(vectors [][]float32) {
	if len(vectors) > 0 && len(vectors[0]) > 0 {
		d.observed.CompareAndSwap(0, int64(len(vectors[0])))
	}
}

func (d *dimension) get() int {
	if n := d.observed.Load(); n > 0 {
		return int(n)
	}
	return d.configured
}

// APIEmbedder calls an OpenAI-compatible /embeddings endpoint with the whole batch.
type APIEmbedder struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
	dim      dimension
}

// NewAPIEmbedder creates an APIEmbedder.
func NewAPIEmbedder(cfg EmbeddingConfig) *APIEmbedder {
	return &APIEmbedder{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   http.DefaultClient,
		dim:      dimension{configured: cfg.Dimension},
	}
}

type apiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per text, in input order.
func (e *APIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp apiResponse
	if err := postJSON(ctx, e.client, e.endpoint+"/embeddings", e.apiKey, apiRequest{Model: e.model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding: index %d out of range for %d inputs", d.Index, len(texts))
		}
		if vectors[d.Index] != nil {
			return nil, fmt.Errorf("embedding: duplicate index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	e.dim.observe(vectors)
	return vectors, nil
}

// Dimension returns the vector width.
func (e *APIEmbedder) Dimension() int { return e.dim.get() }

// LocalEmbedder calls an Ollama-compatible /api/embeddings endpoint once per text.
type LocalEmbedder struct {
	endpoint string
	model    string
	client   *http.Client
	dim      dimension
}

// NewLocalEmbedder creates a LocalEmbedder.
func NewLocalEmbedder(cfg EmbeddingConfig) *LocalEmbedder {
	return &LocalEmbedder{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		client:   http.DefaultClient,
		dim:      dimension{configured: cfg.Dimension},
	}
}

type localRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns one vector per text, in input order.
func (e *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var resp localResponse
		if err := postJSON(ctx, e.client, e.endpoint+"/api/embeddings", "", localRequest{Model: e.model, Prompt: text}, &resp); err != nil {
			return nil, err
		}
		vectors = append(vectors, resp.Embedding)
	}
	e.dim.observe(vectors)
	return vectors, nil
}

// Dimension returns the vector width.
func (e *LocalEmbedder) Dimension() int { return e.dim.get() }

func postJSON(ctx context.Context, client *http.Client, url, apiKey string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("embedding: API returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("embedding: decode response: %w", err)
	}
	return nil
}
