package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Embedder converts text into fixed-length vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingClient calls the external embedding service.
type EmbeddingClient struct {
	client  *resty.Client
	baseURL string
}

// EmbeddingClientConfig holds configuration for the embedding client.
type EmbeddingClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewEmbeddingClient creates a new embedding client.
func NewEmbeddingClient(cfg *EmbeddingClientConfig) *EmbeddingClient {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.SetTimeout(timeout)

	return &EmbeddingClient{
		client:  client,
		baseURL: cfg.BaseURL,
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Detail     string      `json:"detail,omitempty"`
}

// Embed generates an embedding for a single text.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts, order-preserving.
func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var resp embedResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(embedRequest{Texts: texts}).
		SetResult(&resp).
		Post(c.baseURL + "/embed")
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding service: %w", err)
	}

	if httpResp.StatusCode() != 200 {
		if resp.Detail != "" {
			return nil, fmt.Errorf("embedding service error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("embedding service error: status %d", httpResp.StatusCode())
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("unexpected number of embeddings: got %d, expected %d", len(resp.Embeddings), len(texts))
	}

	return resp.Embeddings, nil
}
