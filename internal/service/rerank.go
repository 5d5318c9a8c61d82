package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// RerankResult is one scored candidate, in submission order.
type RerankResult struct {
	Text  string  `json:"text"`
	Score float32 `json:"score"`
}

// Reranker scores a query against candidate texts with a cross-encoder.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []string) ([]RerankResult, error)
}

// RerankClient calls the external rerank service.
type RerankClient struct {
	client  *resty.Client
	baseURL string
}

// RerankClientConfig holds configuration for the rerank client.
type RerankClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewRerankClient creates a new rerank client.
func NewRerankClient(cfg *RerankClientConfig) *RerankClient {
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

	return &RerankClient{
		client:  client,
		baseURL: cfg.BaseURL,
	}
}

type rerankRequest struct {
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
}

type rerankResponse struct {
	Results []RerankResult `json:"results"`
	Detail  string         `json:"detail,omitempty"`
}

// Rerank submits the query and candidates and returns one score per
// candidate. The response list preserves the submitted order.
func (c *RerankClient) Rerank(ctx context.Context, query string, candidates []string) ([]RerankResult, error) {
	if len(candidates) == 0 {
		return []RerankResult{}, nil
	}

	var resp rerankResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(rerankRequest{Query: query, Candidates: candidates}).
		SetResult(&resp).
		Post(c.baseURL + "/rerank")
	if err != nil {
		return nil, fmt.Errorf("failed to call rerank service: %w", err)
	}

	if httpResp.StatusCode() != 200 {
		if resp.Detail != "" {
			return nil, fmt.Errorf("rerank service error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("rerank service error: status %d", httpResp.StatusCode())
	}

	if len(resp.Results) != len(candidates) {
		return nil, fmt.Errorf("unexpected number of rerank results: got %d, expected %d", len(resp.Results), len(candidates))
	}

	return resp.Results, nil
}
