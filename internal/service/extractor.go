package service

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/merchantry/catalog/internal/domain"
)

// Extractor fetches product data from a storefront URL. Minimal-mode
// responses carry price/availability only; full-mode responses carry the
// whole descriptive record. The extraction algorithm itself is a black box.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (*domain.ScrapedProduct, error)
}

// ExtractorClient calls the external extraction service.
type ExtractorClient struct {
	client  *resty.Client
	baseURL string
}

// ExtractorClientConfig holds configuration for the extractor client.
type ExtractorClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewExtractorClient creates a new extractor client.
func NewExtractorClient(cfg *ExtractorClientConfig) *ExtractorClient {
	client := resty.New()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client.SetTimeout(timeout)

	return &ExtractorClient{
		client:  client,
		baseURL: cfg.BaseURL,
	}
}

type extractResponse struct {
	Data   *domain.ScrapedProduct `json:"data"`
	Detail string                 `json:"detail,omitempty"`
}

// Extract calls the extraction service for one URL. A timed-out call is
// indistinguishable from a failed one to the caller, by design.
func (c *ExtractorClient) Extract(ctx context.Context, rawURL string) (*domain.ScrapedProduct, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidURL, rawURL)
	}

	var resp extractResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("url", rawURL).
		SetResult(&resp).
		Get(c.baseURL + "/extract/")
	if err != nil {
		return nil, fmt.Errorf("failed to call extractor service: %w", err)
	}

	if httpResp.StatusCode() != 200 {
		if resp.Detail != "" {
			return nil, fmt.Errorf("extractor service error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("extractor service error: status %d", httpResp.StatusCode())
	}

	if resp.Data == nil {
		return nil, fmt.Errorf("extractor returned empty result for %s", rawURL)
	}

	return resp.Data, nil
}
