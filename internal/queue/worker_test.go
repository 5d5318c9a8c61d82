package queue

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/merchantry/catalog/internal/domain"
	"github.com/merchantry/catalog/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Output: io.Discard})
}

// fakeExtractor serves canned results per URL.
type fakeExtractor struct {
	results map[string]*domain.ScrapedProduct
	errFor  map[string]error
}

func (f *fakeExtractor) Extract(ctx context.Context, rawURL string) (*domain.ScrapedProduct, error) {
	if err, ok := f.errFor[rawURL]; ok {
		return nil, err
	}
	if r, ok := f.results[rawURL]; ok {
		clone := *r
		return &clone, nil
	}
	return nil, fmt.Errorf("no fixture for %s", rawURL)
}

// fakeUpdater records write-backs per product.
type fakeUpdater struct {
	mu      sync.Mutex
	results map[string]domain.ScrapeResult
}

func newFakeUpdater() *fakeUpdater {
	return &fakeUpdater{results: make(map[string]domain.ScrapeResult)}
}

func (f *fakeUpdater) UpdateAfterScrape(ctx context.Context, productID string, result domain.ScrapeResult) (*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[productID] = result
	return &domain.Product{ID: productID}, nil
}

func (f *fakeUpdater) get(productID string) (domain.ScrapeResult, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[productID]
	return r, ok
}

// fakeMirror rewrites every URL to a mirrored variant.
type fakeMirror struct {
	calls int
}

func (f *fakeMirror) Mirror(ctx context.Context, productID string, urls []string) []string {
	f.calls++
	out := make([]string, len(urls))
	for i, u := range urls {
		out[i] = "mirror://" + u
	}
	return out
}

// runJobs pushes jobs through a pool and waits for the workers to drain.
func runJobs(t *testing.T, pool *WorkerPool, q *MemoryQueue, jobs ...domain.ScrapeJob) {
	t.Helper()
	ctx := context.Background()
	for _, job := range jobs {
		if err := q.Enqueue(ctx, job); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
	q.Close()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	pool.Wait()
}

func TestWorkerMinimalJobStripsDescriptiveFields(t *testing.T) {
	extractor := &fakeExtractor{results: map[string]*domain.ScrapedProduct{
		"https://shop.example/p/1": {
			Price:       29.9,
			IsAvailable: true,
			Name:        "Updated Name",
			Description: "Updated description",
			Images:      []string{"https://img.example/1.jpg"},
		},
	}}
	updater := newFakeUpdater()
	q := NewMemoryQueue(8)
	pool := NewWorkerPool(q, extractor, updater, nil, testLogger(), &WorkerPoolConfig{Workers: 2})

	runJobs(t, pool, q, domain.ScrapeJob{
		ProductID: "p1", MerchantID: "m1",
		URL: "https://shop.example/p/1", Mode: domain.ScrapeModeMinimal,
	})

	result, ok := updater.get("p1")
	if !ok {
		t.Fatal("no write-back recorded")
	}
	if result.Scraped.Price != 29.9 || !result.Scraped.IsAvailable {
		t.Errorf("price/availability not carried: %+v", result.Scraped)
	}
	if result.Scraped.Name != "" || result.Scraped.Description != "" || len(result.Scraped.Images) != 0 {
		t.Errorf("minimal job must strip descriptive fields, got %+v", result.Scraped)
	}
	if result.FullScrapedAt != nil {
		t.Error("minimal job must not set FullScrapedAt")
	}
}

func TestWorkerFullJobCarriesEverything(t *testing.T) {
	extractor := &fakeExtractor{results: map[string]*domain.ScrapedProduct{
		"https://shop.example/p/1": {
			Price:       29.9,
			IsAvailable: true,
			Name:        "Stoneware Mug",
			Description: "Speckled stoneware",
			Category:    "Kitchen",
			Images:      []string{"https://img.example/1.jpg"},
		},
	}}
	updater := newFakeUpdater()
	mirror := &fakeMirror{}
	q := NewMemoryQueue(8)
	pool := NewWorkerPool(q, extractor, updater, mirror, testLogger(), &WorkerPoolConfig{Workers: 1})

	runJobs(t, pool, q, domain.ScrapeJob{
		ProductID: "p1", MerchantID: "m1",
		URL: "https://shop.example/p/1", Mode: domain.ScrapeModeFull,
	})

	result, ok := updater.get("p1")
	if !ok {
		t.Fatal("no write-back recorded")
	}
	if result.Scraped.Name != "Stoneware Mug" || result.Scraped.Category != "Kitchen" {
		t.Errorf("full job should carry the whole record, got %+v", result.Scraped)
	}
	if result.FullScrapedAt == nil {
		t.Error("full job must set FullScrapedAt")
	}
	if mirror.calls != 1 {
		t.Errorf("mirror should run once, ran %d times", mirror.calls)
	}
	if len(result.Scraped.Images) != 1 || result.Scraped.Images[0] != "mirror://https://img.example/1.jpg" {
		t.Errorf("images should be rewritten to mirrored URLs, got %v", result.Scraped.Images)
	}
}

func TestWorkerExtractionFailureRecordsErrorOnly(t *testing.T) {
	extractor := &fakeExtractor{errFor: map[string]error{
		"https://shop.example/p/1": fmt.Errorf("fetch timeout"),
	}}
	updater := newFakeUpdater()
	q := NewMemoryQueue(8)
	pool := NewWorkerPool(q, extractor, updater, nil, testLogger(), &WorkerPoolConfig{Workers: 1})

	runJobs(t, pool, q, domain.ScrapeJob{
		ProductID: "p1", MerchantID: "m1",
		URL: "https://shop.example/p/1", Mode: domain.ScrapeModeMinimal,
	})

	result, ok := updater.get("p1")
	if !ok {
		t.Fatal("failure must still be written back")
	}
	if result.ErrorState != "fetch timeout" {
		t.Errorf("got error state %q, want %q", result.ErrorState, "fetch timeout")
	}
	if result.Scraped != nil {
		t.Error("failed job must not carry scraped data")
	}
	if result.FetchedAt.IsZero() {
		t.Error("failed job still records the attempt time")
	}

	processed, failed := pool.Stats()
	if processed != 0 || failed != 1 {
		t.Errorf("stats processed=%d failed=%d, want 0/1", processed, failed)
	}
}

func TestWorkerRejectsMalformedJob(t *testing.T) {
	updater := newFakeUpdater()
	q := NewMemoryQueue(8)
	pool := NewWorkerPool(q, &fakeExtractor{}, updater, nil, testLogger(), &WorkerPoolConfig{Workers: 1})

	runJobs(t, pool, q,
		domain.ScrapeJob{ProductID: "", URL: "https://shop.example/p/1", Mode: domain.ScrapeModeMinimal},
		domain.ScrapeJob{ProductID: "p1", URL: "https://shop.example/p/1", Mode: "purge"},
	)

	if len(updater.results) != 0 {
		t.Errorf("malformed jobs must not reach the catalog, got %d write-backs", len(updater.results))
	}
	_, failed := pool.Stats()
	if failed != 2 {
		t.Errorf("got %d failed, want 2", failed)
	}
}
