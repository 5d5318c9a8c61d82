package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/merchantry/catalog/internal/domain"
	"github.com/merchantry/catalog/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Output: io.Discard})
}

// fakeStore is an in-memory ProductStore.
type fakeStore struct {
	products map[string]*domain.Product
	keys     map[string]bool

	fieldWrites []map[string]interface{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products: make(map[string]*domain.Product),
		keys:     make(map[string]bool),
	}
}

func (s *fakeStore) Create(ctx context.Context, p *domain.Product) error {
	if s.keys[p.UniqueKey] {
		return domain.ErrDuplicateProduct
	}
	s.keys[p.UniqueKey] = true
	clone := *p
	s.products[p.ID] = &clone
	return nil
}

func (s *fakeStore) Save(ctx context.Context, p *domain.Product) error {
	clone := *p
	s.products[p.ID] = &clone
	return nil
}

func (s *fakeStore) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	p, ok := s.products[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.fieldWrites = append(s.fieldWrites, fields)
	if v, ok := fields["sync_status"]; ok {
		p.SyncStatus = v.(domain.SyncStatus)
	}
	if v, ok := fields["error_state"]; ok {
		p.ErrorState = v.(string)
	}
	if v, ok := fields["last_fetched_at"]; ok {
		ts := v.(time.Time)
		p.LastFetchedAt = &ts
	}
	if v, ok := fields["is_available"]; ok {
		p.IsAvailable = v.(bool)
	}
	return nil
}

func (s *fakeStore) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *fakeStore) GetForMerchant(ctx context.Context, id, merchantID string) (*domain.Product, error) {
	p, ok := s.products[id]
	if !ok || p.MerchantID != merchantID {
		return nil, domain.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (s *fakeStore) GetByIDs(ctx context.Context, ids []string, merchantID string) ([]domain.Product, error) {
	out := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.MerchantID == merchantID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeStore) ListByMerchant(ctx context.Context, merchantID string, limit, offset int) ([]domain.Product, error) {
	var out []domain.Product
	for _, p := range s.products {
		if p.MerchantID == merchantID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeStore) CountByMerchant(ctx context.Context, merchantID string) (int64, error) {
	var n int64
	for _, p := range s.products {
		if p.MerchantID == merchantID {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Delete(ctx context.Context, id, merchantID string) error {
	p, ok := s.products[id]
	if !ok || p.MerchantID != merchantID {
		return domain.ErrNotFound
	}
	delete(s.keys, p.UniqueKey)
	delete(s.products, id)
	return nil
}

func (s *fakeStore) FallbackProducts(ctx context.Context, merchantID string, limit int) ([]domain.Product, error) {
	var out []domain.Product
	for _, p := range s.products {
		if p.MerchantID == merchantID && p.IsAvailable {
			out = append(out, *p)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) SearchByText(ctx context.Context, merchantID, query string) ([]domain.Product, error) {
	return nil, nil
}

// fakeSyncer records UpsertProducts calls.
type fakeSyncer struct {
	upserted []string
	err      error
}

func (f *fakeSyncer) UpsertProducts(ctx context.Context, products []domain.Product) error {
	for _, p := range products {
		f.upserted = append(f.upserted, p.ID)
	}
	return f.err
}

func (f *fakeSyncer) DeleteProduct(ctx context.Context, productID string) error {
	return nil
}

// fakeJobQueue records enqueued jobs.
type fakeJobQueue struct {
	jobs []domain.ScrapeJob
	err  error
}

func (f *fakeJobQueue) Enqueue(ctx context.Context, job domain.ScrapeJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func newCatalog() (*CatalogService, *fakeStore, *fakeSyncer, *fakeJobQueue) {
	store := newFakeStore()
	syncer := &fakeSyncer{}
	queue := &fakeJobQueue{}
	return NewCatalogService(store, syncer, queue, testLogger()), store, syncer, queue
}

func strPtr(s string) *string   { return &s }
func f64Ptr(f float64) *float64 { return &f }

func TestCreateValidation(t *testing.T) {
	testCases := []struct {
		name    string
		input   CreateProductInput
		wantErr error
	}{
		{
			name:    "unknown source",
			input:   CreateProductInput{MerchantID: "m1", Source: "imported"},
			wantErr: domain.ErrInvalidSource,
		},
		{
			name:    "scraper source without valid url",
			input:   CreateProductInput{MerchantID: "m1", Source: domain.SourceScraper, OriginalURL: "not-a-url"},
			wantErr: domain.ErrInvalidURL,
		},
		{
			name:    "api source without external id",
			input:   CreateProductInput{MerchantID: "m1", Source: domain.SourceAPI, OriginalURL: "https://shop.example/p/1"},
			wantErr: domain.ErrInvalidSource,
		},
		{
			name:  "manual source needs no url",
			input: CreateProductInput{MerchantID: "m1", Source: domain.SourceManual, Name: "Mug"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, _, _ := newCatalog()
			_, err := svc.Create(context.Background(), tc.input)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("got error %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestCreateDuplicateRejected(t *testing.T) {
	svc, _, _, _ := newCatalog()

	in := CreateProductInput{
		MerchantID:  "m1",
		Source:      domain.SourceScraper,
		OriginalURL: "https://shop.example/p/1",
		Name:        "Mug",
	}
	if _, err := svc.Create(context.Background(), in); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := svc.Create(context.Background(), in); !errors.Is(err, domain.ErrDuplicateProduct) {
		t.Errorf("got error %v, want ErrDuplicateProduct", err)
	}

	// Same URL under a different merchant is a different unique key.
	in.MerchantID = "m2"
	if _, err := svc.Create(context.Background(), in); err != nil {
		t.Errorf("cross-merchant create failed: %v", err)
	}
}

func TestCreateEnqueuesBySource(t *testing.T) {
	testCases := []struct {
		name     string
		input    CreateProductInput
		wantJobs int
		wantMode domain.ScrapeMode
	}{
		{
			name: "manual never enqueues",
			input: CreateProductInput{
				MerchantID: "m1", Source: domain.SourceManual, Name: "Mug",
			},
			wantJobs: 0,
		},
		{
			name: "scraper enqueues minimal",
			input: CreateProductInput{
				MerchantID: "m1", Source: domain.SourceScraper,
				OriginalURL: "https://shop.example/p/1", Name: "Mug",
			},
			wantJobs: 1,
			wantMode: domain.ScrapeModeMinimal,
		},
		{
			name: "api enqueues full",
			input: CreateProductInput{
				MerchantID: "m1", Source: domain.SourceAPI, ExternalID: "sku-9",
				OriginalURL: "https://shop.example/p/1", Name: "Mug",
			},
			wantJobs: 1,
			wantMode: domain.ScrapeModeFull,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, syncer, queue := newCatalog()
			product, err := svc.Create(context.Background(), tc.input)
			if err != nil {
				t.Fatalf("create failed: %v", err)
			}

			if len(queue.jobs) != tc.wantJobs {
				t.Fatalf("got %d jobs, want %d", len(queue.jobs), tc.wantJobs)
			}
			if tc.wantJobs > 0 {
				job := queue.jobs[0]
				if job.Mode != tc.wantMode {
					t.Errorf("got mode %q, want %q", job.Mode, tc.wantMode)
				}
				if job.ProductID != product.ID {
					t.Errorf("job references product %q, want %q", job.ProductID, product.ID)
				}
			}

			// Every create attempts a vector sync.
			if len(syncer.upserted) != 1 {
				t.Errorf("expected 1 vector upsert, got %d", len(syncer.upserted))
			}
			if product.SyncStatus != domain.SyncOK {
				t.Errorf("got sync status %q, want ok", product.SyncStatus)
			}
		})
	}
}

func TestCreateSurvivesVectorAndQueueFailure(t *testing.T) {
	store := newFakeStore()
	syncer := &fakeSyncer{err: fmt.Errorf("qdrant down")}
	queue := &fakeJobQueue{err: fmt.Errorf("broker down")}
	svc := NewCatalogService(store, syncer, queue, testLogger())

	product, err := svc.Create(context.Background(), CreateProductInput{
		MerchantID: "m1", Source: domain.SourceScraper,
		OriginalURL: "https://shop.example/p/1", Name: "Mug",
	})
	if err != nil {
		t.Fatalf("create should succeed despite downstream failures: %v", err)
	}
	if product.SyncStatus != domain.SyncError {
		t.Errorf("got sync status %q, want error", product.SyncStatus)
	}
	if _, err := store.GetByID(context.Background(), product.ID); err != nil {
		t.Errorf("product row should exist: %v", err)
	}
}

func TestUpdateChangeDetection(t *testing.T) {
	testCases := []struct {
		name      string
		patch     UpdateProductInput
		wantSyncs int
	}{
		{
			name:      "price only change skips re-embedding",
			patch:     UpdateProductInput{Price: f64Ptr(42)},
			wantSyncs: 0,
		},
		{
			name:      "description change re-embeds",
			patch:     UpdateProductInput{Description: strPtr("now hand painted")},
			wantSyncs: 1,
		},
		{
			name:      "name set to same value skips re-embedding",
			patch:     UpdateProductInput{Name: strPtr("Mug")},
			wantSyncs: 0,
		},
		{
			name:      "category change re-embeds",
			patch:     UpdateProductInput{Category: strPtr("Kitchen")},
			wantSyncs: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, syncer, _ := newCatalog()
			product, err := svc.Create(context.Background(), CreateProductInput{
				MerchantID: "m1", Source: domain.SourceManual, Name: "Mug", Price: 10,
			})
			if err != nil {
				t.Fatalf("create failed: %v", err)
			}
			syncer.upserted = nil

			if _, err := svc.Update(context.Background(), product.ID, "m1", tc.patch); err != nil {
				t.Fatalf("update failed: %v", err)
			}
			if len(syncer.upserted) != tc.wantSyncs {
				t.Errorf("got %d vector syncs, want %d", len(syncer.upserted), tc.wantSyncs)
			}
		})
	}
}

func TestUpdateWrongMerchant(t *testing.T) {
	svc, _, _, _ := newCatalog()
	product, err := svc.Create(context.Background(), CreateProductInput{
		MerchantID: "m1", Source: domain.SourceManual, Name: "Mug",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := svc.Update(context.Background(), product.ID, "m2", UpdateProductInput{Price: f64Ptr(1)}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound for foreign merchant", err)
	}
}

func TestUpdateAfterScrapeMinimal(t *testing.T) {
	svc, store, syncer, _ := newCatalog()
	product, err := svc.Create(context.Background(), CreateProductInput{
		MerchantID: "m1", Source: domain.SourceScraper,
		OriginalURL: "https://shop.example/p/1",
		Name:        "Mug", Description: "Ceramic mug", Category: "Kitchen", Price: 10,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	syncer.upserted = nil

	now := time.Now().UTC()
	_, err = svc.UpdateAfterScrape(context.Background(), product.ID, domain.ScrapeResult{
		Mode:      domain.ScrapeModeMinimal,
		FetchedAt: now,
		Scraped:   &domain.ScrapedProduct{Price: 12.5, IsAvailable: false},
	})
	if err != nil {
		t.Fatalf("update after scrape failed: %v", err)
	}

	got, _ := store.GetByID(context.Background(), product.ID)
	if got.Price != 12.5 || got.IsAvailable {
		t.Errorf("minimal scrape should update price and availability, got price=%v available=%v", got.Price, got.IsAvailable)
	}
	if got.Name != "Mug" || got.Description != "Ceramic mug" || got.Category != "Kitchen" {
		t.Error("minimal scrape must not touch descriptive fields")
	}
	if got.LastFetchedAt == nil || !got.LastFetchedAt.Equal(now) {
		t.Errorf("last_fetched_at not recorded: %v", got.LastFetchedAt)
	}
	if got.LastFullScrapedAt != nil {
		t.Error("minimal scrape must not set last_full_scraped_at")
	}
	if len(syncer.upserted) != 0 {
		t.Errorf("price-only refresh should skip re-embedding, got %d syncs", len(syncer.upserted))
	}
}

func TestUpdateAfterScrapeFull(t *testing.T) {
	svc, store, syncer, _ := newCatalog()
	product, err := svc.Create(context.Background(), CreateProductInput{
		MerchantID: "m1", Source: domain.SourceScraper,
		OriginalURL: "https://shop.example/p/1",
		Name:        "Mug", Price: 10,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	syncer.upserted = nil

	now := time.Now().UTC()
	_, err = svc.UpdateAfterScrape(context.Background(), product.ID, domain.ScrapeResult{
		Mode:          domain.ScrapeModeFull,
		FetchedAt:     now,
		FullScrapedAt: &now,
		Scraped: &domain.ScrapedProduct{
			Price:       15,
			IsAvailable: true,
			Name:        "Stoneware Mug",
			Description: "Speckled stoneware",
			Category:    "Kitchen",
			Images:      []string{"https://img.example/1.jpg"},
			SpecsBlock:  []string{"350ml"},
			Platform:    "shopify",
		},
	})
	if err != nil {
		t.Fatalf("update after scrape failed: %v", err)
	}

	got, _ := store.GetByID(context.Background(), product.ID)
	if got.Name != "Stoneware Mug" || got.Description != "Speckled stoneware" || got.Platform != "shopify" {
		t.Errorf("full scrape should replace descriptive fields, got %+v", got)
	}
	if got.LastFullScrapedAt == nil {
		t.Error("full scrape should set last_full_scraped_at")
	}
	if len(syncer.upserted) != 1 {
		t.Errorf("changed name should trigger re-embedding, got %d syncs", len(syncer.upserted))
	}
}

func TestUpdateAfterScrapeFailure(t *testing.T) {
	svc, store, _, _ := newCatalog()
	product, err := svc.Create(context.Background(), CreateProductInput{
		MerchantID: "m1", Source: domain.SourceScraper,
		OriginalURL: "https://shop.example/p/1",
		Name:        "Mug", Price: 10,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	now := time.Now().UTC()
	_, err = svc.UpdateAfterScrape(context.Background(), product.ID, domain.ScrapeResult{
		Mode:       domain.ScrapeModeMinimal,
		FetchedAt:  now,
		ErrorState: "fetch timeout",
	})
	if err != nil {
		t.Fatalf("recording failure should not error: %v", err)
	}

	got, _ := store.GetByID(context.Background(), product.ID)
	if got.ErrorState != "fetch timeout" {
		t.Errorf("got error state %q, want %q", got.ErrorState, "fetch timeout")
	}
	if got.LastFetchedAt == nil {
		t.Error("failed scrape still records the attempt time")
	}
	if got.Price != 10 || got.Name != "Mug" {
		t.Error("failed scrape must not touch product data")
	}
}

func TestTriggerSyncRejectsManual(t *testing.T) {
	svc, _, _, queue := newCatalog()
	product, err := svc.Create(context.Background(), CreateProductInput{
		MerchantID: "m1", Source: domain.SourceManual, Name: "Mug",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := svc.TriggerSync(context.Background(), product.ID, "m1"); !errors.Is(err, domain.ErrManualProduct) {
		t.Errorf("got %v, want ErrManualProduct", err)
	}
	if len(queue.jobs) != 0 {
		t.Errorf("manual product must never be enqueued, got %d jobs", len(queue.jobs))
	}
}

func TestTriggerSyncEnqueuesFull(t *testing.T) {
	svc, _, _, queue := newCatalog()
	product, err := svc.Create(context.Background(), CreateProductInput{
		MerchantID: "m1", Source: domain.SourceScraper,
		OriginalURL: "https://shop.example/p/1",
		SourceURL:   "https://feed.example/p/1",
		Name:        "Mug",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	queue.jobs = nil

	if _, err := svc.TriggerSync(context.Background(), product.ID, "m1"); err != nil {
		t.Fatalf("trigger sync failed: %v", err)
	}
	if len(queue.jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(queue.jobs))
	}
	job := queue.jobs[0]
	if job.Mode != domain.ScrapeModeFull {
		t.Errorf("got mode %q, want full", job.Mode)
	}
	if job.URL != "https://feed.example/p/1" {
		t.Errorf("job should prefer source_url, got %q", job.URL)
	}
}

func TestNormalizeQuery(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "fillers stripped", input: "Do you have a blue mug?", want: "blue mug"},
		{name: "punctuation stripped", input: "blue mug!?؟¿", want: "blue mug"},
		{name: "all fillers falls back to bare input", input: "Do you have any?", want: "do you have any"},
		{name: "whitespace collapsed", input: "  blue   mug  ", want: "blue mug"},
		{name: "empty stays empty", input: "", want: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeQuery(tc.input)
			if got != tc.want {
				t.Errorf("NormalizeQuery(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}
