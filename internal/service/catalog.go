package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/merchantry/catalog/internal/domain"
	"github.com/merchantry/catalog/internal/logger"
)

// ProductStore is the durable catalog store consumed by the services.
type ProductStore interface {
	Create(ctx context.Context, product *domain.Product) error
	Save(ctx context.Context, product *domain.Product) error
	UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	GetForMerchant(ctx context.Context, id, merchantID string) (*domain.Product, error)
	GetByIDs(ctx context.Context, ids []string, merchantID string) ([]domain.Product, error)
	ListByMerchant(ctx context.Context, merchantID string, limit, offset int) ([]domain.Product, error)
	CountByMerchant(ctx context.Context, merchantID string) (int64, error)
	Delete(ctx context.Context, id, merchantID string) error
	FallbackProducts(ctx context.Context, merchantID string, limit int) ([]domain.Product, error)
	SearchByText(ctx context.Context, merchantID, query string) ([]domain.Product, error)
}

// JobQueue enqueues scrape jobs. Enqueue is fire-and-forget from the
// catalog's perspective; delivery is at-least-once.
type JobQueue interface {
	Enqueue(ctx context.Context, job domain.ScrapeJob) error
}

// CatalogService owns the product lifecycle: create, update, delete, and the
// index-synchronization triggers that follow content-relevant changes.
type CatalogService struct {
	store   ProductStore
	vectors VectorSyncer
	queue   JobQueue
	logger  *logger.Logger
}

// NewCatalogService creates a new catalog service.
func NewCatalogService(store ProductStore, vectors VectorSyncer, queue JobQueue, log *logger.Logger) *CatalogService {
	return &CatalogService{
		store:   store,
		vectors: vectors,
		queue:   queue,
		logger:  log,
	}
}

func (s *CatalogService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// CreateProductInput is the write payload for a new product.
type CreateProductInput struct {
	MerchantID  string               `json:"merchant_id"`
	OriginalURL string               `json:"original_url"`
	Platform    string               `json:"platform"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Price       float64              `json:"price"`
	IsAvailable *bool                `json:"is_available"`
	Images      []string             `json:"images"`
	Category    string               `json:"category"`
	LowQuantity string               `json:"low_quantity"`
	SpecsBlock  []string             `json:"specs_block"`
	Keywords    []string             `json:"keywords"`
	Source      domain.ProductSource `json:"source"`
	SourceURL   string               `json:"source_url"`
	ExternalID  string               `json:"external_id"`
}

// UpdateProductInput is a partial patch. Nil fields are left untouched.
// Source is deliberately absent: provenance is immutable after creation.
type UpdateProductInput struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	Price       *float64  `json:"price"`
	IsAvailable *bool     `json:"is_available"`
	Images      *[]string `json:"images"`
	Category    *string   `json:"category"`
	LowQuantity *string   `json:"low_quantity"`
	SpecsBlock  *[]string `json:"specs_block"`
	Keywords    *[]string `json:"keywords"`
	Platform    *string   `json:"platform"`
}

// Create validates and persists a new product, mirrors it into the vector
// index best-effort, and enqueues the first refresh job for non-manual
// sources. Vector or queue failures never fail the write.
func (s *CatalogService) Create(ctx context.Context, in CreateProductInput) (*domain.Product, error) {
	if !in.Source.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidSource, in.Source)
	}
	if in.Source != domain.SourceManual {
		refreshURL := in.SourceURL
		if refreshURL == "" {
			refreshURL = in.OriginalURL
		}
		if !validURL(refreshURL) {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidURL, refreshURL)
		}
	}
	if in.Source == domain.SourceAPI && in.ExternalID == "" {
		return nil, fmt.Errorf("%w: api source requires external id", domain.ErrInvalidSource)
	}

	isAvailable := true
	if in.IsAvailable != nil {
		isAvailable = *in.IsAvailable
	}

	product := &domain.Product{
		ID:          uuid.New().String(),
		MerchantID:  in.MerchantID,
		UniqueKey:   domain.BuildUniqueKey(in.MerchantID, in.Source, in.ExternalID, in.OriginalURL),
		OriginalURL: in.OriginalURL,
		Platform:    in.Platform,
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		IsAvailable: isAvailable,
		Images:      in.Images,
		Category:    in.Category,
		LowQuantity: in.LowQuantity,
		SpecsBlock:  in.SpecsBlock,
		Keywords:    in.Keywords,
		Source:      in.Source,
		SourceURL:   in.SourceURL,
		ExternalID:  in.ExternalID,
		Status:      domain.StatusActive,
		SyncStatus:  domain.SyncPending,
		ErrorState:  "",
	}

	if err := s.store.Create(ctx, product); err != nil {
		return nil, err
	}

	// Product write happens-before the vector upsert attempt happens-before
	// the scrape-job enqueue.
	s.syncVectors(ctx, product)

	if product.Source != domain.SourceManual {
		mode := domain.ScrapeModeMinimal
		if product.Source == domain.SourceAPI {
			mode = domain.ScrapeModeFull
		}
		s.enqueue(ctx, domain.ScrapeJob{
			ProductID:  product.ID,
			MerchantID: product.MerchantID,
			URL:        product.RefreshURL(),
			Mode:       mode,
		})
	}

	return product, nil
}

// Update applies a partial patch. The vector point is re-synced only when
// name, description, or category actually changed, so high-frequency
// price-only updates never hit the embedding service.
func (s *CatalogService) Update(ctx context.Context, id, merchantID string, patch UpdateProductInput) (*domain.Product, error) {
	product, err := s.store.GetForMerchant(ctx, id, merchantID)
	if err != nil {
		return nil, err
	}

	prevName, prevDescription, prevCategory := product.Name, product.Description, product.Category

	applyPatch(product, patch)

	if err := s.store.Save(ctx, product); err != nil {
		return nil, err
	}

	if product.Name != prevName || product.Description != prevDescription || product.Category != prevCategory {
		s.syncVectors(ctx, product)
	}

	return product, nil
}

func applyPatch(p *domain.Product, patch UpdateProductInput) {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.IsAvailable != nil {
		p.IsAvailable = *patch.IsAvailable
	}
	if patch.Images != nil {
		p.Images = *patch.Images
	}
	if patch.Category != nil {
		p.Category = *patch.Category
	}
	if patch.LowQuantity != nil {
		p.LowQuantity = *patch.LowQuantity
	}
	if patch.SpecsBlock != nil {
		p.SpecsBlock = *patch.SpecsBlock
	}
	if patch.Keywords != nil {
		p.Keywords = *patch.Keywords
	}
	if patch.Platform != nil {
		p.Platform = *patch.Platform
	}
}

// UpdateAfterScrape is the worker write-back path. Minimal results touch
// price/availability/timestamps only; full results replace the descriptive
// field set. Failed scrapes record the error and the attempt time, nothing
// else. The same change-detection rule as Update gates re-embedding.
func (s *CatalogService) UpdateAfterScrape(ctx context.Context, productID string, result domain.ScrapeResult) (*domain.Product, error) {
	product, err := s.store.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	if result.ErrorState != "" {
		fields := map[string]interface{}{
			"error_state":     result.ErrorState,
			"last_fetched_at": result.FetchedAt,
		}
		if err := s.store.UpdateFields(ctx, productID, fields); err != nil {
			return nil, err
		}
		product.ErrorState = result.ErrorState
		product.LastFetchedAt = &result.FetchedAt
		return product, nil
	}

	prevName, prevDescription, prevCategory := product.Name, product.Description, product.Category

	scraped := result.Scraped
	product.Price = scraped.Price
	product.IsAvailable = scraped.IsAvailable
	product.LastFetchedAt = &result.FetchedAt
	product.ErrorState = ""

	if result.Mode == domain.ScrapeModeFull {
		product.Name = scraped.Name
		product.Description = scraped.Description
		product.Category = scraped.Category
		product.Images = scraped.Images
		product.LowQuantity = scraped.LowQuantity
		product.SpecsBlock = scraped.SpecsBlock
		product.Platform = scraped.Platform
		product.LastFullScrapedAt = result.FullScrapedAt
	}

	if err := s.store.Save(ctx, product); err != nil {
		return nil, err
	}

	if product.Name != prevName || product.Description != prevDescription || product.Category != prevCategory {
		s.syncVectors(ctx, product)
	}

	return product, nil
}

// Remove deletes the product row. The corresponding vector point is cleaned
// up out-of-band; a stale hit simply drops out at hydration time.
func (s *CatalogService) Remove(ctx context.Context, id, merchantID string) error {
	return s.store.Delete(ctx, id, merchantID)
}

// Get retrieves one product scoped to a merchant.
func (s *CatalogService) Get(ctx context.Context, id, merchantID string) (*domain.Product, error) {
	return s.store.GetForMerchant(ctx, id, merchantID)
}

// List returns a merchant's products with pagination.
func (s *CatalogService) List(ctx context.Context, merchantID string, limit, offset int) ([]domain.Product, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListByMerchant(ctx, merchantID, limit, offset)
}

// Count returns the number of products a merchant owns.
func (s *CatalogService) Count(ctx context.Context, merchantID string) (int64, error) {
	return s.store.CountByMerchant(ctx, merchantID)
}

// SetAvailability flips the availability flag without touching anything else.
func (s *CatalogService) SetAvailability(ctx context.Context, id, merchantID string, isAvailable bool) (*domain.Product, error) {
	product, err := s.store.GetForMerchant(ctx, id, merchantID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateFields(ctx, id, map[string]interface{}{"is_available": isAvailable}); err != nil {
		return nil, err
	}
	product.IsAvailable = isAvailable
	return product, nil
}

// TriggerSync enqueues an on-demand full refresh for one product. Manual
// products are rejected; they have no upstream to refresh from.
func (s *CatalogService) TriggerSync(ctx context.Context, id, merchantID string) (*domain.Product, error) {
	product, err := s.store.GetForMerchant(ctx, id, merchantID)
	if err != nil {
		return nil, err
	}
	if product.Source == domain.SourceManual {
		return nil, domain.ErrManualProduct
	}

	s.enqueue(ctx, domain.ScrapeJob{
		ProductID:  product.ID,
		MerchantID: product.MerchantID,
		URL:        product.RefreshURL(),
		Mode:       domain.ScrapeModeFull,
	})

	return product, nil
}

// SearchByText is the keyword fallback used when embeddings are unavailable.
// It is independent of the semantic retrieval path and exists so the agent
// can still find products during a vector index outage.
func (s *CatalogService) SearchByText(ctx context.Context, merchantID, query string) ([]domain.Product, error) {
	return s.store.SearchByText(ctx, merchantID, NormalizeQuery(query))
}

// FallbackProducts returns recently refreshed available products, shown when
// search yields nothing at all.
func (s *CatalogService) FallbackProducts(ctx context.Context, merchantID string, limit int) ([]domain.Product, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	return s.store.FallbackProducts(ctx, merchantID, limit)
}

// syncVectors mirrors one product into the vector index and records the
// outcome on the row. Failures are swallowed: the product stays visible via
// the keyword fallback and the next successful write re-syncs the point.
func (s *CatalogService) syncVectors(ctx context.Context, product *domain.Product) {
	status := domain.SyncOK
	if err := s.vectors.UpsertProducts(ctx, []domain.Product{*product}); err != nil {
		s.log(ctx).WithField(logger.FieldProductID, product.ID).
			WithError(err).Warn("Vector sync failed, product remains keyword-searchable")
		status = domain.SyncError
	}
	if err := s.store.UpdateFields(ctx, product.ID, map[string]interface{}{"sync_status": status}); err != nil {
		s.log(ctx).WithField(logger.FieldProductID, product.ID).
			WithError(err).Warn("Failed to record sync status")
		return
	}
	product.SyncStatus = status
}

func (s *CatalogService) enqueue(ctx context.Context, job domain.ScrapeJob) {
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.log(ctx).WithFields(logger.Fields{
			logger.FieldProductID: job.ProductID,
			logger.FieldJobMode:   string(job.Mode),
		}).WithError(err).Error("Failed to enqueue scrape job")
	}
}

// fillerWords are interrogative tokens stripped before the keyword cascade.
// Customers phrase catalog questions conversationally; the filler carries no
// retrieval signal.
var fillerWords = map[string]struct{}{
	"do": {}, "you": {}, "have": {}, "any": {}, "is": {}, "there": {},
	"a": {}, "an": {}, "the": {}, "please": {}, "i": {}, "need": {},
	"want": {}, "looking": {}, "for": {},
}

// NormalizeQuery lowercases, strips question punctuation and filler words,
// and collapses whitespace. An all-filler query falls back to the bare
// lowercased input so the cascade still has something to match.
func NormalizeQuery(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	lowered = strings.Map(func(r rune) rune {
		switch r {
		case '?', '¿', '؟', '!':
			return -1
		}
		return r
	}, lowered)

	fields := strings.Fields(lowered)
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := fillerWords[f]; ok {
			continue
		}
		kept = append(kept, f)
	}
	if len(kept) == 0 {
		return strings.Join(fields, " ")
	}
	return strings.Join(kept, " ")
}

func validURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
