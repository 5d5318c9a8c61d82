package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/merchantry/catalog/internal/domain"
	"github.com/merchantry/catalog/internal/logger"
	"github.com/merchantry/catalog/internal/repository"
)

// productNamespace is the fixed UUID namespace for product point ids. A
// point id is a pure function of the product id, so repeated upserts always
// replace the same point instead of accumulating duplicates.
var productNamespace = uuid.MustParse("7c9e2f41-8a3b-4d6c-9e01-5b2a8c4d7f13")

// VectorIndex is the similarity-searchable store of product points.
type VectorIndex interface {
	Upsert(ctx context.Context, pointID string, vector []float32, payload *repository.ProductPayload) error
	Search(ctx context.Context, vector []float32, limit int, merchantID string) ([]repository.SearchResult, error)
	Delete(ctx context.Context, pointID string) error
}

// VectorSyncer keeps the vector index consistent with the catalog store.
type VectorSyncer interface {
	UpsertProducts(ctx context.Context, products []domain.Product) error
	DeleteProduct(ctx context.Context, productID string) error
}

// VectorService embeds products and mirrors them into the vector index.
type VectorService struct {
	embedder Embedder
	index    VectorIndex
	logger   *logger.Logger
}

// NewVectorService creates a new vector synchronization service.
func NewVectorService(embedder Embedder, index VectorIndex, log *logger.Logger) *VectorService {
	return &VectorService{
		embedder: embedder,
		index:    index,
		logger:   log,
	}
}

func (s *VectorService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// PointID derives the deterministic vector point id for a product.
func PointID(productID string) string {
	return uuid.NewSHA1(productNamespace, []byte(productID)).String()
}

// BuildEmbeddingText concatenates the product's labeled fields into the
// canonical embeddable text. Field order is fixed; empty fields are omitted.
func BuildEmbeddingText(p *domain.Product) string {
	parts := make([]string, 0, 5)
	if p.Name != "" {
		parts = append(parts, "Name: "+p.Name)
	}
	if p.Description != "" {
		parts = append(parts, "Description: "+p.Description)
	}
	if p.Category != "" {
		parts = append(parts, "Category: "+p.Category)
	}
	if len(p.SpecsBlock) > 0 {
		parts = append(parts, "Specs: "+strings.Join(p.SpecsBlock, ", "))
	}
	if len(p.Keywords) > 0 {
		parts = append(parts, "Keywords: "+strings.Join(p.Keywords, ", "))
	}
	return strings.Join(parts, ". ")
}

// UpsertProducts embeds each product and upserts its point. Products in a
// batch are independent: one embedding failure is logged and skipped, never
// aborting the rest. Products with no embeddable text are skipped outright.
// Returns the last error seen so callers can record sync state.
func (s *VectorService) UpsertProducts(ctx context.Context, products []domain.Product) error {
	var lastErr error
	for i := range products {
		p := &products[i]
		text := BuildEmbeddingText(p)
		if text == "" {
			s.log(ctx).WithField(logger.FieldProductID, p.ID).
				Debug("Skipping vector upsert for product with no embeddable text")
			continue
		}

		vector, err := s.embedder.Embed(ctx, text)
		if err != nil {
			s.log(ctx).WithField(logger.FieldProductID, p.ID).
				WithError(err).Warn("Failed to embed product, skipping")
			lastErr = err
			continue
		}

		payload := &repository.ProductPayload{
			ProductID:   p.ID,
			MerchantID:  p.MerchantID,
			Name:        p.Name,
			Description: p.Description,
			Category:    p.Category,
			Price:       p.Price,
			SpecsBlock:  p.SpecsBlock,
			Keywords:    p.Keywords,
		}
		if err := s.index.Upsert(ctx, PointID(p.ID), vector, payload); err != nil {
			s.log(ctx).WithField(logger.FieldProductID, p.ID).
				WithError(err).Warn("Failed to upsert product vector, skipping")
			lastErr = err
		}
	}
	return lastErr
}

// DeleteProduct removes a product's point from the index. Used by the
// out-of-band cleanup path; normal removal leaves stale points to be dropped
// at hydration time.
func (s *VectorService) DeleteProduct(ctx context.Context, productID string) error {
	return s.index.Delete(ctx, PointID(productID))
}
