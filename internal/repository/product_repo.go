package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/merchantry/catalog/internal/domain"
	"github.com/merchantry/catalog/internal/logger"
	"gorm.io/gorm"
)

const searchResultLimit = 10

// ProductRepository handles catalog store operations.
type ProductRepository struct {
	db *gorm.DB
}

// NewProductRepository creates a new ProductRepository.
func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Create inserts a new product record. Returns domain.ErrDuplicateProduct
// when the uniqueKey collides with an existing row.
func (r *ProductRepository) Create(ctx context.Context, product *domain.Product) error {
	err := r.db.WithContext(ctx).Create(product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return domain.ErrDuplicateProduct
		}
		return err
	}
	return nil
}

// Save persists all fields of an existing product (last write wins).
func (r *ProductRepository) Save(ctx context.Context, product *domain.Product) error {
	return r.db.WithContext(ctx).Save(product).Error
}

// UpdateFields applies a partial column update to one product.
func (r *ProductRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&domain.Product{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a product by its ID.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

// GetForMerchant retrieves a product scoped to one merchant.
func (r *ProductRepository) GetForMerchant(ctx context.Context, id, merchantID string) (*domain.Product, error) {
	var product domain.Product
	err := r.db.WithContext(ctx).
		First(&product, "id = ? AND merchant_id = ?", id, merchantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

// GetByIDs retrieves products by ID list scoped to one merchant. Missing ids
// are silently absent from the result.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string, merchantID string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return []domain.Product{}, nil
	}
	var products []domain.Product
	err := r.db.WithContext(ctx).
		Where("id IN ? AND merchant_id = ?", ids, merchantID).
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

// ListByMerchant retrieves a merchant's products with pagination.
func (r *ProductRepository) ListByMerchant(ctx context.Context, merchantID string, limit, offset int) ([]domain.Product, error) {
	var products []domain.Product
	err := r.db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

// CountByMerchant returns the number of products a merchant owns.
func (r *ProductRepository) CountByMerchant(ctx context.Context, merchantID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Product{}).
		Where("merchant_id = ?", merchantID).
		Count(&count).Error
	return count, err
}

// Delete removes a product scoped to one merchant.
func (r *ProductRepository) Delete(ctx context.Context, id, merchantID string) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND merchant_id = ?", id, merchantID).
		Delete(&domain.Product{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRefreshCandidates returns non-manual products whose last fetch is
// missing or older than the cutoff. Used by the minimal-refresh sweep.
func (r *ProductRepository) ListRefreshCandidates(ctx context.Context, cutoff time.Time) ([]domain.Product, error) {
	var products []domain.Product
	err := r.db.WithContext(ctx).
		Select("id", "merchant_id", "source_url", "original_url", "last_fetched_at").
		Where("source IN ?", []domain.ProductSource{domain.SourceAPI, domain.SourceScraper}).
		Where("last_fetched_at IS NULL OR last_fetched_at < ?", cutoff).
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

// ListNonManual returns every externally sourced product. Used by the
// full-refresh sweep, which enqueues unconditionally.
func (r *ProductRepository) ListNonManual(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	err := r.db.WithContext(ctx).
		Select("id", "merchant_id", "source_url", "original_url").
		Where("source IN ?", []domain.ProductSource{domain.SourceAPI, domain.SourceScraper}).
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

// ListAll iterates the whole catalog in pages. Used by cmd/resync.
func (r *ProductRepository) ListAll(ctx context.Context, limit, offset int) ([]domain.Product, error) {
	var products []domain.Product
	err := r.db.WithContext(ctx).
		Order("id").
		Limit(limit).
		Offset(offset).
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

// FallbackProducts returns the most recently refreshed available products.
// The conversational agent shows these when search comes back empty.
func (r *ProductRepository) FallbackProducts(ctx context.Context, merchantID string, limit int) ([]domain.Product, error) {
	var products []domain.Product
	err := r.db.WithContext(ctx).
		Where("merchant_id = ? AND is_available = ?", merchantID, true).
		Order("last_fetched_at DESC").
		Limit(limit).
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

// SearchByText is the non-semantic fallback used when the vector index is
// unavailable. It cascades through three tiers and stops at the first one
// that yields results:
//
//  1. substring match on name/description/category plus exact keyword match
//  2. full-text rank (Postgres tsvector; absence of the capability is
//     tolerated and logged, not fatal)
//  3. per-token substring match
//
// The query is expected to be pre-normalized by the caller.
func (r *ProductRepository) SearchByText(ctx context.Context, merchantID, query string) ([]domain.Product, error) {
	if strings.TrimSpace(query) == "" {
		return []domain.Product{}, nil
	}

	products, err := r.substringMatch(ctx, merchantID, query)
	if err != nil {
		return nil, err
	}
	if len(products) > 0 {
		return products, nil
	}

	products, err = r.fullTextMatch(ctx, merchantID, query)
	if err != nil {
		// Full-text search needs Postgres; treat failure as "tier empty".
		logger.CtxWarn(ctx, "Full-text search unavailable, falling through: error=%v", err)
	} else if len(products) > 0 {
		return products, nil
	}

	return r.tokenMatch(ctx, merchantID, query)
}

func (r *ProductRepository) substringMatch(ctx context.Context, merchantID, query string) ([]domain.Product, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	// Exact keyword membership: keywords is a JSON-encoded array, so a
	// quoted token match finds whole entries only.
	keywordPattern := "%" + fmt.Sprintf("%q", strings.ToLower(query)) + "%"

	var products []domain.Product
	err := r.db.WithContext(ctx).
		Where("merchant_id = ? AND is_available = ?", merchantID, true).
		Where(
			r.db.Where("LOWER(name) LIKE ?", pattern).
				Or("LOWER(description) LIKE ?", pattern).
				Or("LOWER(category) LIKE ?", pattern).
				Or("LOWER(keywords) LIKE ?", keywordPattern),
		).
		Limit(searchResultLimit).
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (r *ProductRepository) fullTextMatch(ctx context.Context, merchantID, query string) ([]domain.Product, error) {
	var products []domain.Product
	err := r.db.WithContext(ctx).Raw(`
		SELECT * FROM products
		WHERE merchant_id = ? AND is_available = ?
		  AND to_tsvector('simple', coalesce(name,'') || ' ' || coalesce(description,'')) @@ plainto_tsquery('simple', ?)
		ORDER BY ts_rank(
		  to_tsvector('simple', coalesce(name,'') || ' ' || coalesce(description,'')),
		  plainto_tsquery('simple', ?)
		) DESC
		LIMIT ?`,
		merchantID, true, query, query, searchResultLimit,
	).Scan(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (r *ProductRepository) tokenMatch(ctx context.Context, merchantID, query string) ([]domain.Product, error) {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return []domain.Product{}, nil
	}

	cond := r.db.Where("1 = 0")
	for _, token := range tokens {
		pattern := "%" + token + "%"
		keywordPattern := "%" + fmt.Sprintf("%q", token) + "%"
		cond = cond.
			Or("LOWER(name) LIKE ?", pattern).
			Or("LOWER(description) LIKE ?", pattern).
			Or("LOWER(category) LIKE ?", pattern).
			Or("LOWER(keywords) LIKE ?", keywordPattern)
	}

	var products []domain.Product
	err := r.db.WithContext(ctx).
		Where("merchant_id = ? AND is_available = ?", merchantID, true).
		Where(cond).
		Limit(searchResultLimit).
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

// isUniqueViolation covers drivers the gorm error translation misses.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
