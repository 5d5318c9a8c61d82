package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ProductSource identifies where a product record originated.
// Values include SourceManual, SourceAPI, and SourceScraper.
type ProductSource string

const (
	SourceManual  ProductSource = "manual"
	SourceAPI     ProductSource = "api"
	SourceScraper ProductSource = "scraper"
)

// Valid reports whether s is a known product source.
func (s ProductSource) Valid() bool {
	switch s {
	case SourceManual, SourceAPI, SourceScraper:
		return true
	}
	return false
}

// SyncStatus represents the vector-index synchronization state of a product.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncOK      SyncStatus = "ok"
	SyncError   SyncStatus = "error"
)

// ProductStatus is the merchant-facing lifecycle status of a product.
type ProductStatus string

const (
	StatusActive     ProductStatus = "active"
	StatusInactive   ProductStatus = "inactive"
	StatusOutOfStock ProductStatus = "out_of_stock"
)

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Product represents one catalog entry owned by a merchant. The products
// table is the source of truth for all attributes; the vector index only
// mirrors the embeddable subset.
type Product struct {
	ID         string `gorm:"type:text;primaryKey" json:"id"`
	MerchantID string `gorm:"type:text;not null;index:idx_products_merchant" json:"merchant_id"`

	// UniqueKey is merchantId|externalId for API-sourced products and
	// merchantId|originalUrl otherwise. It blocks duplicate ingestion of
	// the same external item.
	UniqueKey string `gorm:"type:text;uniqueIndex:idx_products_unique_key" json:"unique_key"`

	OriginalURL string      `gorm:"type:text;not null" json:"original_url"`
	Platform    string      `gorm:"type:text" json:"platform"`
	Name        string      `gorm:"type:text" json:"name"`
	Description string      `gorm:"type:text" json:"description"`
	Price       float64     `gorm:"default:0" json:"price"`
	// No column default here: a default tag would make GORM omit a false
	// value on insert and the row would come back available. The create
	// path fills in true when the caller leaves the flag unset.
	IsAvailable bool        `json:"is_available"`
	Images      StringArray `gorm:"type:text" json:"images"`
	Category    string      `gorm:"type:text;index:idx_products_category" json:"category"`
	LowQuantity string      `gorm:"type:text" json:"low_quantity"`
	SpecsBlock  StringArray `gorm:"type:text" json:"specs_block"`
	Keywords    StringArray `gorm:"type:text" json:"keywords"`

	Source     ProductSource `gorm:"type:text;not null" json:"source"`
	SourceURL  string        `gorm:"type:text" json:"source_url,omitempty"`
	ExternalID string        `gorm:"type:text" json:"external_id,omitempty"`

	Status ProductStatus `gorm:"type:text;default:active" json:"status"`

	LastFetchedAt     *time.Time `json:"last_fetched_at,omitempty"`
	LastFullScrapedAt *time.Time `json:"last_full_scraped_at,omitempty"`
	SyncStatus        SyncStatus `gorm:"type:text;default:pending" json:"sync_status"`
	ErrorState        string     `gorm:"type:text" json:"error_state,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string {
	return "products"
}

// BuildUniqueKey derives the tenant-scoped dedup key for a product. API
// products key on the external id, everything else keys on the original URL.
func BuildUniqueKey(merchantID string, source ProductSource, externalID, originalURL string) string {
	if source == SourceAPI {
		return fmt.Sprintf("%s|%s", merchantID, externalID)
	}
	return fmt.Sprintf("%s|%s", merchantID, originalURL)
}

// RefreshURL returns the URL a scrape job should fetch for this product.
func (p *Product) RefreshURL() string {
	if p.SourceURL != "" {
		return p.SourceURL
	}
	return p.OriginalURL
}

// ProductHit is a product joined with its rerank relevance score.
type ProductHit struct {
	Product
	Score float32 `json:"score"`
}
