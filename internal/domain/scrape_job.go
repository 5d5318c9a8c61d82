package domain

import "time"

// ScrapeMode selects how much of a product a refresh job rewrites.
// Minimal jobs touch price/availability only; full jobs replace the whole
// descriptive field set.
type ScrapeMode string

const (
	ScrapeModeMinimal ScrapeMode = "minimal"
	ScrapeModeFull    ScrapeMode = "full"
)

// Valid reports whether m is a known scrape mode.
func (m ScrapeMode) Valid() bool {
	return m == ScrapeModeMinimal || m == ScrapeModeFull
}

// ScrapeJob is the queue message for one product refresh. Delivery is
// at-least-once; consumers must tolerate redelivery (product writes are
// last-write-wins).
type ScrapeJob struct {
	ProductID  string     `json:"productId"`
	MerchantID string     `json:"merchantId"`
	URL        string     `json:"url"`
	Mode       ScrapeMode `json:"mode"`
}

// ScrapedProduct is the extraction service result. Minimal-mode responses
// populate Price and IsAvailable only; full-mode responses carry the whole
// descriptive record.
type ScrapedProduct struct {
	Price       float64  `json:"price"`
	IsAvailable bool     `json:"isAvailable"`
	Name        string   `json:"name,omitempty"`
	Images      []string `json:"images,omitempty"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	LowQuantity string   `json:"lowQuantity,omitempty"`
	SpecsBlock  []string `json:"specsBlock,omitempty"`
	Platform    string   `json:"platform,omitempty"`
}

// ScrapeResult carries the fields a worker writes back after a job. The
// pointer fields distinguish "leave untouched" from "set to zero value".
type ScrapeResult struct {
	Mode          ScrapeMode
	Scraped       *ScrapedProduct
	FetchedAt     time.Time
	FullScrapedAt *time.Time
	ErrorState    string
}
