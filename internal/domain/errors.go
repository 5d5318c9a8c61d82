package domain

import "errors"

// Synchronous failures are returned to callers as typed errors; asynchronous
// failures (scrape worker, vector sync) are recorded as product state and
// never cross the component boundary.
var (
	// ErrNotFound indicates a product does not exist for the caller's tenant.
	ErrNotFound = errors.New("product not found")

	// ErrDuplicateProduct indicates a create collided with an existing
	// uniqueKey (same merchant + externalId/originalUrl).
	ErrDuplicateProduct = errors.New("product already exists")

	// ErrInvalidURL indicates a non-manual product was submitted with a
	// source URL that does not parse.
	ErrInvalidURL = errors.New("invalid source url")

	// ErrInvalidSource indicates an unknown product source value.
	ErrInvalidSource = errors.New("invalid product source")

	// ErrManualProduct indicates a refresh was requested for a manually
	// entered product, which is never scraped.
	ErrManualProduct = errors.New("manual products cannot be synced")

	// ErrRerankUnavailable indicates the rerank stage failed. Retrieval
	// deliberately does not degrade to raw vector order; callers may retry.
	ErrRerankUnavailable = errors.New("rerank service unavailable")
)
