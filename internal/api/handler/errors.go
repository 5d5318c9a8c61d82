package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/merchantry/catalog/internal/domain"
)

// writeError maps domain errors to HTTP status codes and writes a JSON
// error body. Unrecognized errors become 500 without leaking internals.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
	case errors.Is(err, domain.ErrDuplicateProduct):
		c.JSON(http.StatusConflict, gin.H{"error": "Product already exists for this merchant"})
	case errors.Is(err, domain.ErrInvalidURL),
		errors.Is(err, domain.ErrInvalidSource),
		errors.Is(err, domain.ErrManualProduct):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrRerankUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Search ranking is temporarily unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
