package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/merchantry/catalog/internal/service"
)

// SearchHandler handles retrieval endpoints.
type SearchHandler struct {
	retrieval *service.RetrievalService
	catalog   *service.CatalogService
}

// NewSearchHandler creates a new search handler.
// Parameters:
//   - retrieval: semantic retrieval service instance.
//   - catalog: catalog service for keyword and fallback lookups.
// Returns:
//   - *SearchHandler: initialized handler.
func NewSearchHandler(retrieval *service.RetrievalService, catalog *service.CatalogService) *SearchHandler {
	return &SearchHandler{
		retrieval: retrieval,
		catalog:   catalog,
	}
}

// SearchRequest is the payload for semantic and keyword search.
type SearchRequest struct {
	MerchantID string `json:"merchantId" binding:"required"`
	Text       string `json:"text" binding:"required"`
	TopK       int    `json:"topK"`
}

// Search handles POST /api/v1/search.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	hits, err := h.retrieval.Search(c.Request.Context(), req.MerchantID, req.Text, req.TopK)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recommendations": hits,
	})
}

// TextSearch handles POST /api/v1/search/text. This is the keyword
// cascade over the relational store, with no vector index involved.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) TextSearch(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	products, err := h.catalog.SearchByText(c.Request.Context(), req.MerchantID, req.Text)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results": products,
		"total":   len(products),
	})
}

// FallbackRequest is the payload for the fallback listing.
type FallbackRequest struct {
	MerchantID string `json:"merchantId" binding:"required"`
	Limit      int    `json:"limit"`
}

// Fallback handles POST /api/v1/search/fallback. It returns recent
// available products for when both search stages come back empty.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) Fallback(c *gin.Context) {
	var req FallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	products, err := h.catalog.FallbackProducts(c.Request.Context(), req.MerchantID, req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results": products,
		"total":   len(products),
	})
}
