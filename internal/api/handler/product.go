package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/merchantry/catalog/internal/service"
)

// ProductHandler handles merchant catalog CRUD endpoints.
type ProductHandler struct {
	catalog *service.CatalogService
}

// NewProductHandler creates a new product handler.
// Parameters:
//   - catalog: catalog service instance.
// Returns:
//   - *ProductHandler: initialized handler.
func NewProductHandler(catalog *service.CatalogService) *ProductHandler {
	return &ProductHandler{
		catalog: catalog,
	}
}

// Create handles POST /api/v1/merchants/:merchantId/products.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ProductHandler) Create(c *gin.Context) {
	var in service.CreateProductInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	// The path is authoritative for tenancy
	in.MerchantID = c.Param("merchantId")

	product, err := h.catalog.Create(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, product)
}

// Get handles GET /api/v1/merchants/:merchantId/products/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ProductHandler) Get(c *gin.Context) {
	product, err := h.catalog.Get(c.Request.Context(), c.Param("id"), c.Param("merchantId"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, product)
}

// List handles GET /api/v1/merchants/:merchantId/products.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ProductHandler) List(c *gin.Context) {
	merchantID := c.Param("merchantId")
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	products, err := h.catalog.List(c.Request.Context(), merchantID, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	total, err := h.catalog.Count(c.Request.Context(), merchantID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"products": products,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// Update handles PATCH /api/v1/merchants/:merchantId/products/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ProductHandler) Update(c *gin.Context) {
	var patch service.UpdateProductInput
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	product, err := h.catalog.Update(c.Request.Context(), c.Param("id"), c.Param("merchantId"), patch)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, product)
}

// Delete handles DELETE /api/v1/merchants/:merchantId/products/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ProductHandler) Delete(c *gin.Context) {
	if err := h.catalog.Remove(c.Request.Context(), c.Param("id"), c.Param("merchantId")); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// SetAvailability handles PATCH /api/v1/merchants/:merchantId/products/:id/availability.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ProductHandler) SetAvailability(c *gin.Context) {
	var req struct {
		IsAvailable *bool `json:"is_available" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Field 'is_available' is required",
		})
		return
	}

	product, err := h.catalog.SetAvailability(c.Request.Context(), c.Param("id"), c.Param("merchantId"), *req.IsAvailable)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, product)
}

// TriggerSync handles POST /api/v1/merchants/:merchantId/products/:id/sync.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ProductHandler) TriggerSync(c *gin.Context) {
	product, err := h.catalog.TriggerSync(c.Request.Context(), c.Param("id"), c.Param("merchantId"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, product)
}

// queryInt parses an integer query parameter with a default.
func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
