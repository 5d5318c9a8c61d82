package api

import (
	"github.com/gin-gonic/gin"
	"github.com/merchantry/catalog/internal/api/handler"
	"github.com/merchantry/catalog/internal/api/middleware"
	"github.com/merchantry/catalog/internal/logger"
	"github.com/merchantry/catalog/internal/service"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	catalog *service.CatalogService,
	retrieval *service.RetrievalService,
	log *logger.Logger,
	mode string,
	cors middleware.CORSConfig,
) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS(cors))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	productHandler := handler.NewProductHandler(catalog)
	searchHandler := handler.NewSearchHandler(retrieval, catalog)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Merchant catalog
		products := v1.Group("/merchants/:merchantId/products")
		{
			products.POST("", productHandler.Create)
			products.GET("", productHandler.List)
			products.GET("/:id", productHandler.Get)
			products.PATCH("/:id", productHandler.Update)
			products.DELETE("/:id", productHandler.Delete)
			products.PATCH("/:id/availability", productHandler.SetAvailability)
			products.POST("/:id/sync", productHandler.TriggerSync)
		}

		// Retrieval
		v1.POST("/search", searchHandler.Search)
		v1.POST("/search/text", searchHandler.TextSearch)
		v1.POST("/search/fallback", searchHandler.Fallback)
	}

	return r
}
