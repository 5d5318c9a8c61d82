package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/merchantry/catalog/internal/config"
	"github.com/merchantry/catalog/internal/domain"
	"github.com/merchantry/catalog/internal/logger"
	"github.com/merchantry/catalog/internal/repository"
	"github.com/merchantry/catalog/internal/service"
)

// resync walks the catalog and re-embeds every product into the vector
// index. Run it after changing the embedding model or to repair products
// stuck in sync_status=error. A full run (no -merchant flag) also deletes
// index points whose product no longer exists in the database.
func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "catalog-resync",
	})
	logger.SetDefault(appLogger)

	// Parse command line flags
	merchantID := flag.String("merchant", "", "Resync only this merchant's products")
	batchSize := flag.Int("batch", 100, "Number of products per embedding batch")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	appLogger.WithFields(logger.Fields{
		"merchant": *merchantID,
		"batch":    *batchSize,
	}).Info("Starting vector resync")

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize repositories
	productRepo := repository.NewProductRepository(db)
	qdrantRepo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
		Host:            cfg.Qdrant.Host,
		Port:            cfg.Qdrant.Port,
		Collection:      cfg.Qdrant.Collection,
		APIKey:          cfg.Qdrant.APIKey,
		UseTLS:          cfg.Qdrant.UseTLS,
		VectorDimension: cfg.Qdrant.Dimension,
		Timeout:         cfg.Qdrant.Timeout,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize Qdrant repository")
	}
	defer qdrantRepo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ensure Qdrant collection exists
	if err := qdrantRepo.EnsureCollection(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure Qdrant collection")
	}

	embeddingClient := service.NewEmbeddingClient(&service.EmbeddingClientConfig{
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey,
		Timeout: cfg.Embedding.Timeout,
	})
	vectorService := service.NewVectorService(embeddingClient, qdrantRepo, appLogger)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	var total, failed int
	livePoints := make(map[string]bool)
	offset := 0
	for {
		if ctx.Err() != nil {
			appLogger.Warn("Resync canceled")
			break
		}

		var (
			page []domain.Product
			err  error
		)
		if *merchantID != "" {
			page, err = productRepo.ListByMerchant(ctx, *merchantID, *batchSize, offset)
		} else {
			page, err = productRepo.ListAll(ctx, *batchSize, offset)
		}
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to list products")
		}
		if len(page) == 0 {
			break
		}

		if err := vectorService.UpsertProducts(ctx, page); err != nil {
			failed++
			appLogger.WithError(err).WithField("offset", offset).Error("Batch had upsert failures")
		}
		for _, p := range page {
			livePoints[service.PointID(p.ID)] = true
		}
		total += len(page)
		offset += len(page)

		appLogger.WithField(logger.FieldCount, total).Info("Resync progress")
	}

	// Only a full walk sees every live product, so the stale point sweep
	// would delete other merchants' points on a per-merchant run.
	removed := 0
	if *merchantID == "" && ctx.Err() == nil {
		removed = sweepStalePoints(ctx, qdrantRepo, livePoints, appLogger)
	}

	appLogger.WithFields(logger.Fields{
		"total":          total,
		"failed_batches": failed,
		"stale_removed":  removed,
	}).Info("Resync completed")
}

// sweepStalePoints scrolls the whole collection and deletes points that no
// longer map back to a database row. Returns the number of points removed.
func sweepStalePoints(ctx context.Context, repo *repository.QdrantRepository, live map[string]bool, log *logger.Logger) int {
	removed := 0
	cursor := ""
	for {
		if ctx.Err() != nil {
			return removed
		}

		ids, next, err := repo.ListPointIDs(ctx, 256, cursor)
		if err != nil {
			log.WithError(err).Error("Failed to scroll index points, skipping stale sweep")
			return removed
		}
		for _, id := range ids {
			if live[id] {
				continue
			}
			if err := repo.Delete(ctx, id); err != nil {
				log.WithError(err).WithField("point_id", id).Error("Failed to delete stale point")
				continue
			}
			removed++
		}
		if next == "" {
			return removed
		}
		cursor = next
	}
}
