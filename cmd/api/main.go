package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/merchantry/catalog/internal/api"
	"github.com/merchantry/catalog/internal/api/middleware"
	"github.com/merchantry/catalog/internal/config"
	"github.com/merchantry/catalog/internal/logger"
	"github.com/merchantry/catalog/internal/queue"
	"github.com/merchantry/catalog/internal/repository"
	"github.com/merchantry/catalog/internal/scheduler"
	"github.com/merchantry/catalog/internal/service"
	"github.com/merchantry/catalog/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "catalog",
		File:        cfg.Log.File,
	})
	logger.SetDefault(appLogger)

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

	// Ensure Qdrant collection exists
	ctx := context.Background()
	if err := qdrantRepo.EnsureCollection(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure Qdrant collection")
	}

	// Initialize model server clients
	embeddingClient := service.NewEmbeddingClient(&service.EmbeddingClientConfig{
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey,
		Timeout: cfg.Embedding.Timeout,
	})
	rerankClient := service.NewRerankClient(&service.RerankClientConfig{
		BaseURL: cfg.Rerank.BaseURL,
		APIKey:  cfg.Rerank.APIKey,
		Timeout: cfg.Rerank.Timeout,
	})
	extractorClient := service.NewExtractorClient(&service.ExtractorClientConfig{
		BaseURL: cfg.Extractor.BaseURL,
		Timeout: cfg.Extractor.Timeout,
	})

	vectorService := service.NewVectorService(embeddingClient, qdrantRepo, appLogger)

	// Initialize job queue
	var jobQueue queue.Queue
	switch cfg.Queue.Driver {
	case "memory":
		jobQueue = queue.NewMemoryQueue(0)
	default:
		jobQueue, err = queue.NewRabbitMQQueue(queue.RabbitMQConfig{
			URL:           cfg.Queue.URL,
			QueueName:     cfg.Queue.QueueName,
			PrefetchCount: cfg.Queue.PrefetchCount,
			ReconnectWait: cfg.Queue.ReconnectWait,
		}, appLogger)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to connect to RabbitMQ")
		}
	}
	defer jobQueue.Close()

	catalogService := service.NewCatalogService(productRepo, vectorService, jobQueue, appLogger)

	// Optional image mirroring for full scrapes
	var imageMirror queue.ImageMirror
	if cfg.Scraper.MirrorImages {
		objectStorage, err := storage.NewS3Storage(&storage.S3Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			PublicURL: cfg.Storage.PublicURL,
		})
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize object storage")
		}
		if err := objectStorage.EnsureBucket(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
		}
		imageMirror = storage.NewMirror(objectStorage, appLogger, &storage.MirrorConfig{
			FetchTimeout: cfg.Scraper.ImageFetchTimeout,
			MaxImages:    cfg.Scraper.MaxImagesPerProduct,
		})
	}

	// Background workers and refresh scheduler
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	workerPool := queue.NewWorkerPool(jobQueue, extractorClient, catalogService, imageMirror, appLogger, &queue.WorkerPoolConfig{
		Workers: cfg.Scraper.Workers,
	})
	if err := workerPool.Start(workerCtx); err != nil {
		appLogger.WithError(err).Fatal("Failed to start worker pool")
	}

	refreshScheduler := scheduler.New(productRepo, jobQueue, appLogger, &scheduler.Config{
		MinimalInterval: cfg.Scraper.MinimalInterval,
		FullInterval:    cfg.Scraper.FullInterval,
	})
	refreshScheduler.Start(workerCtx)

	retrievalService := service.NewRetrievalService(
		embeddingClient,
		qdrantRepo,
		rerankClient,
		productRepo,
		appLogger,
		&service.RetrievalConfig{
			DefaultTopK: cfg.Search.DefaultTopK,
			MaxTopK:     cfg.Search.MaxTopK,
		},
	)

	// Setup router
	router := api.SetupRouter(catalogService, retrievalService, appLogger, cfg.Server.Mode, middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	// Drain background work: scheduler first so no new jobs are produced,
	// then the worker pool finishes in-flight jobs.
	refreshScheduler.Stop()
	stopWorkers()
	workerPool.Wait()

	appLogger.Info("Server exited")
}
