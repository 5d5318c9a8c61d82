package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/merchantry/catalog/internal/domain"
	"github.com/merchantry/catalog/internal/logger"
)

// Extractor fetches product data from a storefront URL.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (*domain.ScrapedProduct, error)
}

// CatalogUpdater is the worker's write-back path into the catalog.
type CatalogUpdater interface {
	UpdateAfterScrape(ctx context.Context, productID string, result domain.ScrapeResult) (*domain.Product, error)
}

// ImageMirror archives product images into object storage, returning the
// serving URLs. Implementations are best-effort.
type ImageMirror interface {
	Mirror(ctx context.Context, productID string, urls []string) []string
}

// WorkerPool drains the scrape queue with a bounded number of workers. Two
// jobs for the same product may run concurrently; the later write wins,
// which the minimal/full field-set split makes safe.
type WorkerPool struct {
	queue     Queue
	extractor Extractor
	catalog   CatalogUpdater
	images    ImageMirror // nil disables mirroring
	workers   int
	logger    *logger.Logger

	wg        sync.WaitGroup
	processed int64
	failed    int64
}

// WorkerPoolConfig holds configuration for the worker pool.
type WorkerPoolConfig struct {
	Workers int
}

// NewWorkerPool creates a worker pool. images may be nil.
func NewWorkerPool(q Queue, extractor Extractor, catalog CatalogUpdater, images ImageMirror, log *logger.Logger, cfg *WorkerPoolConfig) *WorkerPool {
	workers := 5
	if cfg != nil && cfg.Workers > 0 {
		workers = cfg.Workers
	}
	return &WorkerPool{
		queue:     q,
		extractor: extractor,
		catalog:   catalog,
		images:    images,
		workers:   workers,
		logger:    log,
	}
}

// Start launches the workers. They stop when the context is cancelled or the
// queue closes; Wait blocks until then.
func (p *WorkerPool) Start(ctx context.Context) error {
	deliveries, err := p.queue.Consume(ctx)
	if err != nil {
		return err
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			for d := range deliveries {
				jobCtx := logger.WithFields(ctx, logger.Fields{
					logger.FieldWorkerID:  workerID,
					logger.FieldProductID: d.Job.ProductID,
					logger.FieldJobMode:   string(d.Job.Mode),
				})
				p.process(jobCtx, d)
			}
		}(i)
	}

	return nil
}

// Wait blocks until all workers have exited.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Stats returns processed and failed job counts.
func (p *WorkerPool) Stats() (processed, failed int64) {
	return atomic.LoadInt64(&p.processed), atomic.LoadInt64(&p.failed)
}

// process handles one delivery end to end. The job is always acked: a failed
// extraction is recorded on the product and retried by the next scheduled
// sweep, never inline.
func (p *WorkerPool) process(ctx context.Context, d Delivery) {
	defer func() {
		if err := d.Ack(); err != nil {
			logger.CtxWarn(ctx, "Failed to ack scrape job: error=%v", err)
		}
	}()

	job := d.Job
	if !job.Mode.Valid() || job.ProductID == "" {
		logger.CtxError(ctx, "Rejecting malformed scrape job: product_id=%q, mode=%q", job.ProductID, job.Mode)
		atomic.AddInt64(&p.failed, 1)
		return
	}

	start := time.Now()
	scraped, err := p.extractor.Extract(ctx, job.URL)
	now := time.Now().UTC()

	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		// Record the failure; other fields stay untouched.
		if _, uerr := p.catalog.UpdateAfterScrape(ctx, job.ProductID, domain.ScrapeResult{
			Mode:       job.Mode,
			FetchedAt:  now,
			ErrorState: err.Error(),
		}); uerr != nil {
			logger.CtxError(ctx, "Failed to record scrape failure: error=%v", uerr)
		}
		logger.CtxWarn(ctx, "Scrape failed: url=%s, error=%v", job.URL, err)
		return
	}

	result := domain.ScrapeResult{
		Mode:      job.Mode,
		FetchedAt: now,
	}
	if job.Mode == domain.ScrapeModeMinimal {
		// Minimal jobs only ever touch price and availability, whatever
		// else the extractor happened to return.
		result.Scraped = &domain.ScrapedProduct{
			Price:       scraped.Price,
			IsAvailable: scraped.IsAvailable,
		}
	} else {
		if p.images != nil && len(scraped.Images) > 0 {
			scraped.Images = p.images.Mirror(ctx, job.ProductID, scraped.Images)
		}
		result.Scraped = scraped
		result.FullScrapedAt = &now
	}

	if _, err := p.catalog.UpdateAfterScrape(ctx, job.ProductID, result); err != nil {
		atomic.AddInt64(&p.failed, 1)
		logger.CtxError(ctx, "Failed to apply scrape result: error=%v", err)
		return
	}

	atomic.AddInt64(&p.processed, 1)
	logger.CtxInfo(ctx, "Scraped and updated product: duration_ms=%d", time.Since(start).Milliseconds())
}
