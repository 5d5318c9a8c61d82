// Package scheduler runs the periodic refresh sweeps. Sweeps are pure
// "select candidates, enqueue" passes with no other side effects, so they
// are safe to run concurrently with worker processing.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/merchantry/catalog/internal/domain"
	"github.com/merchantry/catalog/internal/logger"
)

// CandidateStore lists products eligible for refresh.
type CandidateStore interface {
	// ListRefreshCandidates returns non-manual products not fetched since
	// the cutoff.
	ListRefreshCandidates(ctx context.Context, cutoff time.Time) ([]domain.Product, error)
	// ListNonManual returns every externally sourced product.
	ListNonManual(ctx context.Context) ([]domain.Product, error)
}

// JobQueue enqueues scrape jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, job domain.ScrapeJob) error
}

// Scheduler enqueues minimal-refresh jobs on a short interval and
// full-refresh jobs on a long one.
type Scheduler struct {
	store  CandidateStore
	queue  JobQueue
	logger *logger.Logger

	minimalInterval time.Duration
	fullInterval    time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// Config holds the sweep intervals.
type Config struct {
	MinimalInterval time.Duration
	FullInterval    time.Duration
}

// New creates a scheduler. Zero intervals fall back to 10 minutes and one
// week.
func New(store CandidateStore, queue JobQueue, log *logger.Logger, cfg *Config) *Scheduler {
	minimalInterval := 10 * time.Minute
	fullInterval := 7 * 24 * time.Hour
	if cfg != nil {
		if cfg.MinimalInterval > 0 {
			minimalInterval = cfg.MinimalInterval
		}
		if cfg.FullInterval > 0 {
			fullInterval = cfg.FullInterval
		}
	}
	return &Scheduler{
		store:           store,
		queue:           queue,
		logger:          log,
		minimalInterval: minimalInterval,
		fullInterval:    fullInterval,
		stop:            make(chan struct{}),
	}
}

// Start launches the sweep tickers.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.loop(ctx, s.minimalInterval, s.SweepMinimal)
	go s.loop(ctx, s.fullInterval, s.SweepFull)
}

// Stop halts the tickers and waits for in-flight sweeps.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, sweep func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sweep(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SweepMinimal enqueues a minimal job for every non-manual product whose
// last fetch is missing or older than the minimal interval.
func (s *Scheduler) SweepMinimal(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.minimalInterval)
	products, err := s.store.ListRefreshCandidates(ctx, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Minimal sweep candidate listing failed")
		return
	}

	enqueued := 0
	for i := range products {
		if s.enqueue(ctx, &products[i], domain.ScrapeModeMinimal) {
			enqueued++
		}
	}
	s.logger.WithFields(logger.Fields{
		logger.FieldCount:   enqueued,
		logger.FieldJobMode: string(domain.ScrapeModeMinimal),
	}).Debug("Refresh sweep completed")
}

// SweepFull enqueues a full job for every non-manual product,
// unconditionally.
func (s *Scheduler) SweepFull(ctx context.Context) {
	products, err := s.store.ListNonManual(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Full sweep candidate listing failed")
		return
	}

	enqueued := 0
	for i := range products {
		if s.enqueue(ctx, &products[i], domain.ScrapeModeFull) {
			enqueued++
		}
	}
	s.logger.WithFields(logger.Fields{
		logger.FieldCount:   enqueued,
		logger.FieldJobMode: string(domain.ScrapeModeFull),
	}).Debug("Refresh sweep completed")
}

func (s *Scheduler) enqueue(ctx context.Context, p *domain.Product, mode domain.ScrapeMode) bool {
	err := s.queue.Enqueue(ctx, domain.ScrapeJob{
		ProductID:  p.ID,
		MerchantID: p.MerchantID,
		URL:        p.RefreshURL(),
		Mode:       mode,
	})
	if err != nil {
		s.logger.WithField(logger.FieldProductID, p.ID).
			WithError(err).Warn("Failed to enqueue refresh job")
		return false
	}
	return true
}
