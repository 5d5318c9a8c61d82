package scheduler

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/merchantry/catalog/internal/domain"
	"github.com/merchantry/catalog/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Output: io.Discard})
}

type fakeStore struct {
	stale     []domain.Product
	nonManual []domain.Product

	gotCutoff time.Time
}

func (f *fakeStore) ListRefreshCandidates(ctx context.Context, cutoff time.Time) ([]domain.Product, error) {
	f.gotCutoff = cutoff
	return f.stale, nil
}

func (f *fakeStore) ListNonManual(ctx context.Context) ([]domain.Product, error) {
	return f.nonManual, nil
}

type fakeQueue struct {
	jobs []domain.ScrapeJob
	err  error
}

func (f *fakeQueue) Enqueue(ctx context.Context, job domain.ScrapeJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func TestSweepMinimal(t *testing.T) {
	store := &fakeStore{stale: []domain.Product{
		{ID: "p1", MerchantID: "m1", OriginalURL: "https://shop.example/p/1", Source: domain.SourceScraper},
		{ID: "p2", MerchantID: "m2", OriginalURL: "https://shop.example/p/2", SourceURL: "https://feed.example/p/2", Source: domain.SourceAPI},
	}}
	queue := &fakeQueue{}
	s := New(store, queue, testLogger(), &Config{MinimalInterval: 10 * time.Minute})

	before := time.Now().UTC().Add(-10 * time.Minute)
	s.SweepMinimal(context.Background())

	if len(queue.jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(queue.jobs))
	}
	for _, job := range queue.jobs {
		if job.Mode != domain.ScrapeModeMinimal {
			t.Errorf("got mode %q, want minimal", job.Mode)
		}
	}
	if queue.jobs[1].URL != "https://feed.example/p/2" {
		t.Errorf("job should prefer source_url, got %q", queue.jobs[1].URL)
	}

	// The cutoff is now minus the minimal interval.
	if store.gotCutoff.Before(before.Add(-time.Minute)) || store.gotCutoff.After(time.Now().UTC()) {
		t.Errorf("unexpected cutoff %v", store.gotCutoff)
	}
}

func TestSweepFull(t *testing.T) {
	store := &fakeStore{nonManual: []domain.Product{
		{ID: "p1", MerchantID: "m1", OriginalURL: "https://shop.example/p/1", Source: domain.SourceScraper},
	}}
	queue := &fakeQueue{}
	s := New(store, queue, testLogger(), nil)

	s.SweepFull(context.Background())

	if len(queue.jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(queue.jobs))
	}
	if queue.jobs[0].Mode != domain.ScrapeModeFull {
		t.Errorf("got mode %q, want full", queue.jobs[0].Mode)
	}
}

func TestSweepSurvivesEnqueueFailure(t *testing.T) {
	store := &fakeStore{nonManual: []domain.Product{
		{ID: "p1", MerchantID: "m1", OriginalURL: "https://shop.example/p/1"},
	}}
	queue := &fakeQueue{err: fmt.Errorf("broker down")}
	s := New(store, queue, testLogger(), nil)

	// Must not panic or abort; failures are logged and retried next sweep.
	s.SweepFull(context.Background())
}

func TestStartStop(t *testing.T) {
	store := &fakeStore{}
	queue := &fakeQueue{}
	s := New(store, queue, testLogger(), &Config{
		MinimalInterval: time.Hour,
		FullInterval:    time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
