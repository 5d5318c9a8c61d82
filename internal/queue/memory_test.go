package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/merchantry/catalog/internal/domain"
)

func TestMemoryQueueConcurrentEnqueueAndClose(t *testing.T) {
	// Producers racing Close must get an error back, never a send on a
	// closed channel.
	for i := 0; i < 50; i++ {
		q := NewMemoryQueue(4)

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					if err := q.Enqueue(context.Background(), domain.ScrapeJob{ProductID: "p1"}); err != nil {
						return
					}
				}
			}()
		}
		q.Close()
		wg.Wait()
	}
}

func TestMemoryQueueDeliversInOrder(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p3"} {
		if err := q.Enqueue(ctx, domain.ScrapeJob{ProductID: id, Mode: domain.ScrapeModeMinimal}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
	q.Close()

	deliveries, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}

	var got []string
	for d := range deliveries {
		got = append(got, d.Job.ProductID)
		if err := d.Ack(); err != nil {
			t.Errorf("ack failed: %v", err)
		}
	}

	want := []string{"p1", "p2", "p3"}
	if len(got) != len(want) {
		t.Fatalf("got %d jobs, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestMemoryQueueFullFailsFast(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()

	if err := q.Enqueue(ctx, domain.ScrapeJob{ProductID: "p1", Mode: domain.ScrapeModeMinimal}); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(ctx, domain.ScrapeJob{ProductID: "p2", Mode: domain.ScrapeModeMinimal})
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error when the buffer is full")
		}
	case <-time.After(time.Second):
		t.Error("enqueue blocked instead of failing fast")
	}
}

func TestMemoryQueueClosedRejectsEnqueue(t *testing.T) {
	q := NewMemoryQueue(1)
	q.Close()

	if err := q.Enqueue(context.Background(), domain.ScrapeJob{ProductID: "p1"}); err == nil {
		t.Error("expected error on closed queue")
	}
}

func TestMemoryQueueConsumeStopsOnCancel(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithCancel(context.Background())

	deliveries, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}

	cancel()

	select {
	case _, ok := <-deliveries:
		if ok {
			t.Error("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Error("delivery channel did not close after cancel")
	}
}
