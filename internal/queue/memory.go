package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/merchantry/catalog/internal/domain"
)

const defaultMemoryQueueSize = 1024

// MemoryQueue is a channel-backed Queue for single-node deployments and
// tests. It keeps the at-least-once contract's shape (explicit Ack) but jobs
// do not survive a restart.
type MemoryQueue struct {
	jobs chan domain.ScrapeJob

	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue creates an in-memory queue with the given capacity.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = defaultMemoryQueueSize
	}
	return &MemoryQueue{
		jobs: make(chan domain.ScrapeJob, size),
	}
}

// Enqueue adds a job, failing fast when the buffer is full rather than
// blocking a request-path caller.
func (q *MemoryQueue) Enqueue(ctx context.Context, job domain.ScrapeJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// The lock is held across the send so Close cannot close the channel
	// between the closed check and the send. The send never blocks here.
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("queue closed")
	}

	select {
	case q.jobs <- job:
		return nil
	default:
		return fmt.Errorf("queue full")
	}
}

// Consume returns a channel of deliveries with no-op acknowledgements.
func (q *MemoryQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-q.jobs:
				if !ok {
					return
				}
				d := Delivery{
					Job:    job,
					Ack:    func() error { return nil },
					Reject: func() error { return nil },
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Len reports the number of buffered jobs. Test helper.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

// Close stops the queue. Pending jobs are delivered before the consumer
// channel closes.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	return nil
}
