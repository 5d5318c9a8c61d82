// Package queue provides the durable scrape-job queue and the worker pool
// that drains it. Delivery is at-least-once with no strict global ordering;
// consumers must be idempotent with respect to redelivery.
package queue

import (
	"context"

	"github.com/merchantry/catalog/internal/domain"
)

// Delivery is one received scrape job plus its acknowledgement hooks.
type Delivery struct {
	Job domain.ScrapeJob

	// Ack marks the job done. Reject drops a job that can never be
	// processed (e.g. an undecodable payload).
	Ack    func() error
	Reject func() error
}

// Queue is the durable scrape-job transport.
type Queue interface {
	// Enqueue publishes one job. Fire-and-forget from the caller's
	// perspective; the job survives process restarts on durable backends.
	Enqueue(ctx context.Context, job domain.ScrapeJob) error

	// Consume returns a channel of deliveries. The channel closes when the
	// context is cancelled or the queue shuts down.
	Consume(ctx context.Context) (<-chan Delivery, error)

	// Close releases the underlying transport.
	Close() error
}
