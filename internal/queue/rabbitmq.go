package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/merchantry/catalog/internal/domain"
	"github.com/merchantry/catalog/internal/logger"
	"github.com/streadway/amqp"
)

const publishTimeout = 5 * time.Second

// RabbitMQConfig holds configuration for the RabbitMQ-backed queue.
type RabbitMQConfig struct {
	URL           string
	QueueName     string
	PrefetchCount int
	ReconnectWait time.Duration
}

// RabbitMQQueue is a durable at-least-once scrape-job queue on RabbitMQ.
// Jobs are published persistent to a durable queue and acknowledged manually
// after processing, so an unacked job is redelivered on consumer loss.
type RabbitMQQueue struct {
	cfg    RabbitMQConfig
	logger *logger.Logger

	mu          sync.Mutex
	conn        *amqp.Connection
	pubChan     *amqp.Channel
	notifyClose chan *amqp.Error
	closed      bool
}

// NewRabbitMQQueue connects to RabbitMQ and declares the durable scrape queue.
func NewRabbitMQQueue(cfg RabbitMQConfig, log *logger.Logger) (*RabbitMQQueue, error) {
	if cfg.QueueName == "" {
		cfg.QueueName = "scrape"
	}
	if cfg.PrefetchCount <= 0 {
		cfg.PrefetchCount = 10
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 5 * time.Second
	}

	q := &RabbitMQQueue{cfg: cfg, logger: log}
	if err := q.connect(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *RabbitMQQueue) connect() error {
	conn, err := amqp.Dial(q.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to dial RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		q.cfg.QueueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	q.mu.Lock()
	q.conn = conn
	q.pubChan = ch
	q.notifyClose = conn.NotifyClose(make(chan *amqp.Error, 1))
	q.mu.Unlock()

	go q.handleReconnect()

	return nil
}

// handleReconnect re-dials after a connection loss so publishers keep working
// across broker restarts.
func (q *RabbitMQQueue) handleReconnect() {
	err, ok := <-q.notifyClose
	if !ok {
		return // clean shutdown
	}

	q.logger.WithError(err).Warn("RabbitMQ connection lost, reconnecting")

	for {
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}

		time.Sleep(q.cfg.ReconnectWait)
		if err := q.connect(); err != nil {
			q.logger.WithError(err).Warn("RabbitMQ reconnect failed, retrying")
			continue
		}

		q.logger.Info("RabbitMQ reconnected")
		return
	}
}

// Enqueue publishes one persistent job message.
func (q *RabbitMQQueue) Enqueue(ctx context.Context, job domain.ScrapeJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode scrape job: %w", err)
	}

	q.mu.Lock()
	ch := q.pubChan
	q.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("queue not connected")
	}

	// amqp publish has no context support; bound it ourselves.
	done := make(chan error, 1)
	go func() {
		done <- ch.Publish(
			"", // default exchange
			q.cfg.QueueName,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
				Body:         body,
			},
		)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to publish scrape job: %w", err)
		}
		return nil
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish timed out after %s", publishTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume opens a dedicated consumer channel with manual acknowledgement and
// bridges deliveries into the generic Delivery type.
func (q *RabbitMQQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	q.mu.Lock()
	conn := q.conn
	q.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("queue not connected")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}
	if err := ch.Qos(q.cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.cfg.QueueName,
		"",    // consumer tag
		false, // autoAck: jobs are acked after processing
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				var job domain.ScrapeJob
				if err := json.Unmarshal(msg.Body, &job); err != nil {
					q.logger.WithError(err).Error("Dropping undecodable scrape job")
					_ = msg.Reject(false)
					continue
				}

				d := Delivery{
					Job:    job,
					Ack:    func() error { return msg.Ack(false) },
					Reject: func() error { return msg.Reject(false) },
				}

				select {
				case out <- d:
				case <-ctx.Done():
					_ = msg.Reject(true) // requeue the in-flight job
					return
				}
			}
		}
	}()

	return out, nil
}

// Close shuts down the connection.
func (q *RabbitMQQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
