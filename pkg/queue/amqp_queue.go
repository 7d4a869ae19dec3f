package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPJobQueue implements JobQueue over RabbitMQ. Deliveries carry the
// payload as JSON; job status is tracked in an in-process table, so status
// queries only see jobs enqueued through this instance.
type AMQPJobQueue struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queueName  string
	maxRetries int
	retryBase  time.Duration
	startGate  StartGate

	mu   sync.RWMutex
	jobs map[string]JobStatus
}

type AMQPQueueConfig struct {
	URL        string
	Queue      string
	MaxRetries int
	RetryBase  time.Duration
	// StartGate, when set, throttles how often consumers may start jobs.
	StartGate StartGate
}

func NewAMQPJobQueue(cfg AMQPQueueConfig) (*AMQPJobQueue, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	queueName := strings.TrimSpace(cfg.Queue)
	if queueName == "" {
		return nil, errors.New("amqp queue name required")
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = 2 * time.Second
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := channel.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &AMQPJobQueue{
		conn:       conn,
		channel:    channel,
		queueName:  queueName,
		maxRetries: maxRetries,
		retryBase:  retryBase,
		startGate:  cfg.StartGate,
		jobs:       make(map[string]JobStatus),
	}, nil
}

// Close tears down the channel and connection.
func (q *AMQPJobQueue) Close() error {
	if err := q.channel.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}

func (q *AMQPJobQueue) Enqueue(ctx context.Context, payload Payload) (JobStatus, error) {
	docID := strings.TrimSpace(payload.DocumentID)
	if docID == "" {
		return JobStatus{}, errors.New("documentId required")
	}
	q.mu.Lock()
	if existing, ok := q.jobs[docID]; ok && (existing.State == StateWaiting || existing.State == StateActive) {
		q.mu.Unlock()
		return existing, nil
	}
	job := JobStatus{
		ID:         docID,
		DocumentID: docID,
		State:      StateWaiting,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	q.jobs[docID] = job
	q.mu.Unlock()

	if err := q.publish(ctx, payload); err != nil {
		q.mu.Lock()
		delete(q.jobs, docID)
		q.mu.Unlock()
		return JobStatus{}, err
	}
	return job, nil
}

func (q *AMQPJobQueue) publish(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return q.channel.PublishWithContext(ctx, "", q.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    payload.DocumentID,
		Body:         body,
	})
}

func (q *AMQPJobQueue) GetJob(ctx context.Context, jobID string) (JobStatus, bool, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[strings.TrimSpace(jobID)]
	return job, ok, nil
}

func (q *AMQPJobQueue) Cancel(ctx context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[strings.TrimSpace(jobID)]
	if !ok || job.State != StateWaiting {
		return false, nil
	}
	job.State = StateCancelled
	job.UpdatedAt = time.Now().UTC()
	q.jobs[job.ID] = job
	return true, nil
}

func (q *AMQPJobQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	if err := q.channel.Qos(concurrency, 0, false); err != nil {
		slog.Error("set channel qos", "error", err)
	}
	deliveries, err := q.channel.Consume(q.queueName, "", false, false, false, false, nil)
	if err != nil {
		slog.Error("start amqp consumer", "error", err)
		return
	}
	for i := 0; i < concurrency; i++ {
		go q.consumeLoop(ctx, deliveries, handler)
	}
}

func (q *AMQPJobQueue) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			q.handleDelivery(ctx, delivery, handler)
		}
	}
}

func (q *AMQPJobQueue) handleDelivery(ctx context.Context, delivery amqp.Delivery, handler Handler) {
	var payload Payload
	if err := json.Unmarshal(delivery.Body, &payload); err != nil || payload.DocumentID == "" {
		_ = delivery.Ack(false)
		return
	}
	jobID := payload.DocumentID
	if job, ok, _ := q.GetJob(ctx, jobID); ok && job.State == StateCancelled {
		_ = delivery.Ack(false)
		return
	}
	if q.startGate != nil && !q.startGate.Allow(startGateKey) {
		// Over the start-rate window. Hand the delivery back to the broker
		// after a short pause so the attempt counter is untouched.
		select {
		case <-ctx.Done():
		case <-time.After(q.retryBase):
		}
		_ = delivery.Nack(false, true)
		return
	}
	job := q.markActive(jobID)
	if err := handler(ctx, payload); err == nil {
		q.setState(jobID, StateCompleted, "")
		_ = delivery.Ack(false)
		return
	} else if job.Attempts >= q.maxRetries {
		q.setState(jobID, StateFailed, err.Error())
		_ = delivery.Ack(false)
		return
	} else {
		q.setState(jobID, StateWaiting, err.Error())
		delay := q.backoff(job.Attempts)
		select {
		case <-ctx.Done():
			_ = delivery.Nack(false, true)
			return
		case <-time.After(delay):
		}
		if err := q.publish(ctx, payload); err != nil {
			// Republish failed; let the broker redeliver the original.
			_ = delivery.Nack(false, true)
			return
		}
		_ = delivery.Ack(false)
	}
}

func (q *AMQPJobQueue) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := q.retryBase << (attempts - 1)
	if max := 5 * time.Minute; delay > max {
		delay = max
	}
	return delay
}

func (q *AMQPJobQueue) markActive(jobID string) JobStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		job = JobStatus{ID: jobID, DocumentID: jobID, CreatedAt: time.Now().UTC()}
	}
	job.Attempts++
	job.State = StateActive
	job.UpdatedAt = time.Now().UTC()
	q.jobs[jobID] = job
	return job
}

func (q *AMQPJobQueue) setState(jobID, state, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return
	}
	job.State = state
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	q.jobs[jobID] = job
}
