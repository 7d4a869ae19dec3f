// Package queue provides a durable processing-job queue with retries. Job
// IDs equal document IDs, which makes enqueueing idempotent per document.
package queue

import (
	"context"
	"time"
)

const (
	StateWaiting   = "waiting"
	StateActive    = "active"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// Payload is the work description carried by a job.
type Payload struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	StorageKey string `json:"storageKey"`
	FileType   string `json:"fileType"`
}

// JobStatus is the durable state of one processing job.
type JobStatus struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"documentId"`
	State        string    `json:"state"`
	Attempts     int       `json:"attempts"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Handler processes one job attempt. A nil return completes the job; an
// error return triggers a retry until the attempt budget is exhausted.
type Handler func(ctx context.Context, payload Payload) error

// StartGate caps job starts per rolling time window, independent of worker
// concurrency, so a backlog cannot flood downstream rate-limited APIs. A
// consumer asks the gate before each start; a denied job is pushed back
// without spending an attempt.
type StartGate interface {
	Allow(key string) bool
}

// startGateKey is the shared window key for worker job starts.
const startGateKey = "job-starts"

// JobQueue is the driver interface. Implementations back it with Redis
// Streams or AMQP.
type JobQueue interface {
	// Enqueue schedules processing for a document. If a job for the same
	// document is already waiting or active, the existing job is returned
	// and nothing new is scheduled.
	Enqueue(ctx context.Context, payload Payload) (JobStatus, error)
	GetJob(ctx context.Context, jobID string) (JobStatus, bool, error)
	// Cancel cancels a job that has not started yet. It reports whether the
	// job was cancelled; active and finished jobs are left alone.
	Cancel(ctx context.Context, jobID string) (bool, error)
	// Start launches concurrency consumers that run until ctx is done.
	Start(ctx context.Context, concurrency int, handler Handler)
}
