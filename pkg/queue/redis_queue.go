package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"docmind/internal/util"
)

// RedisJobQueue implements JobQueue over Redis Streams with consumer groups.
// Job status lives in per-job hashes with a TTL so finished jobs age out.
type RedisJobQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryBase    time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	startGate    StartGate
	once         sync.Once
}

type RedisQueueConfig struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	// RetryBase is the first retry delay; it doubles per attempt.
	RetryBase  time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
	// StartGate, when set, throttles how often consumers may start jobs.
	StartGate StartGate
}

func NewRedisJobQueue(cfg RedisQueueConfig) (*RedisJobQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "default"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	jobTTL := cfg.JobTTL
	if jobTTL <= 0 {
		jobTTL = 24 * time.Hour
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &RedisJobQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		jobTTL:       jobTTL,
		maxRetries:   maxRetries,
		block:        block,
		claimIdle:    claimIdle,
		retryBase:    retryBase,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
		startGate:    cfg.StartGate,
	}, nil
}

// Enqueue schedules processing for the payload's document. The job ID is
// the document ID: re-enqueueing while a job is waiting or active returns
// the existing job unchanged.
func (q *RedisJobQueue) Enqueue(ctx context.Context, payload Payload) (JobStatus, error) {
	docID := strings.TrimSpace(payload.DocumentID)
	if docID == "" {
		return JobStatus{}, errors.New("documentId required")
	}
	if existing, ok, err := q.GetJob(ctx, docID); err != nil {
		return JobStatus{}, err
	} else if ok && (existing.State == StateWaiting || existing.State == StateActive) {
		return existing, nil
	}
	job := JobStatus{
		ID:         docID,
		DocumentID: docID,
		State:      StateWaiting,
		Attempts:   0,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return JobStatus{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: payloadValues(payload),
	}).Err(); err != nil {
		return JobStatus{}, err
	}
	return job, nil
}

func payloadValues(payload Payload) map[string]any {
	return map[string]any{
		"job_id":      payload.DocumentID,
		"document_id": payload.DocumentID,
		"user_id":     payload.UserID,
		"storage_key": payload.StorageKey,
		"file_type":   payload.FileType,
	}
}

func payloadFromValues(values map[string]any) Payload {
	str := func(key string) string {
		v, _ := values[key].(string)
		return v
	}
	return Payload{
		DocumentID: str("document_id"),
		UserID:     str("user_id"),
		StorageKey: str("storage_key"),
		FileType:   str("file_type"),
	}
}

func (q *RedisJobQueue) GetJob(ctx context.Context, jobID string) (JobStatus, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return JobStatus{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return JobStatus{}, false, err
	}
	if len(data) == 0 {
		return JobStatus{}, false, nil
	}
	return decodeJobStatus(jobID, data), true, nil
}

// Cancel flips a waiting job to cancelled. The stream entry stays; the
// consumer drops it when it sees the cancelled state.
func (q *RedisJobQueue) Cancel(ctx context.Context, jobID string) (bool, error) {
	job, ok, err := q.GetJob(ctx, jobID)
	if err != nil || !ok {
		return false, err
	}
	if job.State != StateWaiting {
		return false, nil
	}
	job.State = StateCancelled
	job.UpdatedAt = time.Now().UTC()
	if err := q.writeStatus(ctx, job); err != nil {
		return false, err
	}
	return true, nil
}

func (q *RedisJobQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			// best-effort; errors will surface on consume
		}
	})
}

func (q *RedisJobQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisJobQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisJobQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	jobID, _ := msg.Values["job_id"].(string)
	payload := payloadFromValues(msg.Values)
	if jobID == "" || payload.DocumentID == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if job, ok, err := q.GetJob(ctx, jobID); err == nil && ok {
		if job.State == StateCancelled {
			q.ackAndDel(ctx, msg.ID)
			return
		}
		// A claimed message can belong to a job still running on another
		// consumer. The running worker heartbeats the status hash, so an
		// active job with a fresh updatedAt is alive; leave the message
		// pending and let a later claim pass re-check it.
		if job.State == StateActive && time.Since(job.UpdatedAt) < q.claimIdle {
			return
		}
	}
	if q.startGate != nil && !q.startGate.Allow(startGateKey) {
		// Over the start-rate window. Push the message back without
		// spending an attempt.
		_ = q.requeueAndAck(ctx, msg.ID, payload)
		return
	}
	job, err := q.markActive(ctx, jobID, payload.DocumentID)
	if err != nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	go q.heartbeat(hbCtx, job)
	handlerErr := handler(ctx, payload)
	stopHeartbeat()
	if handlerErr == nil {
		_ = q.markCompleted(ctx, jobID)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if job.Attempts >= q.maxRetries {
		_ = q.markFailed(ctx, jobID, handlerErr.Error())
		q.ackAndDel(ctx, msg.ID)
		return
	}
	_ = q.markWaiting(ctx, jobID, handlerErr.Error())
	delay := q.backoff(job.Attempts)
	if delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	_ = q.requeueAndAck(ctx, msg.ID, payload)
}

// heartbeat refreshes the active job's updatedAt while the handler runs, so
// other consumers that claim the message can tell the job is still alive.
func (q *RedisJobQueue) heartbeat(ctx context.Context, job JobStatus) {
	interval := q.claimIdle / 3
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Touch only updatedAt so a beat racing the final state write
			// cannot resurrect an already-finished job.
			_ = q.client.HSet(ctx, q.jobKey(job.ID), "updatedAt", time.Now().UTC().Format(time.RFC3339Nano)).Err()
		}
	}
}

// backoff doubles the base delay per completed attempt.
func (q *RedisJobQueue) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := q.retryBase << (attempts - 1)
	if max := 5 * time.Minute; delay > max {
		delay = max
	}
	return delay
}

func (q *RedisJobQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *RedisJobQueue) requeueAndAck(ctx context.Context, msgID string, payload Payload) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: payloadValues(payload),
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisJobQueue) markActive(ctx context.Context, jobID, docID string) (JobStatus, error) {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return JobStatus{}, err
	}
	if job.ID == "" {
		job = JobStatus{ID: jobID}
	}
	if docID != "" {
		job.DocumentID = docID
	}
	job.Attempts++
	job.State = StateActive
	job.UpdatedAt = time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return JobStatus{}, err
	}
	return job, nil
}

func (q *RedisJobQueue) markWaiting(ctx context.Context, jobID, errMsg string) error {
	return q.setState(ctx, jobID, StateWaiting, errMsg)
}

func (q *RedisJobQueue) markCompleted(ctx context.Context, jobID string) error {
	return q.setState(ctx, jobID, StateCompleted, "")
}

func (q *RedisJobQueue) markFailed(ctx context.Context, jobID, errMsg string) error {
	return q.setState(ctx, jobID, StateFailed, errMsg)
}

func (q *RedisJobQueue) setState(ctx context.Context, jobID, state, errMsg string) error {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.State = state
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, job)
}

func (q *RedisJobQueue) writeStatus(ctx context.Context, job JobStatus) error {
	key := q.jobKey(job.ID)
	payload := map[string]any{
		"id":         job.ID,
		"documentId": job.DocumentID,
		"state":      job.State,
		"error":      job.ErrorMessage,
		"attempts":   strconv.Itoa(job.Attempts),
		"createdAt":  job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":  job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.jobTTL).Err()
	return nil
}

func (q *RedisJobQueue) jobKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.stream, jobID)
}

func decodeJobStatus(jobID string, data map[string]string) JobStatus {
	job := JobStatus{ID: jobID}
	if v := data["documentId"]; v != "" {
		job.DocumentID = v
	}
	if v := data["state"]; v != "" {
		job.State = v
	}
	if v := data["error"]; v != "" {
		job.ErrorMessage = v
	}
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			job.Attempts = n
		}
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.UpdatedAt = t
		}
	}
	return job
}
