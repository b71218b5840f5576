// Package queue carries background jobs between the coordinator and the worker over Redis lists.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueArchive is the Redis list key for session history archive jobs.
	QueueArchive = "remote:archive"
	// QueueDLQ is the dead-letter queue for jobs that exhausted their retries.
	QueueDLQ = "remote:archive:dlq"
	// MaxRetries is the number of attempts before a job moves to the DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
	// PollTimeout bounds a single blocking pop so cancellation is noticed.
	PollTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeHistoryArchive JobType = "history_archive"
)

// HistoryArchivePayload is an immutable ended-session document to copy to object storage.
type HistoryArchivePayload struct {
	Collection string          `json:"collection"`
	SessionID  string          `json:"session_id"`
	Document   json.RawMessage `json:"document"`
	ArchivedAt time.Time       `json:"archived_at"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client redis.Cmdable
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client redis.Cmdable, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueHistoryArchive queues an archive job for one history document.
func (q *Queue) EnqueueHistoryArchive(ctx context.Context, payload HistoryArchivePayload) error {
	if payload.ArchivedAt.IsZero() {
		payload.ArchivedAt = time.Now().UTC()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      JobTypeHistoryArchive,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.push(ctx, QueueArchive, &job); err != nil {
		return err
	}
	q.logger.Debug("enqueued archive job", zap.String("job_id", job.ID), zap.String("session_id", payload.SessionID))
	return nil
}

// Dequeue waits up to PollTimeout for a job. It returns nil, nil when nothing arrived.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, PollTimeout, QueueArchive).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt, or moves it to the DLQ after MaxRetries.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	if job.Attempt >= MaxRetries {
		if err := q.push(ctx, QueueDLQ, job); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.push(ctx, QueueArchive, job); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

func (q *Queue) push(ctx context.Context, key string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}
