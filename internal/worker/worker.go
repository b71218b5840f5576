// Package worker copies ended-session history documents to object storage.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aura-remote/backend/pkg/queue"
	"github.com/aura-remote/backend/pkg/storage"
)

var ErrUnknownJob = errors.New("unknown job type")

// JobSource yields archive jobs and takes back the ones that failed.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ArchiveStore is the object store the archive lands in.
type ArchiveStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	PutJSON(ctx context.Context, key string, body []byte) (string, error)
}

// ArchiveProcessor uploads each history document to session-history/{session_id}/{unix}.json.
type ArchiveProcessor struct {
	source  JobSource
	store   ArchiveStore
	backoff time.Duration
	logger  *zap.Logger
}

// NewArchiveProcessor creates an archive processor.
func NewArchiveProcessor(source JobSource, store ArchiveStore, logger *zap.Logger) *ArchiveProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveProcessor{source: source, store: store, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one archive job. Re-running a job whose object already exists is a no-op.
func (p *ArchiveProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeHistoryArchive {
		return fmt.Errorf("%w: %s", ErrUnknownJob, job.Type)
	}
	var payload queue.HistoryArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.SessionID == "" || len(payload.Document) == 0 {
		return fmt.Errorf("incomplete archive payload in job %s", job.ID)
	}

	key := storage.HistoryKey(payload.SessionID, payload.ArchivedAt)
	exists, err := p.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check archive: %w", err)
	}
	if exists {
		p.logger.Info("archive already present", zap.String("session_id", payload.SessionID), zap.String("s3_key", key))
		return nil
	}
	url, err := p.store.PutJSON(ctx, key, payload.Document)
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	p.logger.Info("session archived", zap.String("session_id", payload.SessionID), zap.String("s3_key", key), zap.String("url", url))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ArchiveProcessor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("archive worker stopping")
			return
		}

		job, err := p.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.source.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *ArchiveProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
