package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/watchparty/backend/internal/archive"
	"github.com/watchparty/backend/internal/models"
	"github.com/watchparty/backend/pkg/queue"
	"github.com/watchparty/backend/pkg/storage"
)

// ObjectStore stores transcript objects.
type ObjectStore interface {
	UploadArchive(ctx context.Context, key string, body io.Reader, contentLength int64) error
	DeleteArchive(ctx context.Context, key string) error
}

// ArchiveIndex records stored transcripts.
type ArchiveIndex interface {
	Insert(ctx context.Context, a *models.PartyArchive) error
}

// JobSource feeds the worker loop.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ArchiveProcessor processes party archive jobs: write the transcript to S3, then index it.
type ArchiveProcessor struct {
	store   ObjectStore
	index   ArchiveIndex
	jobs    JobSource
	backoff time.Duration
	logger  *zap.Logger
}

// NewArchiveProcessor creates a party archive processor.
func NewArchiveProcessor(store ObjectStore, index ArchiveIndex, jobs JobSource, logger *zap.Logger) *ArchiveProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveProcessor{store: store, index: index, jobs: jobs, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one archive job.
func (p *ArchiveProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypePartyArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload archive.Payload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	doc, err := json.Marshal(archive.Document{
		ArchiveID:  payload.ArchiveID,
		Party:      payload.PartyName,
		StartedAt:  payload.StartedAt,
		EndedAt:    payload.EndedAt,
		Transcript: payload.Transcript,
	})
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	key := storage.ArchiveKey(payload.EndedAt, payload.ArchiveID.String())
	if err := p.store.UploadArchive(ctx, key, bytes.NewReader(doc), int64(len(doc))); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	rec := &models.PartyArchive{
		ID:           payload.ArchiveID,
		PartyID:      payload.PartyID,
		PartyName:    payload.PartyName,
		StartedAt:    payload.StartedAt,
		EndedAt:      payload.EndedAt,
		MessageCount: len(payload.Transcript),
		S3Key:        key,
		SizeBytes:    int64(len(doc)),
	}
	if err := p.index.Insert(ctx, rec); err != nil {
		p.logger.Error("index archive failed", zap.Error(err), zap.String("archive_id", rec.ID.String()))
		if delErr := p.store.DeleteArchive(ctx, key); delErr != nil {
			p.logger.Warn("remove orphan archive failed", zap.Error(delErr), zap.String("s3_key", key))
		}
		return fmt.Errorf("update db: %w", err)
	}

	p.logger.Info("party archive stored",
		zap.String("archive_id", rec.ID.String()),
		zap.String("party", rec.PartyName),
		zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ArchiveProcessor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			p.logger.Info("archive worker stopping")
			return nil
		}

		job, err := p.jobs.Dequeue(ctx)
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
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
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
