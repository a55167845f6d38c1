// Package archive keeps the transcripts of ended parties: the ended-party
// hook queues them, the worker stores them in S3, and the handler serves the
// index and download links.
package archive

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/watchparty/backend/internal/party"
	"github.com/watchparty/backend/pkg/queue"
)

const enqueueTimeout = 5 * time.Second

// Payload is the archive job body.
type Payload struct {
	ArchiveID  uuid.UUID               `json:"archive_id"`
	PartyID    int64                   `json:"party_id"`
	PartyName  string                  `json:"party_name"`
	StartedAt  time.Time               `json:"started_at"`
	EndedAt    time.Time               `json:"ended_at"`
	Transcript []party.TranscriptEntry `json:"transcript"`
}

// Document is the object written to storage.
type Document struct {
	ArchiveID  uuid.UUID               `json:"archive_id"`
	Party      string                  `json:"party"`
	StartedAt  time.Time               `json:"started_at"`
	EndedAt    time.Time               `json:"ended_at"`
	Transcript []party.TranscriptEntry `json:"transcript"`
}

// Enqueuer queues jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType queue.JobType, payload any) error
}

// NewEndedHandler returns the party-ended hook that queues a transcript for
// archiving. Parties that never chatted or logged anything are skipped.
func NewEndedHandler(q Enqueuer, logger *zap.Logger) party.EndedFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(e party.Ended) {
		if len(e.Transcript) == 0 {
			logger.Debug("nothing to archive", zap.Int64("party_id", e.ID))
			return
		}
		payload := Payload{
			ArchiveID:  uuid.New(),
			PartyID:    e.ID,
			PartyName:  e.Name,
			StartedAt:  e.CreatedAt,
			EndedAt:    e.EndedAt,
			Transcript: e.Transcript,
		}
		ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
		defer cancel()
		if err := q.Enqueue(ctx, queue.JobTypePartyArchive, payload); err != nil {
			logger.Error("enqueue party archive failed", zap.Int64("party_id", e.ID), zap.Error(err))
			return
		}
		logger.Info("party archive queued",
			zap.Int64("party_id", e.ID),
			zap.String("archive_id", payload.ArchiveID.String()),
			zap.Int("entries", len(e.Transcript)))
	}
}
