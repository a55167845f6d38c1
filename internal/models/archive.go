package models

import (
	"time"

	"github.com/google/uuid"
)

// PartyArchive indexes a transcript stored in object storage after a party ended.
type PartyArchive struct {
	ID           uuid.UUID `json:"id"`
	PartyID      int64     `json:"party_id"`
	PartyName    string    `json:"party_name"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	MessageCount int       `json:"message_count"`
	S3Key        string    `json:"s3_key"`
	SizeBytes    int64     `json:"size_bytes"`
	ArchivedAt   time.Time `json:"archived_at"`
}
