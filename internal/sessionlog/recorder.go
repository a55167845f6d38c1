package sessionlog

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// Entry identifies one attendee of one party.
type Entry struct {
	PartyID     int64
	PartyName   string
	SessionID   string
	UserID      string
	DisplayName string
}

// Store persists attendance.
type Store interface {
	LogJoin(ctx context.Context, e Entry) error
	LogLeave(ctx context.Context, e Entry) error
}

// Recorder writes attendance in the background. Its Join and Leave methods
// have the party.AttendanceFunc signature and never block the caller.
type Recorder struct {
	store  Store
	logger *zap.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, logger: logger}
}

// Join records that a session entered a party.
func (r *Recorder) Join(partyID int64, partyName, sessionID, userID, displayName string) {
	r.write("join", r.store.LogJoin, Entry{partyID, partyName, sessionID, userID, displayName})
}

// Leave records that a session left a party.
func (r *Recorder) Leave(partyID int64, partyName, sessionID, userID, displayName string) {
	r.write("leave", r.store.LogLeave, Entry{partyID, partyName, sessionID, userID, displayName})
}

func (r *Recorder) write(kind string, fn func(context.Context, Entry) error, e Entry) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := fn(ctx, e); err != nil {
			r.logger.Warn("attendance log failed",
				zap.String("kind", kind),
				zap.Int64("party_id", e.PartyID),
				zap.String("session_id", e.SessionID),
				zap.Error(err))
		}
	}()
}
