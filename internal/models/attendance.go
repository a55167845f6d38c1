package models

import "time"

// Attendance is one join/leave row of the party attendance log.
type Attendance struct {
	ID           int64      `json:"id"`
	PartyID      int64      `json:"party_id"`
	PartyName    string     `json:"party_name"`
	SessionID    string     `json:"session_id"`
	UserID       string     `json:"user_id"`
	DisplayName  string     `json:"display_name"`
	JoinedAt     time.Time  `json:"joined_at"`
	LeftAt       *time.Time `json:"left_at,omitempty"`
	WatchSeconds int64      `json:"watch_seconds"`
}
