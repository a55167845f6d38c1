package party

import "time"

// Tick units as used by the media server: 1 tick = 100ns.
const (
	TicksPerMillisecond int64 = 10_000
	TicksPerSecond      int64 = 10_000_000
)

// Protocol thresholds.
const (
	// ExactStartTicks is the position a freshly started queue item reports.
	ExactStartTicks = 1 * TicksPerSecond
	// NoPauseAtTheEnd ignores host pauses this close to the end of the media.
	NoPauseAtTheEnd = 5 * TicksPerSecond
	// NoReturnAtTheEnd parks guests that land on a different item this close to the end.
	NoReturnAtTheEnd = 10 * TicksPerSecond
	// AssumedFinishedInterval is the tail in which an unchanged host position counts as stalled.
	AssumedFinishedInterval = 5 * TicksPerSecond
)

// TicksFromDuration converts d to ticks.
func TicksFromDuration(d time.Duration) int64 {
	return int64(d / 100)
}

// AttendeeState is the position of an attendee in the sync state machine.
type AttendeeState int

const (
	Idle AttendeeState = iota
	WaitForPlay
	WaitForSeek
	Syncing
	Ready
)

func (s AttendeeState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case WaitForPlay:
		return "WaitForPlay"
	case WaitForSeek:
		return "WaitForSeek"
	case Syncing:
		return "Syncing"
	case Ready:
		return "Ready"
	default:
		return "Unknown"
	}
}

// IsWaiting reports whether the attendee still owes the party a start or seek report.
func (s AttendeeState) IsWaiting() bool {
	return s == WaitForPlay || s == WaitForSeek
}

// ProgressEvent is the kind of a playback progress report.
type ProgressEvent string

const (
	EventTimeUpdate          ProgressEvent = "TimeUpdate"
	EventPause               ProgressEvent = "Pause"
	EventUnpause             ProgressEvent = "Unpause"
	EventAudioTrackChange    ProgressEvent = "AudioTrackChange"
	EventSubtitleTrackChange ProgressEvent = "SubtitleTrackChange"
)

// PlaystateCommand controls an already playing session.
type PlaystateCommand string

const (
	PlaystatePause   PlaystateCommand = "Pause"
	PlaystateUnpause PlaystateCommand = "Unpause"
	PlaystateSeek    PlaystateCommand = "Seek"
	PlaystateStop    PlaystateCommand = "Stop"
)

// PlayCommand starts playback of a queue.
type PlayCommand string

const PlayNow PlayCommand = "PlayNow"

// PlayRequest asks a session to start playing a queue.
type PlayRequest struct {
	ItemIDs             []string
	StartIndex          int
	StartPositionTicks  int64
	PlayCommand         PlayCommand
	MediaSourceID       string
	AudioStreamIndex    *int
	SubtitleStreamIndex *int
}

// PlaystateRequest asks a session to pause, resume, seek or stop.
type PlaystateRequest struct {
	Command           PlaystateCommand
	SeekPositionTicks *int64
}

// Item is a library item as far as the party cares.
type Item struct {
	ID           string
	Name         string
	RunTimeTicks int64
}

// User is an identity known to the media server.
type User struct {
	ID         string
	Name       string
	HasPicture bool
}

// PlayState is the player state attached to a session or event.
type PlayState struct {
	PositionTicks       int64
	IsPaused            bool
	MediaSourceID       string
	AudioStreamIndex    *int
	SubtitleStreamIndex *int
}

// SessionInfo describes a client session of the media server.
type SessionInfo struct {
	ID             string
	UserID         string
	UserName       string
	DeviceID       string
	DeviceName     string
	DeviceType     string
	NowPlayingItem *Item
	PlayState      *PlayState
	Queue          []string
	PlaylistIndex  int
}

// PlaybackStart is reported when a session begins playing an item.
type PlaybackStart struct {
	SessionID     string
	PlaySessionID string
	DeviceID      string
	Item          Item
	Session       SessionInfo
}

// PlaybackProgress is reported periodically and on pause, resume and track changes.
type PlaybackProgress struct {
	SessionID     string
	PlaySessionID string
	Event         ProgressEvent
	Item          Item
	PositionTicks int64
	PlayState     PlayState
}

// PlaybackStopped is reported when a session stops playing.
type PlaybackStopped struct {
	SessionID     string
	PlaySessionID string
}

func intPtr(v int) *int { return &v }

func int64Ptr(v int64) *int64 { return &v }
