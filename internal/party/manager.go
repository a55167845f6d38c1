package party

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPartyNotFound = errors.New("party: not found")
	ErrNameTaken     = errors.New("party: name already in use")
	ErrNoAccess      = errors.New("party: media not accessible")
)

// Join rejection reasons shown to users.
const (
	ReasonNameTaken     = "There is already a party with that name."
	ReasonMissingTarget = "Either the party ID or a party name must be provided."
	ReasonNoAccess      = "Party doesn't exist or user doesn't have permission to access media."
	ReasonUnsafeRemote  = "Remote control target would create a loop."
)

// Manager owns every live party and routes playback events and client
// messages to them.
//
// Lock order is Party.mu before Manager.mu. Manager.mu only guards the
// registries and is never held while taking a party lock.
type Manager struct {
	mu       sync.RWMutex
	parties  map[int64]*Party
	sessions map[string]*Party
	targets  map[string]*Party
	nextID   int64

	// joinMu serializes membership changes driven by join requests so a
	// session can never end up in two parties.
	joinMu sync.Mutex

	// remoteMu serializes remote-control changes so the cross-party safety
	// walk and the commit see the same graph. It is taken before any party lock.
	remoteMu sync.Mutex

	controller Controller
	directory  Directory
	bridge     BridgePublisher
	policy     Policy
	logger     *zap.Logger
	now        func() time.Time

	onJoin  AttendanceFunc
	onLeave AttendanceFunc
	onEnded EndedFunc

	pingMu   sync.Mutex
	lastPing int64

	hbMu     sync.Mutex
	hbCancel context.CancelFunc
	hbDone   chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy overrides the default timings.
func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p.withDefaults() }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithBridge mirrors chat and log lines to an external bridge.
func WithBridge(b BridgePublisher) Option {
	return func(m *Manager) { m.bridge = b }
}

// WithAttendanceLog registers join and leave callbacks.
func WithAttendanceLog(onJoin, onLeave AttendanceFunc) Option {
	return func(m *Manager) {
		m.onJoin = onJoin
		m.onLeave = onLeave
	}
}

// WithEndedHandler registers a callback for discarded parties.
func WithEndedHandler(fn EndedFunc) Option {
	return func(m *Manager) { m.onEnded = fn }
}

// NewManager creates a Manager.
func NewManager(controller Controller, directory Directory, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		parties:    make(map[int64]*Party),
		sessions:   make(map[string]*Party),
		targets:    make(map[string]*Party),
		controller: controller,
		directory:  directory,
		policy:     DefaultPolicy(),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the active timings.
func (m *Manager) Policy() Policy { return m.policy }

// Party returns the party with id.
func (m *Manager) Party(id int64) *Party {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.parties[id]
}

// SessionParty returns the party sessionID attends.
func (m *Manager) SessionParty(sessionID string) *Party {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// partyForTarget finds the party responsible for events of sessionID, which
// may be a remote-controlled session that is not an attendee itself.
func (m *Manager) partyForTarget(sessionID string) *Party {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.targets[sessionID]; ok {
		return p
	}
	return m.sessions[sessionID]
}

func (m *Manager) partyByName(name string) *Party {
	for _, p := range m.parties {
		if strings.EqualFold(p.Name, name) {
			return p
		}
	}
	return nil
}

// acquire locks the party of sessionID and resolves the responsible
// attendee. On success the caller must unlock p.mu.
func (m *Manager) acquire(sessionID string, byTarget bool) (*Party, *Attendee) {
	var p *Party
	if byTarget {
		p = m.partyForTarget(sessionID)
	} else {
		p = m.SessionParty(sessionID)
	}
	if p == nil {
		return nil, nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil
	}
	var a *Attendee
	if byTarget {
		a = p.attendeeByTarget(sessionID)
	} else {
		a = p.attendees[sessionID]
	}
	if a == nil {
		p.mu.Unlock()
		return nil, nil
	}
	return p, a
}

func (m *Manager) recoverEvent(kind, sessionID string) {
	if r := recover(); r != nil {
		m.logger.Error("party event handler panicked",
			zap.String("event", kind),
			zap.String("session_id", sessionID),
			zap.Any("panic", r))
	}
}

// JoinRequest is a client's request to enter a party.
type JoinRequest struct {
	PartyID       *int64
	Name          string
	RemoteControl string
}

// JoinResult reports the outcome of Join.
type JoinResult struct {
	Success       bool   `json:"success"`
	Reason        string `json:"reason,omitempty"`
	PartyID       int64  `json:"party_id,omitempty"`
	RemoteControl string `json:"remote_control,omitempty"`
}

// Join enters an existing party by id or creates a new one by name.
func (m *Manager) Join(ctx context.Context, session SessionInfo, req JoinRequest) JoinResult {
	var (
		p   *Party
		err error
	)
	switch {
	case req.PartyID != nil:
		p, err = m.AddToParty(ctx, session, *req.PartyID)
	case strings.TrimSpace(req.Name) != "":
		p, err = m.CreateParty(ctx, session, req.Name)
	default:
		return JoinResult{Reason: ReasonMissingTarget}
	}
	if errors.Is(err, ErrNameTaken) {
		return JoinResult{Reason: ReasonNameTaken}
	}
	if err != nil {
		m.logger.Debug("join rejected", zap.String("session_id", session.ID), zap.Error(err))
		return JoinResult{Reason: ReasonNoAccess}
	}

	res := JoinResult{Success: true, PartyID: p.ID}
	if req.RemoteControl != "" {
		if m.SetRemoteControl(session.ID, req.RemoteControl) {
			res.RemoteControl = req.RemoteControl
		} else {
			res.Reason = ReasonUnsafeRemote
		}
	}
	return res
}

// CreateParty starts a party named name with session as its first attendee.
func (m *Manager) CreateParty(ctx context.Context, session SessionInfo, name string) (*Party, error) {
	m.joinMu.Lock()
	p, start, err := m.createParty(ctx, session, name)
	m.joinMu.Unlock()
	m.startJoined(ctx, start)
	return p, err
}

func (m *Manager) createParty(ctx context.Context, session SessionInfo, name string) (*Party, *PlaybackStart, error) {
	name = truncateRunes(strings.TrimSpace(name), m.policy.NameMaxLength)

	m.mu.Lock()
	if m.partyByName(name) != nil {
		m.mu.Unlock()
		return nil, nil, ErrNameTaken
	}
	m.nextID++
	p := newParty(m, m.nextID, name)
	m.parties[p.ID] = p
	m.mu.Unlock()

	m.logger.Info("party created", zap.Int64("party_id", p.ID), zap.String("party", name))

	_, start, err := m.addToParty(ctx, session, p.ID)
	if err != nil {
		m.mu.Lock()
		delete(m.parties, p.ID)
		m.mu.Unlock()
		p.mu.Lock()
		p.close()
		p.mu.Unlock()
		return nil, nil, err
	}
	return p, start, nil
}

// JoinByName creates a party under a unique name.
func (m *Manager) JoinByName(ctx context.Context, session SessionInfo, name string) (*Party, error) {
	return m.CreateParty(ctx, session, name)
}

// AddToParty moves session into the party with id.
func (m *Manager) AddToParty(ctx context.Context, session SessionInfo, id int64) (*Party, error) {
	m.joinMu.Lock()
	p, start, err := m.addToParty(ctx, session, id)
	m.joinMu.Unlock()
	m.startJoined(ctx, start)
	return p, err
}

// startJoined lets an attendee that joined while already playing try to
// host. It runs after the join so the directory is never queried under a
// party lock.
func (m *Manager) startJoined(ctx context.Context, start *PlaybackStart) {
	if start == nil {
		return
	}
	defer m.recoverEvent("join start", start.SessionID)
	m.startPlayback(ctx, *start, false, rejectPreviousStart)
}

// addToParty joins session to party id. A non-nil start must be passed to
// startJoined once joinMu is released.
func (m *Manager) addToParty(ctx context.Context, session SessionInfo, id int64) (*Party, *PlaybackStart, error) {
	p := m.Party(id)
	if p == nil {
		return nil, nil, ErrPartyNotFound
	}
	p.mu.Lock()
	closed, item := p.closed, p.CurrentItemID()
	p.mu.Unlock()
	if closed {
		return nil, nil, ErrPartyNotFound
	}
	if item != "" {
		visible, err := m.directory.IsItemVisible(ctx, session.UserID, item)
		if err != nil {
			return nil, nil, fmt.Errorf("check item visibility: %w", err)
		}
		if !visible {
			return nil, nil, ErrNoAccess
		}
	}
	ident := m.identity(ctx, session)

	m.RemoveFromParty(session.ID)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil, ErrPartyNotFound
	}
	a := p.join(session.ID, ident)
	if a == nil {
		return p, nil, nil
	}
	m.mu.Lock()
	m.sessions[session.ID] = p
	m.mu.Unlock()

	p.logger.Info("attendee joined",
		zap.String("session_id", a.ID),
		zap.String("name", a.DisplayName))
	m.attendance(m.onJoin, p, a)

	if p.queue != nil {
		m.lateJoiner(p, a)
	} else if session.NowPlayingItem != nil {
		return p, &PlaybackStart{
			SessionID: session.ID,
			DeviceID:  session.DeviceID,
			Item:      *session.NowPlayingItem,
			Session:   session,
		}, nil
	}
	return p, nil, nil
}

func (m *Manager) identity(ctx context.Context, session SessionInfo) Identity {
	ident := Identity{
		UserID:     session.UserID,
		UserName:   session.UserName,
		DeviceID:   session.DeviceID,
		DeviceName: session.DeviceName,
		DeviceType: session.DeviceType,
	}
	user, err := m.directory.GetUser(ctx, session.UserID)
	if err != nil {
		m.logger.Debug("user lookup failed", zap.String("user_id", session.UserID), zap.Error(err))
		return ident
	}
	ident.HasPicture = user.HasPicture
	if ident.UserName == "" {
		ident.UserName = user.Name
	}
	return ident
}

// RemoveFromParty takes sessionID out of its party, discarding the party
// when it becomes empty.
func (m *Manager) RemoveFromParty(sessionID string) bool {
	p := m.SessionParty(sessionID)
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return m.removeLocked(p, sessionID)
}

// SessionEnded is called when a media server session goes away.
func (m *Manager) SessionEnded(sessionID string) {
	m.RemoveFromParty(sessionID)
}

func (m *Manager) removeLocked(p *Party, sessionID string) bool {
	if p.closed {
		return false
	}
	a := p.part(sessionID)

	m.mu.Lock()
	if m.sessions[sessionID] == p {
		delete(m.sessions, sessionID)
	}
	empty := p.Len() == 0
	if empty {
		delete(m.parties, p.ID)
	}
	m.reindexTargetsLocked(p, empty)
	m.mu.Unlock()

	if a == nil {
		return false
	}
	a.cancelPendingPlay()
	p.logger.Info("attendee left", zap.String("session_id", a.ID), zap.String("name", a.DisplayName))
	m.attendance(m.onLeave, p, a)

	if empty {
		ended := Ended{ID: p.ID, Name: p.Name, CreatedAt: p.CreatedAt, EndedAt: m.now(), Transcript: p.Transcript()}
		p.close()
		p.logger.Info("party discarded")
		m.publishDetached(BridgePartyEnded, p.Name)
		if m.onEnded != nil {
			go m.onEnded(ended)
		}
		return true
	}
	if a.State().IsWaiting() {
		m.checkAndCompleteSync(p)
	}
	return true
}

// reindexTargetsLocked rebuilds the target registry entries of p. m.mu must be held.
func (m *Manager) reindexTargetsLocked(p *Party, drop bool) {
	for target, owner := range m.targets {
		if owner == p {
			delete(m.targets, target)
		}
	}
	if drop {
		return
	}
	for target := range p.targets {
		m.targets[target] = p
	}
}

func (m *Manager) attendance(fn AttendanceFunc, p *Party, a *Attendee) {
	if fn == nil {
		return
	}
	fn(p.ID, p.Name, a.ID, a.UserID, a.DisplayName)
}

func (m *Manager) publishDetached(messageType, partyName string) {
	if m.bridge == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.policy.SendTimeout)
		defer cancel()
		if err := m.bridge.PublishPartyEvent(ctx, messageType, partyName, nil); err != nil {
			m.logger.Warn("bridge publish failed", zap.String("type", messageType), zap.Error(err))
		}
	}()
}

// sendDetached delivers cmd to a session that may no longer be in any party.
func (m *Manager) sendDetached(sessionID string, cmd Command) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.policy.SendTimeout)
		defer cancel()
		if err := m.controller.SendGeneralCommand(ctx, sessionID, cmd); err != nil {
			m.logger.Warn("failed to deliver command",
				zap.String("target", sessionID),
				zap.String("kind", cmd.CommandName()),
				zap.Error(err))
		}
	}()
}

// Summary is a row of the party list.
type Summary struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Attendees int    `json:"attendees"`
}

// List returns every live party ordered by id.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	parties := make([]*Party, 0, len(m.parties))
	for _, p := range m.parties {
		parties = append(parties, p)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(parties))
	for _, p := range parties {
		p.mu.Lock()
		if !p.closed {
			out = append(out, Summary{ID: p.ID, Name: p.Name, Attendees: p.Len()})
		}
		p.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PartyExists reports whether a live party is called name.
func (m *Manager) PartyExists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.partyByName(name) != nil
}

// AttendeeStatus describes one attendee from the point of view of a caller.
type AttendeeStatus struct {
	UserID             string `json:"user_id"`
	HasPicture         bool   `json:"has_picture"`
	Name               string `json:"name"`
	IsHosting          bool   `json:"is_hosting"`
	IsMe               bool   `json:"is_me"`
	IsRemoteControlled bool   `json:"is_remote_controlled"`
	State              string `json:"state"`
}

// Status is the full view of the caller's party.
type Status struct {
	ID                  int64            `json:"id"`
	Name                string           `json:"name"`
	Attendees           []AttendeeStatus `json:"attendees"`
	Queue               []string         `json:"queue,omitempty"`
	Index               int              `json:"index"`
	MediaSourceID       string           `json:"media_source_id,omitempty"`
	AudioStreamIndex    *int             `json:"audio_stream_index,omitempty"`
	SubtitleStreamIndex *int             `json:"subtitle_stream_index,omitempty"`
	IsPaused            bool             `json:"is_paused"`
	RemoteControl       string           `json:"remote_control,omitempty"`
}

// Status returns the party sessionID attends.
func (m *Manager) Status(sessionID string) (*Status, bool) {
	p, me := m.acquire(sessionID, false)
	if p == nil {
		return nil, false
	}
	defer p.mu.Unlock()

	st := &Status{
		ID:                  p.ID,
		Name:                p.Name,
		Queue:               append([]string(nil), p.queue...),
		Index:               p.index,
		MediaSourceID:       p.mediaSourceID,
		AudioStreamIndex:    p.audioStreamIndex,
		SubtitleStreamIndex: p.subtitleStreamIndex,
		RemoteControl:       me.RemoteControl,
	}
	if host := p.Host(); host != nil {
		st.IsPaused = host.IsPaused
	}
	for _, a := range p.Attendees() {
		st.Attendees = append(st.Attendees, AttendeeStatus{
			UserID:             a.UserID,
			HasPicture:         a.HasPicture,
			Name:               a.DisplayName,
			IsHosting:          a.IsHost,
			IsMe:               a == me,
			IsRemoteControlled: a.IsBeingRemoteControlled(),
			State:              a.State().String(),
		})
	}
	return st, true
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
