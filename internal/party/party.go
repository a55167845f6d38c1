package party

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const tagPool = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Party is a named group of sessions watching together. Every field below mu
// is owned by mu; the manager takes it for the whole handling of one event.
type Party struct {
	ID        int64
	Name      string
	CreatedAt time.Time

	mu        sync.Mutex
	attendees map[string]*Attendee
	order     []string
	// targets maps a remote-controlled session to the attendee steering it.
	targets map[string]*Attendee

	queue               []string
	index               int
	mediaSourceID       string
	audioStreamIndex    *int
	subtitleStreamIndex *int
	previousItem        string

	noUnpauseAfterSync bool
	inSyncConclusion   bool
	guestPauseAction   bool

	hostClear    *time.Timer
	hostClearGen uint64
	closed       bool

	transcript []TranscriptEntry
	out        *outbox
	m          *Manager
	rng        *rand.Rand
	logger     *zap.Logger
}

func newParty(m *Manager, id int64, name string) *Party {
	now := m.now()
	logger := m.logger.With(zap.Int64("party_id", id), zap.String("party", name))
	return &Party{
		ID:        id,
		Name:      name,
		CreatedAt: now,
		attendees: make(map[string]*Attendee),
		targets:   make(map[string]*Attendee),
		out:       newOutbox(id, m.policy.OutboxSize, m.policy.SendTimeout, logger),
		m:         m,
		rng:       rand.New(rand.NewPCG(uint64(now.UnixNano()), uint64(id))),
		logger:    logger,
	}
}

// Host returns the hosting attendee, if any.
func (p *Party) Host() *Attendee {
	for _, id := range p.order {
		if a := p.attendees[id]; a.IsHost {
			return a
		}
	}
	return nil
}

// Attendee returns the attendee for sessionID.
func (p *Party) Attendee(sessionID string) *Attendee {
	return p.attendees[sessionID]
}

// Len is the number of attendees.
func (p *Party) Len() int { return len(p.attendees) }

// Attendees returns attendees in join order.
func (p *Party) Attendees() []*Attendee {
	out := make([]*Attendee, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.attendees[id])
	}
	return out
}

// Players are attendees that run their own player, i.e. are not remote controlled.
func (p *Party) Players() []*Attendee {
	out := make([]*Attendee, 0, len(p.order))
	for _, id := range p.order {
		if a := p.attendees[id]; !a.IsBeingRemoteControlled() {
			out = append(out, a)
		}
	}
	return out
}

// CurrentItemID is the queue item being watched, or "".
func (p *Party) CurrentItemID() string {
	if p.index < 0 || p.index >= len(p.queue) {
		return ""
	}
	return p.queue[p.index]
}

func (p *Party) nextItemID() string {
	if p.index+1 < 0 || p.index+1 >= len(p.queue) {
		return ""
	}
	return p.queue[p.index+1]
}

func (p *Party) randomTag(n int) string {
	var b strings.Builder
	for range n {
		b.WriteByte(tagPool[p.rng.IntN(len(tagPool))])
	}
	return b.String()
}

func (p *Party) alternativeNames(a *Attendee) []string {
	return []string{
		a.UserName + " - " + a.DeviceName,
		a.UserName + " " + p.randomTag(2),
	}
}

// AttendeeByDisplayName matches case-insensitively.
func (p *Party) AttendeeByDisplayName(name string) *Attendee {
	for _, id := range p.order {
		if a := p.attendees[id]; strings.EqualFold(a.DisplayName, name) {
			return a
		}
	}
	return nil
}

// join adds a session. It returns nil when the session is already present.
func (p *Party) join(sessionID string, id Identity) *Attendee {
	if _, ok := p.attendees[sessionID]; ok {
		return nil
	}
	a := newAttendee(p, sessionID, p.m.now)
	a.UserID = id.UserID
	a.UserName = id.UserName
	a.DeviceID = id.DeviceID
	a.DeviceName = id.DeviceName
	a.DeviceType = id.DeviceType
	a.HasPicture = id.HasPicture
	a.DisplayName = id.UserName
	a.chatLimiter = rate.NewLimiter(rate.Limit(p.m.policy.ChatPerSecond), p.m.policy.ChatBurst)

	p.resolveNameCollision(a)

	p.attendees[sessionID] = a
	p.order = append(p.order, sessionID)

	p.notifyExcept(sessionID, PartyJoin{
		UserID:             a.UserID,
		HasPicture:         a.HasPicture,
		Name:               a.DisplayName,
		IsRemoteControlled: a.IsBeingRemoteControlled(),
	})
	return a
}

// resolveNameCollision renames both the newcomer and the holder of its name
// until display names are unique again.
func (p *Party) resolveNameCollision(a *Attendee) {
	alts := p.alternativeNames(a)
	idx := 0
	var renamed *Attendee
	oldName := ""
	dup := p.AttendeeByDisplayName(a.DisplayName)
	for attempts := 0; dup != nil && attempts <= len(p.attendees)+len(alts); attempts++ {
		a.DisplayName = alts[idx]
		dupAlts := p.alternativeNames(dup)
		if renamed == nil {
			oldName = dup.DisplayName
		}
		renamed = dup
		renamed.DisplayName = dupAlts[idx]
		dup = p.AttendeeByDisplayName(a.DisplayName)
		if idx < len(alts)-1 {
			idx++
		} else if dup != nil {
			alts = p.alternativeNames(a)
		}
	}
	if renamed != nil {
		p.notifyAll(PartyUpdateName{OldName: oldName, NewName: renamed.DisplayName})
	}
}

// part removes a session and hands the host role to the next attendee.
func (p *Party) part(sessionID string) *Attendee {
	a := p.attendees[sessionID]
	if a == nil {
		return nil
	}
	delete(p.attendees, sessionID)
	for i, id := range p.order {
		if id == sessionID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	// Edges this attendee was steering go away with it; an edge naming it as
	// target stays so that a rejoin is controlled immediately.
	for target, controller := range p.targets {
		if controller == a {
			delete(p.targets, target)
			if t := p.attendees[target]; t != nil {
				p.notifyAll(PartyUpdateRemoteControlled{Name: t.DisplayName, Status: false})
			}
		}
	}

	p.notifyAll(PartyLeave{Name: a.DisplayName, IsHosting: a.IsHost})

	if a.IsHost && len(p.order) > 0 {
		a.IsHost = false
		next := p.attendees[p.order[0]]
		next.IsHost = true
		p.notifyAll(PartyUpdateHost{Host: next.DisplayName})
	}
	return a
}

// setRemoteControl points controllerID at targetID ("" clears). It refuses
// edges that would close a cycle inside the party and targets already
// steered by someone else.
func (p *Party) setRemoteControl(controllerID, targetID string) bool {
	if controllerID == "" {
		return false
	}
	if controllerID == targetID {
		targetID = ""
	}
	a := p.attendees[controllerID]
	if a == nil {
		return false
	}
	if a.RemoteControl == targetID {
		return true
	}
	if targetID != "" {
		if other, ok := p.targets[targetID]; ok && other != a {
			return false
		}
		if p.wouldCycle(controllerID, targetID) {
			return false
		}
	}

	if a.RemoteControl != "" {
		delete(p.targets, a.RemoteControl)
		if former := p.attendees[a.RemoteControl]; former != nil {
			p.notifyAll(PartyUpdateRemoteControlled{Name: former.DisplayName, Status: false})
		}
	}
	a.RemoteControl = targetID
	if targetID != "" {
		p.targets[targetID] = a
		if t := p.attendees[targetID]; t != nil {
			p.notifyAll(PartyUpdateRemoteControlled{Name: t.DisplayName, Status: true})
		}
	}
	return true
}

func (p *Party) wouldCycle(controllerID, targetID string) bool {
	seen := map[string]struct{}{controllerID: {}}
	cur := targetID
	for cur != "" {
		if _, ok := seen[cur]; ok {
			return true
		}
		seen[cur] = struct{}{}
		next := p.attendees[cur]
		if next == nil {
			return false
		}
		cur = next.RemoteControl
	}
	return false
}

// attendeeByTarget resolves the session that reported an event to the
// attendee responsible for it, following reverse remote-control edges.
func (p *Party) attendeeByTarget(sessionID string) *Attendee {
	seen := map[string]struct{}{}
	cur := sessionID
	for {
		controller, ok := p.targets[cur]
		if !ok {
			break
		}
		if _, loop := seen[cur]; loop {
			break
		}
		seen[cur] = struct{}{}
		cur = controller.ID
	}
	return p.attendees[cur]
}

func (p *Party) userIDs() []string {
	seen := make(map[string]struct{}, len(p.attendees))
	out := make([]string, 0, len(p.attendees))
	for _, id := range p.order {
		uid := p.attendees[id].UserID
		if _, ok := seen[uid]; ok {
			continue
		}
		seen[uid] = struct{}{}
		out = append(out, uid)
	}
	return out
}

func (p *Party) setStates(s AttendeeState) {
	for _, a := range p.attendees {
		a.SetState(s)
	}
}

// setPlayerStates moves players to players and remote-controlled attendees
// to controlled; a nil state leaves that group untouched.
func (p *Party) setPlayerStates(players, controlled *AttendeeState) {
	for _, a := range p.attendees {
		if a.IsBeingRemoteControlled() {
			if controlled != nil {
				a.SetState(*controlled)
			}
		} else if players != nil {
			a.SetState(*players)
		}
	}
}

func (p *Party) allInState(s AttendeeState) bool {
	for _, a := range p.attendees {
		if a.State() != s {
			return false
		}
	}
	return true
}

func (p *Party) resetPositionTicks(t int64) {
	for _, a := range p.attendees {
		a.SetPositionTicks(t)
	}
}

func (p *Party) ignoreNext(e ProgressEvent) {
	for _, a := range p.Players() {
		a.IgnoreNext(e)
	}
}

func (p *Party) clearIgnores() {
	for _, a := range p.attendees {
		a.ClearIgnores()
		a.IsPaused = false
	}
}

func (p *Party) clearOngoing() {
	p.queue = nil
	p.index = 0
	p.mediaSourceID = ""
	p.audioStreamIndex = nil
	p.subtitleStreamIndex = nil
	p.noUnpauseAfterSync = false
	p.inSyncConclusion = false
	p.guestPauseAction = false
}

// setHost sets or clears a's host flag and announces the change.
func (p *Party) setHost(a *Attendee, hosting bool) {
	p.cancelHostClear()
	changed := a.IsHost != hosting
	if hosting {
		for _, other := range p.attendees {
			if other != a && other.IsHost {
				other.IsHost = false
				changed = true
			}
		}
	}
	a.IsHost = hosting
	if !changed {
		return
	}
	name := ""
	if hosting {
		name = a.DisplayName
	}
	p.notifyAll(PartyUpdateHost{Host: name})
}

func (p *Party) cancelHostClear() {
	if p.hostClear != nil {
		p.hostClear.Stop()
		p.hostClear = nil
	}
	p.hostClearGen++
}

// scheduleHostClear clears the host after grace unless a new start cancels it.
func (p *Party) scheduleHostClear(grace time.Duration) {
	p.cancelHostClear()
	gen := p.hostClearGen
	p.hostClear = time.AfterFunc(grace, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed || p.hostClearGen != gen {
			return
		}
		p.hostClear = nil
		p.logger.Debug("late host clear")
		p.clearHost()
	})
}

// clearHost ends the current playback: everyone goes idle and guests stop.
func (p *Party) clearHost() {
	host := p.Host()
	if host == nil {
		return
	}
	p.setHost(host, false)
	p.previousItem = ""
	p.clearOngoing()
	p.clearIgnores()
	for _, id := range p.order {
		a := p.attendees[id]
		a.cancelPendingPlay()
		a.SetState(Idle)
		a.ResetAccuracy()
		a.CurrentItemID = ""
		if a != host {
			p.sendPlaystate(a, PlaystateRequest{Command: PlaystateStop})
		}
	}
}

func (p *Party) close() {
	p.closed = true
	p.cancelHostClear()
	for _, a := range p.attendees {
		a.cancelPendingPlay()
	}
	p.out.close()
}

func (p *Party) appendTranscript(e TranscriptEntry) {
	p.transcript = append(p.transcript, e)
	if over := len(p.transcript) - p.m.policy.TranscriptLimit; over > 0 {
		p.transcript = append([]TranscriptEntry(nil), p.transcript[over:]...)
	}
}

// Transcript returns a copy of the recent chat and log lines.
func (p *Party) Transcript() []TranscriptEntry {
	return append([]TranscriptEntry(nil), p.transcript...)
}

// Outbound helpers. Commands for the player go to the attendee's target;
// notifications go to the attendee's own session.

func (p *Party) sendPlay(a *Attendee, req PlayRequest) {
	target := a.TargetID()
	ctrl := p.m.controller
	p.out.push(delivery{target: target, kind: "Play", send: func(ctx context.Context) error {
		return ctrl.SendPlay(ctx, target, req)
	}})
}

func (p *Party) sendPlaystate(a *Attendee, req PlaystateRequest) {
	target := a.TargetID()
	ctrl := p.m.controller
	p.out.push(delivery{target: target, kind: string(req.Command), send: func(ctx context.Context) error {
		return ctrl.SendPlaystate(ctx, target, req)
	}})
}

func (p *Party) sendPlayerCommand(a *Attendee, cmd Command) {
	p.pushCommand(a.TargetID(), cmd)
}

func (p *Party) sendCommand(a *Attendee, cmd Command) {
	p.pushCommand(a.ID, cmd)
}

func (p *Party) pushCommand(target string, cmd Command) {
	ctrl := p.m.controller
	p.out.push(delivery{target: target, kind: cmd.CommandName(), send: func(ctx context.Context) error {
		return ctrl.SendGeneralCommand(ctx, target, cmd)
	}})
}

func (p *Party) notifyAll(cmd Command) {
	p.notifyExcept("", cmd)
}

func (p *Party) notifyExcept(exceptID string, cmd Command) {
	for _, id := range p.order {
		if id == exceptID {
			continue
		}
		p.sendCommand(p.attendees[id], cmd)
	}
}

func (p *Party) publishBridge(cmd Command) {
	bridge := p.m.bridge
	if bridge == nil {
		return
	}
	name := p.Name
	p.out.push(delivery{target: "bridge", kind: cmd.CommandName(), send: func(ctx context.Context) error {
		return bridge.PublishPartyEvent(ctx, BridgeGeneralCommand, name, cmd)
	}})
}

// logMessage posts a line to the party log, the transcript and the bridge.
func (p *Party) logMessage(kind, subject string) {
	cmd := PartyLogMessage{Type: kind, Subject: subject}
	p.notifyAll(cmd)
	p.appendTranscript(TranscriptEntry{At: p.m.now(), Kind: TranscriptLog, Name: kind, Message: subject})
	p.publishBridge(cmd)
}
