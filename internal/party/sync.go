package party

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// pendingPlay is a staggered play command waiting on its timer.
type pendingPlay struct {
	timer   *time.Timer
	batch   *playBatch
	initial AttendeeState
}

// playBatch tracks one round of play commands. When every member has either
// fired or been skipped and none fired, the barrier is re-evaluated.
type playBatch struct {
	pending int
	fired   int
}

// maxLookupAttempts bounds how often a start re-reads the directory when
// the party changed while the lookup ran without the lock.
const maxLookupAttempts = 3

// Chat log reasons for a refused host start.
const (
	rejectStart         = "Failed to start video player."
	rejectPreviousStart = "Failed to host on previous video player."
)

// PlaybackStart handles a session that began playing an item.
func (m *Manager) PlaybackStart(ctx context.Context, e PlaybackStart) {
	defer m.recoverEvent("playback start", e.SessionID)
	m.startPlayback(ctx, e, true, rejectStart)
}

// startPlayback applies e under the party lock. Directory lookups a host
// start needs are made with the lock released and validated after relocking.
func (m *Manager) startPlayback(ctx context.Context, e PlaybackStart, byTarget bool, reject string) {
	var lk *playLookup
	for attempt := 1; ; attempt++ {
		users, prevID, retry := m.applyPlaybackStart(e, byTarget, reject, lk, attempt == maxLookupAttempts)
		if !retry {
			return
		}
		lk = m.lookupPlay(ctx, e.Session, users, prevID)
	}
}

func (m *Manager) applyPlaybackStart(e PlaybackStart, byTarget bool, reject string, lk *playLookup, final bool) ([]string, string, bool) {
	p, a := m.acquire(e.SessionID, byTarget)
	if p == nil {
		return nil, "", false
	}
	defer p.mu.Unlock()

	host := p.Host()
	guest := host != nil && host != a
	if !guest && !final && validStart(e.Session) && !lk.covers(p, a) {
		users, prevID := p.playSnapshot(a)
		return users, prevID, true
	}

	p.logger.Debug("playback start",
		zap.String("session_id", e.SessionID),
		zap.String("attendee", a.ID),
		zap.String("item_id", e.Item.ID),
		zap.String("state", a.State().String()))

	a.ResetAccuracy()
	a.PlaySessionID = e.PlaySessionID
	a.ReportedDeviceID = e.DeviceID
	a.CurrentItemID = e.Item.ID
	a.RunTimeTicks = e.Item.RunTimeTicks

	if guest {
		m.guestStart(p, host, a, e)
		return nil, "", false
	}
	m.hostStart(p, a, e.Session, lk, reject)
	return nil, "", false
}

func (m *Manager) hostStart(p *Party, a *Attendee, session SessionInfo, lk *playLookup, reject string) {
	if m.initiatePartyPlay(p, a, session, lk) {
		return
	}
	p.sendPlaystate(a, PlaystateRequest{Command: PlaystateStop})
	p.logMessage("Reject", reject)
}

func validStart(session SessionInfo) bool {
	return session.PlayState != nil && session.PlaylistIndex >= 0 && session.PlaylistIndex < len(session.Queue)
}

// playLookup holds directory answers gathered without the party lock.
type playLookup struct {
	itemID   string
	item     *Item
	prevID   string
	previous *Item
	visible  map[string]bool
}

// lookupPlay resolves the queue item of session, its visibility for users
// and the item watched before. It must be called without any party lock.
func (m *Manager) lookupPlay(ctx context.Context, session SessionInfo, users []string, prevID string) *playLookup {
	lk := &playLookup{prevID: prevID, visible: make(map[string]bool, len(users))}
	if !validStart(session) {
		return lk
	}
	lk.itemID = session.Queue[session.PlaylistIndex]
	item, err := m.directory.GetItem(ctx, lk.itemID)
	if err != nil || item == nil {
		m.logger.Debug("queue item lookup failed", zap.String("item_id", lk.itemID), zap.Error(err))
		return lk
	}
	lk.item = item
	for _, uid := range users {
		visible, err := m.directory.IsItemVisible(ctx, uid, item.ID)
		lk.visible[uid] = err == nil && visible
		if !lk.visible[uid] {
			break
		}
	}
	if prevID != "" {
		if prev, err := m.directory.GetItem(ctx, prevID); err == nil {
			lk.previous = prev
		}
	}
	return lk
}

// covers reports whether lk still answers everything a host start by a
// needs in the party's current state.
func (lk *playLookup) covers(p *Party, a *Attendee) bool {
	if lk == nil {
		return false
	}
	if lk.item == nil {
		return true
	}
	users, prevID := p.playSnapshot(a)
	if prevID != lk.prevID {
		return false
	}
	for _, uid := range users {
		visible, ok := lk.visible[uid]
		if !ok {
			return false
		}
		if !visible {
			return true
		}
	}
	return true
}

// playSnapshot lists what a host start by a has to look up.
func (p *Party) playSnapshot(a *Attendee) ([]string, string) {
	prevID := ""
	if a.State() != Syncing {
		prevID = p.CurrentItemID()
		if prevID == "" {
			prevID = p.previousItem
		}
	}
	return p.userIDs(), prevID
}

// initiatePartyPlay makes a the host of the queue described by session and
// opens the sync barrier for everyone else.
func (m *Manager) initiatePartyPlay(p *Party, a *Attendee, session SessionInfo, lk *playLookup) bool {
	if !validStart(session) {
		return false
	}
	if !lk.covers(p, a) || lk.item == nil || lk.itemID != session.Queue[session.PlaylistIndex] {
		p.logger.Debug("queue item unresolved", zap.String("attendee", a.ID))
		return false
	}
	item := lk.item
	for _, uid := range p.userIDs() {
		if !lk.visible[uid] {
			p.logMessage("Reject", item.Name)
			return false
		}
	}

	tails := m.tailDelays(p, lk.previous)

	p.clearIgnores()
	p.setHost(a, true)
	wasSyncing := a.State() == Syncing
	a.SetState(Syncing)
	p.resetPositionTicks(1)
	a.SetPositionTicks(session.PlayState.PositionTicks)
	if a.RunTimeTicks == 0 {
		a.RunTimeTicks = item.RunTimeTicks
	}
	if a.CurrentItemID == "" {
		a.CurrentItemID = item.ID
	}

	p.queue = append([]string(nil), session.Queue...)
	p.index = session.PlaylistIndex
	p.mediaSourceID = session.PlayState.MediaSourceID
	p.audioStreamIndex = session.PlayState.AudioStreamIndex
	p.subtitleStreamIndex = session.PlayState.SubtitleStreamIndex

	p.logger.Info("party play", zap.String("host", a.ID), zap.String("item", item.Name))
	p.logMessage("Now Playing", item.Name)

	if len(p.Players()) > 1 {
		p.notifyAll(PartySyncStart{})
		if !wasSyncing {
			a.IgnoreNext(EventPause)
			p.sendPlaystate(a, PlaystateRequest{Command: PlaystatePause, SeekPositionTicks: int64Ptr(a.PositionTicks())})
		}
		syncing := Syncing
		p.setPlayerStates(nil, &syncing)
		m.syncPartyPlay(p, p.Players(), WaitForPlay, PlayNow, tails)
	}
	return true
}

type scheduledPlay struct {
	attendee *Attendee
	delay    time.Duration
}

// tailDelays measures, before positions are reset, how far each guest still
// is from the end of the previous item.
func (m *Manager) tailDelays(p *Party, previous *Item) map[string]time.Duration {
	if previous == nil {
		return nil
	}
	tails := make(map[string]time.Duration)
	for _, a := range p.attendees {
		if a.IsPaused {
			continue
		}
		est := a.EstimatedPositionTicks()
		if est > previous.RunTimeTicks-AccuracyWorst && est < previous.RunTimeTicks {
			tails[a.ID] = time.Duration(previous.RunTimeTicks-est) * 100
		}
	}
	return tails
}

// syncPartyPlay sends the party queue to attendees. Guests still finishing
// the previous item are delayed by their tail so they reach its end first.
func (m *Manager) syncPartyPlay(p *Party, attendees []*Attendee, initial AttendeeState, cmd PlayCommand, tails map[string]time.Duration) {
	host := p.Host()
	if host == nil || len(p.queue) == 0 {
		return
	}
	req := PlayRequest{
		ItemIDs:             append([]string(nil), p.queue...),
		StartIndex:          p.index,
		StartPositionTicks:  host.PositionTicks(),
		PlayCommand:         cmd,
		MediaSourceID:       p.mediaSourceID,
		AudioStreamIndex:    p.audioStreamIndex,
		SubtitleStreamIndex: p.subtitleStreamIndex,
	}

	var plays []scheduledPlay
	for _, a := range attendees {
		if a == host || a.IsBeingRemoteControlled() {
			continue
		}
		delay := tails[a.ID]
		if a.Ping > 0 {
			delay += time.Duration(a.Ping) * time.Millisecond
		}
		if delay > m.policy.MaxPlayDelay {
			delay = m.policy.MaxPlayDelay
		}
		plays = append(plays, scheduledPlay{attendee: a, delay: delay})
	}

	if len(plays) == 0 {
		m.checkAndCompleteSync(p)
		return
	}
	batch := &playBatch{pending: len(plays)}
	for _, sp := range plays {
		m.delayedPartyPlay(p, sp.attendee, initial, req, sp.delay, batch)
	}
}

func (m *Manager) delayedPartyPlay(p *Party, a *Attendee, initial AttendeeState, req PlayRequest, delay time.Duration, batch *playBatch) {
	a.cancelPendingPlay()
	if delay < m.policy.MinPlayDelay {
		m.finishPlay(p, batch, m.firePartyPlay(p, a, initial, req))
		return
	}
	p.logger.Debug("delaying play", zap.String("attendee", a.ID), zap.Duration("delay", delay))
	pp := &pendingPlay{batch: batch, initial: initial}
	pp.timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		defer m.recoverEvent("delayed play", a.ID)
		if p.closed || a.pendingPlay != pp || p.attendees[a.ID] != a {
			return
		}
		a.pendingPlay = nil
		m.finishPlay(p, batch, m.firePartyPlay(p, a, initial, req))
	})
	a.pendingPlay = pp
}

func (m *Manager) firePartyPlay(p *Party, a *Attendee, initial AttendeeState, req PlayRequest) bool {
	if req.StartIndex < len(req.ItemIDs) && a.CurrentItemID == req.ItemIDs[req.StartIndex] && a.State() == Syncing {
		return false
	}
	host := p.Host()
	a.SetState(initial)
	if host != nil {
		a.SetPositionTicks(host.PositionTicks())
	}
	a.IsPaused = false
	p.sendPlay(a, req)
	return true
}

func (m *Manager) finishPlay(p *Party, batch *playBatch, fired bool) {
	if batch == nil {
		return
	}
	batch.pending--
	if fired {
		batch.fired++
	}
	if batch.pending == 0 && batch.fired == 0 {
		m.checkAndCompleteSync(p)
	}
}

// lateJoiner brings an attendee into an already running playback.
func (m *Manager) lateJoiner(p *Party, a *Attendee) {
	host := p.Host()
	if host == nil {
		return
	}
	state := Ready
	if host.State() == Syncing {
		state = WaitForSeek
	}
	m.syncPartyPlay(p, []*Attendee{a}, state, PlayNow, nil)
}

func (m *Manager) guestStart(p *Party, host, a *Attendee, e PlaybackStart) {
	current := p.CurrentItemID()
	if p.queue != nil && current != e.Item.ID {
		switch {
		case a.State() == WaitForPlay:
			p.logger.Debug("stray start while waiting for play", zap.String("attendee", a.ID))
		case host.RunTimeTicks < NoReturnAtTheEnd || host.EstimatedPositionTicks() > host.RunTimeTicks-NoReturnAtTheEnd:
			p.logger.Debug("guest ahead of host near the end", zap.String("attendee", a.ID))
			if p.nextItemID() == e.Item.ID {
				a.SetState(Syncing)
				p.notifyAll(PartySyncWaiting{Name: a.DisplayName})
			}
			a.IgnoreNext(EventPause)
			p.sendPlaystate(a, PlaystateRequest{Command: PlaystatePause})
		default:
			p.logger.Debug("guest on wrong item, resending queue", zap.String("attendee", a.ID))
			m.syncPartyPlay(p, []*Attendee{a}, Ready, PlayNow, nil)
		}
		return
	}

	// The guest got there on its own; its staggered play is no longer needed.
	if pp := a.cancelPendingPlay(); pp != nil {
		a.SetState(pp.initial)
		m.finishPlay(p, pp.batch, true)
	}

	switch {
	case a.State().IsWaiting():
		a.SetState(Syncing)
		if !m.checkAndCompleteSync(p) {
			m.readyAndContinueSync(p, a)
		}
	case host.State() != Syncing && host.IsPaused:
		a.IgnoreNext(EventPause)
		p.sendPlaystate(a, PlaystateRequest{Command: PlaystatePause})
	}
}

func (m *Manager) readyAndContinueSync(p *Party, a *Attendee) {
	a.IgnoreNext(EventPause)
	p.sendPlaystate(a, PlaystateRequest{Command: PlaystatePause})
	p.notifyAll(PartySyncWaiting{Name: a.DisplayName})
}

// checkAndCompleteSync closes the barrier once every attendee is Syncing.
func (m *Manager) checkAndCompleteSync(p *Party) bool {
	host := p.Host()
	if host == nil || !p.allInState(Syncing) {
		return false
	}
	if !p.noUnpauseAfterSync {
		p.ignoreNext(EventUnpause)
		m.syncPlaystate(p, "", nil, PlaystateUnpause, int64Ptr(host.PositionTicks()))
	}
	p.noUnpauseAfterSync = false
	p.inSyncConclusion = true
	p.setStates(Ready)
	p.notifyAll(PartySyncEnd{})
	p.logger.Debug("sync complete")
	return true
}

// syncPlaystate fans a playstate command out to players other than fromID,
// optionally only to those in state.
func (m *Manager) syncPlaystate(p *Party, fromID string, state *AttendeeState, cmd PlaystateCommand, position *int64) {
	req := PlaystateRequest{Command: cmd, SeekPositionTicks: position}
	for _, a := range p.Players() {
		if a.ID == fromID {
			continue
		}
		if state != nil && a.State() != *state {
			continue
		}
		p.sendPlaystate(a, req)
	}
}

func (m *Manager) syncTrack(p *Party, fromID string, cmd Command) {
	for _, a := range p.Players() {
		if a.ID == fromID {
			continue
		}
		p.sendPlayerCommand(a, cmd)
	}
}

// PlaybackProgress handles periodic position reports and pause, resume and
// track change events.
func (m *Manager) PlaybackProgress(ctx context.Context, e PlaybackProgress) {
	defer m.recoverEvent("playback progress", e.SessionID)
	p, a := m.acquire(e.SessionID, true)
	if p == nil {
		return
	}
	defer p.mu.Unlock()

	if e.Item.ID != a.CurrentItemID {
		p.logger.Debug("progress for another item",
			zap.String("attendee", a.ID),
			zap.String("item_id", e.Item.ID))
		return
	}

	switch e.Event {
	case EventTimeUpdate:
		if e.PositionTicks != a.PositionTicks() && (e.PositionTicks-a.PositionTicks())%TicksPerSecond == 0 {
			p.logger.Debug("discarding whole-second time update", zap.String("attendee", a.ID))
			return
		}
		if e.PlaySessionID != "" && e.PlaySessionID != a.PlaySessionID {
			a.PlaySessionID = e.PlaySessionID
		}
	case EventPause:
		if a.IsPaused {
			return
		}
		a.SetPositionTicks(e.PositionTicks)
		a.IsPaused = true
	case EventUnpause:
		if !a.IsPaused {
			return
		}
		a.SetPositionTicks(e.PositionTicks)
		a.IsPaused = false
	}

	host := p.Host()
	if host == nil {
		return
	}
	if host == a {
		m.hostProgress(p, host, e)
	} else {
		m.guestProgress(p, host, a, e)
	}
}

func (m *Manager) hostProgress(p *Party, host *Attendee, e PlaybackProgress) {
	if p.inSyncConclusion && e.Event == EventUnpause {
		p.inSyncConclusion = false
	}
	if host.ShouldIgnore(e.Event) {
		return
	}

	switch e.Event {
	case EventTimeUpdate:
		if e.PositionTicks == ExactStartTicks {
			return
		}
		pos := e.PositionTicks
		if host.PositionTicks() > host.RunTimeTicks-AssumedFinishedInterval && host.PositionTicks() == pos {
			p.logger.Debug("host stalled at the end", zap.Int64("position", pos))
			m.playNextOrStop(p, host)
		} else if (host.State() == Ready || host.State() == Syncing) && host.IsOutOfSync(pos) && len(p.Players()) > 1 {
			m.hostSeek(p, host, pos)
		}
		host.SetPositionTicks(pos)

	case EventPause:
		if host.RunTimeTicks > NoPauseAtTheEnd && e.PositionTicks < host.RunTimeTicks-NoPauseAtTheEnd {
			if !p.guestPauseAction {
				p.logMessage("Pause", host.DisplayName)
			}
			p.guestPauseAction = false
			m.syncPlaystate(p, host.ID, nil, PlaystatePause, int64Ptr(e.PositionTicks))
			for _, a := range p.Players() {
				if a != host {
					a.SetPositionTicks(e.PositionTicks)
					a.IsPaused = true
				}
			}
		}

	case EventUnpause:
		if !p.guestPauseAction {
			p.logMessage("Unpause", host.DisplayName)
		}
		p.guestPauseAction = false
		m.syncPlaystate(p, host.ID, nil, PlaystateUnpause, int64Ptr(e.PositionTicks))

	case EventAudioTrackChange:
		if e.PlayState.AudioStreamIndex != nil {
			p.audioStreamIndex = intPtr(*e.PlayState.AudioStreamIndex)
			m.syncTrack(p, host.ID, SetAudioStreamIndex{Index: *e.PlayState.AudioStreamIndex})
		}

	case EventSubtitleTrackChange:
		if e.PlayState.SubtitleStreamIndex != nil {
			p.subtitleStreamIndex = intPtr(*e.PlayState.SubtitleStreamIndex)
			m.syncTrack(p, host.ID, SetSubtitleStreamIndex{Index: *e.PlayState.SubtitleStreamIndex})
		}
	}
}

// hostSeek reopens the barrier after the host jumped. A seek during a sync
// folds into it; otherwise a fresh sync starts.
func (m *Manager) hostSeek(p *Party, host *Attendee, pos int64) {
	p.logger.Debug("host seek", zap.Int64("position", pos))
	if host.State() == Syncing {
		waitForSeek := WaitForSeek
		for _, a := range p.Players() {
			if a != host && a.State() == Syncing {
				a.SetState(WaitForSeek)
				p.notifyAll(PartySyncReset{Name: a.DisplayName})
			}
		}
		m.syncPlaystate(p, host.ID, &waitForSeek, PlaystateSeek, int64Ptr(pos))
		return
	}

	p.notifyAll(PartySyncStart{})
	if !host.IsPaused {
		host.IgnoreNext(EventPause)
		p.sendPlaystate(host, PlaystateRequest{Command: PlaystatePause, SeekPositionTicks: int64Ptr(pos)})
	} else {
		p.noUnpauseAfterSync = true
	}
	waitForSeek, syncing := WaitForSeek, Syncing
	p.setPlayerStates(&waitForSeek, &syncing)
	host.SetState(Syncing)
	m.syncPlaystate(p, host.ID, nil, PlaystateSeek, int64Ptr(pos))
}

func (m *Manager) guestProgress(p *Party, host, a *Attendee, e PlaybackProgress) {
	if a.ShouldIgnore(e.Event) {
		return
	}
	sameItem := a.CurrentItemID == host.CurrentItemID

	switch e.Event {
	case EventTimeUpdate:
		switch {
		case a.State() == WaitForSeek:
			a.SetState(Syncing)
			if !m.checkAndCompleteSync(p) {
				m.readyAndContinueSync(p, a)
			}
		case a.State() == Ready && sameItem && !a.IsBeingRemoteControlled():
			a.SetPositionTicks(e.PositionTicks)
			hostEst := host.EstimatedPositionTicks()
			if a.IsOutOfSync(hostEst) {
				acc := a.LowerAccuracy()
				target := hostEst + a.Ping*TicksPerMillisecond
				p.logger.Debug("guest out of sync",
					zap.String("attendee", a.ID),
					zap.Int64("position", e.PositionTicks),
					zap.Int64("host_estimate", hostEst),
					zap.Int64("accuracy", acc))
				a.SetPositionTicks(hostEst)
				p.sendPlaystate(a, PlaystateRequest{Command: PlaystateSeek, SeekPositionTicks: int64Ptr(target)})
			}
			if host.IsPaused && !a.IsPaused && !p.inSyncConclusion {
				a.IgnoreNext(EventPause)
				p.sendPlaystate(a, PlaystateRequest{Command: PlaystatePause})
			}
		}

	case EventPause:
		if !host.IsPaused && sameItem {
			p.logMessage("Pause", a.DisplayName)
			p.guestPauseAction = true
			p.sendPlaystate(host, PlaystateRequest{Command: PlaystatePause})
		}

	case EventUnpause:
		if host.IsPaused && sameItem {
			p.logMessage("Unpause", a.DisplayName)
			p.guestPauseAction = true
			p.sendPlaystate(host, PlaystateRequest{Command: PlaystateUnpause})
		}
	}
}

// playNextOrStop advances the host to the next queue item, or stops it.
func (m *Manager) playNextOrStop(p *Party, host *Attendee) {
	if p.index+1 < len(p.queue) {
		req := PlayRequest{
			ItemIDs:            append([]string(nil), p.queue...),
			StartIndex:         p.index + 1,
			StartPositionTicks: ExactStartTicks,
			PlayCommand:        PlayNow,
		}
		m.firePartyPlay(p, host, Ready, req)
		return
	}
	p.sendPlaystate(host, PlaystateRequest{Command: PlaystateStop})
}

// PlaybackStopped handles a session that stopped playing.
func (m *Manager) PlaybackStopped(ctx context.Context, e PlaybackStopped) {
	defer m.recoverEvent("playback stopped", e.SessionID)
	p, a := m.acquire(e.SessionID, true)
	if p == nil {
		return
	}
	defer p.mu.Unlock()

	if a.PlaySessionID != e.PlaySessionID {
		p.logger.Debug("stop for a stale play session", zap.String("attendee", a.ID))
		return
	}
	a.PlaySessionID = ""

	if !a.IsHost {
		return
	}
	if current := p.CurrentItemID(); current != "" {
		p.previousItem = current
	}
	if len(p.queue) > 1 {
		p.scheduleHostClear(m.policy.HostClearGrace)
		return
	}
	p.clearHost()
}
