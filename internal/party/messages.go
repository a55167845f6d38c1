package party

import (
	"strings"

	"go.uber.org/zap"
)

// Chat broadcasts a chat line from sessionID to its party.
func (m *Manager) Chat(sessionID, message string) bool {
	message = truncateRunes(strings.TrimSpace(message), m.policy.ChatMaxLength)
	if message == "" {
		return false
	}
	p, a := m.acquire(sessionID, false)
	if p == nil {
		return false
	}
	defer p.mu.Unlock()

	if !a.allowChat() {
		p.logger.Debug("chat rate limited", zap.String("session_id", a.ID))
		return false
	}
	cmd := ChatBroadcast{UserID: a.UserID, Name: a.DisplayName, Message: message}
	p.notifyAll(cmd)
	p.appendTranscript(TranscriptEntry{At: m.now(), Kind: TranscriptChat, UserID: a.UserID, Name: a.DisplayName, Message: message})
	p.publishBridge(cmd)
	return true
}

// ExternalChat relays a chat line that arrived through the bridge.
func (m *Manager) ExternalChat(partyName, name, avatarURL, message string) bool {
	message = truncateRunes(strings.TrimSpace(message), m.policy.ChatMaxLength)
	if message == "" {
		return false
	}
	m.mu.RLock()
	p := m.partyByName(partyName)
	m.mu.RUnlock()
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.notifyAll(ChatExternal{AvatarURL: avatarURL, Name: name, Message: message})
	p.appendTranscript(TranscriptEntry{At: m.now(), Kind: TranscriptExternal, Name: name, Message: message})
	return true
}

// Ping answers a client latency probe.
func (m *Manager) Ping(sessionID string) {
	p, a := m.acquire(sessionID, false)
	if p == nil {
		return
	}
	defer p.mu.Unlock()
	p.sendCommand(a, PartyPong{})
}

// Pong settles a heartbeat token and updates the latency estimate.
func (m *Manager) Pong(sessionID string, ts int64) {
	p, a := m.acquire(sessionID, false)
	if p == nil {
		return
	}
	defer p.mu.Unlock()
	if !a.removePendingPing(ts) {
		return
	}
	a.Ping = (m.now().UnixMilli() - ts) / 2
	if a.Ping < 0 {
		a.Ping = 0
	}
}

// Refresh resynchronizes a guest, or drops a host that lost track of its party.
func (m *Manager) Refresh(sessionID string) {
	p, a := m.acquire(sessionID, false)
	if p == nil {
		return
	}
	defer p.mu.Unlock()
	defer m.recoverEvent("refresh", sessionID)

	if p.queue == nil {
		return
	}
	if !a.IsHost {
		m.lateJoiner(p, a)
		p.sendCommand(a, PartyRefreshDone{})
		return
	}
	m.removeLocked(p, a.ID)
	m.sendDetached(a.ID, PartyRefreshDone{})
}

// hostActionTarget validates a host tool request against a stuck guest.
func (m *Manager) hostActionTarget(p *Party, a *Attendee, name string) *Attendee {
	if !a.IsHost {
		return nil
	}
	target := p.AttendeeByDisplayName(name)
	if target == nil || !target.State().IsWaiting() || target.SinceStateChange() < m.policy.AttendeeActionMinWait {
		return nil
	}
	return target
}

// AttendeePlay lets the host re-send the play command to a guest that never
// reported back.
func (m *Manager) AttendeePlay(sessionID, name string) bool {
	p, a := m.acquire(sessionID, false)
	if p == nil {
		return false
	}
	defer p.mu.Unlock()
	target := m.hostActionTarget(p, a, name)
	if target == nil {
		return false
	}
	p.logger.Debug("host replays guest", zap.String("target", target.ID))
	m.syncPartyPlay(p, []*Attendee{target}, target.State(), PlayNow, nil)
	return true
}

// AttendeeKick lets the host remove a guest that never reported back.
func (m *Manager) AttendeeKick(sessionID, name string) bool {
	p, a := m.acquire(sessionID, false)
	if p == nil {
		return false
	}
	defer p.mu.Unlock()
	target := m.hostActionTarget(p, a, name)
	if target == nil {
		return false
	}
	p.logger.Info("host kicked attendee", zap.String("target", target.ID))
	m.removeLocked(p, target.ID)
	m.sendDetached(target.ID, PartyLeave{Name: target.DisplayName})
	return true
}
