package party

import "go.uber.org/zap"

// remoteControlOf reads the remote-control edge of sessionID from whichever
// party holds it. It must be called without any party lock held.
func (m *Manager) remoteControlOf(sessionID string) (string, bool) {
	p := m.SessionParty(sessionID)
	if p == nil {
		return "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.attendees[sessionID]
	if a == nil {
		return "", false
	}
	return a.RemoteControl, true
}

// IsTargetSafe simulates following edges from candidate and reports whether
// the walk can come back to sessionID, which would close a loop if
// sessionID started steering candidate.
func (m *Manager) IsTargetSafe(sessionID, candidate string) bool {
	trace := map[string]struct{}{sessionID: {}, candidate: {}}
	cur := candidate
	for {
		next, ok := m.remoteControlOf(cur)
		if !ok || next == "" {
			return true
		}
		if _, seen := trace[next]; seen {
			return false
		}
		trace[next] = struct{}{}
		cur = next
	}
}

// SetRemoteControl makes sessionID steer target, or stop steering when
// target is empty. Unsafe edges are refused.
func (m *Manager) SetRemoteControl(sessionID, target string) bool {
	m.remoteMu.Lock()
	defer m.remoteMu.Unlock()

	if target != "" && target != sessionID && !m.IsTargetSafe(sessionID, target) {
		m.logger.Debug("refused unsafe remote control",
			zap.String("session_id", sessionID),
			zap.String("target", target))
		return false
	}
	p, a := m.acquire(sessionID, false)
	if p == nil {
		return false
	}
	defer p.mu.Unlock()

	if !p.setRemoteControl(a.ID, target) {
		return false
	}
	m.mu.Lock()
	m.reindexTargetsLocked(p, false)
	m.mu.Unlock()
	p.logger.Debug("remote control updated",
		zap.String("session_id", a.ID),
		zap.String("target", a.RemoteControl))
	return true
}
