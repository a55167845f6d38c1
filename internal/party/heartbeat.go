package party

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Start begins the heartbeat loop. Call Stop to release it.
func (m *Manager) Start() {
	m.hbMu.Lock()
	if m.hbCancel != nil {
		m.hbMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.hbCancel = cancel
	m.hbDone = make(chan struct{})
	done := m.hbDone
	m.hbMu.Unlock()

	go m.runHeartbeat(ctx, done)
	m.logger.Info("party heartbeat started", zap.Duration("interval", m.policy.HeartbeatInterval))
}

// Stop stops the heartbeat loop.
func (m *Manager) Stop() {
	m.hbMu.Lock()
	defer m.hbMu.Unlock()
	if m.hbCancel == nil {
		return
	}
	m.hbCancel()
	m.hbCancel = nil
	<-m.hbDone
	m.logger.Info("party heartbeat stopped")
}

func (m *Manager) runHeartbeat(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.policy.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Heartbeat()
		}
	}
}

// nextPingToken returns a millisecond timestamp that strictly increases.
func (m *Manager) nextPingToken() int64 {
	m.pingMu.Lock()
	defer m.pingMu.Unlock()
	ts := m.now().UnixMilli()
	if ts <= m.lastPing {
		ts = m.lastPing + 1
	}
	m.lastPing = ts
	return ts
}

// Heartbeat keeps paused play sessions alive, pings every attendee and
// evicts attendees with more than one unanswered ping.
func (m *Manager) Heartbeat() {
	ts := m.nextPingToken()

	m.mu.RLock()
	parties := make([]*Party, 0, len(m.parties))
	for _, p := range m.parties {
		parties = append(parties, p)
	}
	m.mu.RUnlock()

	for _, p := range parties {
		m.heartbeatParty(p, ts)
	}
}

func (m *Manager) heartbeatParty(p *Party, ts int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer m.recoverEvent("heartbeat", "")
	if p.closed {
		return
	}

	var expired []string
	for _, a := range p.Attendees() {
		if a.IsPaused && a.PlaySessionID != "" {
			deviceID, playSessionID := a.ReportedDeviceID, a.PlaySessionID
			ctrl := m.controller
			p.out.push(delivery{target: a.TargetID(), kind: "PingSession", send: func(ctx context.Context) error {
				return ctrl.PingSession(ctx, deviceID, playSessionID)
			}})
		}
		if len(a.pendingPings) > 1 {
			expired = append(expired, a.ID)
			continue
		}
		a.addPendingPing(ts)
		p.sendCommand(a, PartyPing{TS: ts})
	}

	for _, id := range expired {
		p.logger.Info("attendee ping timeout", zap.String("session_id", id))
		m.removeLocked(p, id)
		if p.closed {
			return
		}
	}
}
