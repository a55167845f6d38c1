package party

import "time"

// Policy holds the tunable timings of the protocol.
type Policy struct {
	HeartbeatInterval     time.Duration
	HostClearGrace        time.Duration
	MaxPlayDelay          time.Duration
	MinPlayDelay          time.Duration
	SendTimeout           time.Duration
	AttendeeActionMinWait time.Duration
	ChatMaxLength         int
	NameMaxLength         int
	ChatPerSecond         float64
	ChatBurst             int
	TranscriptLimit       int
	OutboxSize            int
}

// DefaultPolicy returns the production timings.
func DefaultPolicy() Policy {
	return Policy{
		HeartbeatInterval:     29 * time.Second,
		HostClearGrace:        7 * time.Second,
		MaxPlayDelay:          10 * time.Second,
		MinPlayDelay:          100 * time.Millisecond,
		SendTimeout:           10 * time.Second,
		AttendeeActionMinWait: 20 * time.Second,
		ChatMaxLength:         512,
		NameMaxLength:         24,
		ChatPerSecond:         2,
		ChatBurst:             5,
		TranscriptLimit:       500,
		OutboxSize:            256,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.HeartbeatInterval <= 0 {
		p.HeartbeatInterval = d.HeartbeatInterval
	}
	if p.HostClearGrace <= 0 {
		p.HostClearGrace = d.HostClearGrace
	}
	if p.MaxPlayDelay <= 0 {
		p.MaxPlayDelay = d.MaxPlayDelay
	}
	if p.MinPlayDelay <= 0 {
		p.MinPlayDelay = d.MinPlayDelay
	}
	if p.SendTimeout <= 0 {
		p.SendTimeout = d.SendTimeout
	}
	if p.AttendeeActionMinWait < 0 {
		p.AttendeeActionMinWait = 0
	}
	if p.ChatMaxLength <= 0 {
		p.ChatMaxLength = d.ChatMaxLength
	}
	if p.NameMaxLength <= 0 {
		p.NameMaxLength = d.NameMaxLength
	}
	if p.ChatPerSecond <= 0 {
		p.ChatPerSecond = d.ChatPerSecond
	}
	if p.ChatBurst <= 0 {
		p.ChatBurst = d.ChatBurst
	}
	if p.TranscriptLimit <= 0 {
		p.TranscriptLimit = d.TranscriptLimit
	}
	if p.OutboxSize <= 0 {
		p.OutboxSize = d.OutboxSize
	}
	return p
}
