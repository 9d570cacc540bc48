package live

import "time"

// SessionContext is the observable state of one voice session.
//
// IsConnected and Session change together. StartTime is set exactly while
// State is StateInSession.
type SessionContext struct {
	State SessionState

	// Session is the live session handle, opaque to observers.
	Session any
	Agent   *Agent

	StartTime *time.Time
	Technique *TechniqueType

	// Transcript is append-only; order is delivery order.
	Transcript []TranscriptEntry

	Error error

	IsConnected bool
	IsMuted     bool

	// AudioLevel is the latest output amplitude in [0, 1].
	AudioLevel float64
}

// DefaultSessionContext returns the initial, idle context.
func DefaultSessionContext() SessionContext {
	return SessionContext{
		State:      StateIdle,
		Transcript: []TranscriptEntry{},
	}
}

// Clone returns a copy that shares no mutable memory with c.
func (c SessionContext) Clone() SessionContext {
	out := c
	if c.StartTime != nil {
		t := *c.StartTime
		out.StartTime = &t
	}
	if c.Technique != nil {
		tech := *c.Technique
		out.Technique = &tech
	}
	out.Transcript = make([]TranscriptEntry, len(c.Transcript))
	copy(out.Transcript, c.Transcript)
	return out
}

// Duration formats the time in session as m:ss.
func (c SessionContext) Duration(now time.Time) string {
	return SessionDuration(c.StartTime, now)
}
