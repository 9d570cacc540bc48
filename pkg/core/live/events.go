package live

import (
	"encoding/json"
)

// EventName identifies a normalized session event.
type EventName string

const (
	EventSessionReady        EventName = "session.ready"
	EventSessionError        EventName = "session.error"
	EventSessionDisconnected EventName = "session.disconnected"
	EventSessionUpdated      EventName = "session.updated"
	EventTranscriptUpdated   EventName = "transcript.updated"
	EventSpeechStarted       EventName = "speech.started"
	EventSpeechStopped       EventName = "speech.stopped"
	EventAudioLevel          EventName = "audio.level"
	EventAudioVisualization  EventName = "audio.visualization"
	EventResponseCreated     EventName = "response.created"
	EventResponseDone        EventName = "response.done"
)

// Event is the interface for all normalized session events.
type Event interface {
	// EventName returns the name listeners subscribe to.
	EventName() EventName
}

// SessionReadyEvent is emitted when the remote model has created the session.
type SessionReadyEvent struct{}

func (e *SessionReadyEvent) EventName() EventName { return EventSessionReady }

// SessionErrorEvent is emitted when the live session reports a failure.
type SessionErrorEvent struct {
	Err error `json:"-"`
}

func (e *SessionErrorEvent) EventName() EventName { return EventSessionError }

// SessionDisconnectedEvent is emitted when the live session closes.
type SessionDisconnectedEvent struct {
	Reason string `json:"reason,omitempty"`
}

func (e *SessionDisconnectedEvent) EventName() EventName { return EventSessionDisconnected }

// SessionUpdatedEvent carries the remote session configuration after an update.
type SessionUpdatedEvent struct {
	Raw json.RawMessage `json:"raw,omitempty"`
}

func (e *SessionUpdatedEvent) EventName() EventName { return EventSessionUpdated }

// TranscriptUpdatedEvent carries one new transcript entry.
type TranscriptUpdatedEvent struct {
	Entry TranscriptEntry `json:"entry"`
}

func (e *TranscriptUpdatedEvent) EventName() EventName { return EventTranscriptUpdated }

// SpeechStartedEvent is emitted when server VAD detects user speech.
type SpeechStartedEvent struct{}

func (e *SpeechStartedEvent) EventName() EventName { return EventSpeechStarted }

// SpeechStoppedEvent is emitted when server VAD detects the end of user speech.
type SpeechStoppedEvent struct{}

func (e *SpeechStoppedEvent) EventName() EventName { return EventSpeechStopped }

// AudioLevelEvent carries the amplitude of one audio chunk.
type AudioLevelEvent struct {
	Level float64 `json:"level"`
}

func (e *AudioLevelEvent) EventName() EventName { return EventAudioLevel }

// AudioVisualizationEvent carries the amplitude plus a raw waveform snapshot.
type AudioVisualizationEvent struct {
	Amplitude float64 `json:"amplitude"`
	Waveform  []int16 `json:"waveform"`
}

func (e *AudioVisualizationEvent) EventName() EventName { return EventAudioVisualization }

// ResponseCreatedEvent is emitted when the model starts a response.
type ResponseCreatedEvent struct {
	Raw json.RawMessage `json:"raw,omitempty"`
}

func (e *ResponseCreatedEvent) EventName() EventName { return EventResponseCreated }

// ResponseDoneEvent is emitted when the model finishes a response.
type ResponseDoneEvent struct {
	Raw json.RawMessage `json:"raw,omitempty"`
}

func (e *ResponseDoneEvent) EventName() EventName { return EventResponseDone }
