package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Server event types.
const (
	TypeSessionCreated              = "session.created"
	TypeSessionUpdated              = "session.updated"
	TypeConversationItemCreated     = "conversation.item.created"
	TypeInputTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeAudioTranscriptDone         = "response.audio_transcript.done"
	TypeOutputAudioTranscriptDone   = "response.output_audio_transcript.done"
	TypeAudioDelta                  = "response.audio.delta"
	TypeOutputAudioDelta            = "response.output_audio.delta"
	TypeSpeechStarted               = "input_audio_buffer.speech_started"
	TypeSpeechStopped               = "input_audio_buffer.speech_stopped"
	TypeResponseCreated             = "response.created"
	TypeResponseDone                = "response.done"
	TypeError                       = "error"
)

// ServerEvent is a decoded server event.
type ServerEvent interface {
	EventType() string
}

type SessionCreated struct {
	EventID string          `json:"event_id,omitempty"`
	Session json.RawMessage `json:"session,omitempty"`
}

func (e SessionCreated) EventType() string { return TypeSessionCreated }

type SessionUpdated struct {
	EventID string          `json:"event_id,omitempty"`
	Session json.RawMessage `json:"session,omitempty"`
}

func (e SessionUpdated) EventType() string { return TypeSessionUpdated }

// ContentPart is one part of a conversation item.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// Formatted carries text the client attached to an item.
type Formatted struct {
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

type Item struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type,omitempty"`
	Role      string        `json:"role,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	Formatted *Formatted    `json:"formatted,omitempty"`
}

// Text returns the item's transcribed text: formatted.transcript first, then
// the first non-empty content transcript or text, else "".
func (i Item) Text() string {
	if i.Formatted != nil {
		if t := strings.TrimSpace(i.Formatted.Transcript); t != "" {
			return t
		}
	}
	for _, part := range i.Content {
		if t := strings.TrimSpace(part.Transcript); t != "" {
			return t
		}
		if t := strings.TrimSpace(part.Text); t != "" {
			return t
		}
	}
	return ""
}

type ConversationItemCreated struct {
	EventID        string `json:"event_id,omitempty"`
	PreviousItemID string `json:"previous_item_id,omitempty"`
	Item           Item   `json:"item"`
}

func (e ConversationItemCreated) EventType() string { return TypeConversationItemCreated }

type InputTranscriptionCompleted struct {
	EventID      string `json:"event_id,omitempty"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

func (e InputTranscriptionCompleted) EventType() string { return TypeInputTranscriptionCompleted }

// AudioTranscriptDone is the final assistant transcript of one audio part.
// Type holds whichever of the two wire names the server used.
type AudioTranscriptDone struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

func (e AudioTranscriptDone) EventType() string { return e.Type }

// AudioDelta is one base64 chunk of assistant audio.
type AudioDelta struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Delta      string `json:"delta"`
}

func (e AudioDelta) EventType() string { return e.Type }

// PCM decodes the delta payload.
func (e AudioDelta) PCM() ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(e.Delta)
	if err != nil {
		return nil, fmt.Errorf("decode audio delta: %w", err)
	}
	return pcm, nil
}

type SpeechStarted struct {
	EventID      string `json:"event_id,omitempty"`
	AudioStartMs int64  `json:"audio_start_ms"`
	ItemID       string `json:"item_id,omitempty"`
}

func (e SpeechStarted) EventType() string { return TypeSpeechStarted }

type SpeechStopped struct {
	EventID    string `json:"event_id,omitempty"`
	AudioEndMs int64  `json:"audio_end_ms"`
	ItemID     string `json:"item_id,omitempty"`
}

func (e SpeechStopped) EventType() string { return TypeSpeechStopped }

type ResponseCreated struct {
	EventID  string          `json:"event_id,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

func (e ResponseCreated) EventType() string { return TypeResponseCreated }

type ResponseDone struct {
	EventID  string          `json:"event_id,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
}

func (e ResponseDone) EventType() string { return TypeResponseDone }

type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

type ServerError struct {
	EventID string      `json:"event_id,omitempty"`
	Error   ErrorDetail `json:"error"`
}

func (e ServerError) EventType() string { return TypeError }

// Unknown is any event type this package does not model.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (e Unknown) EventType() string { return e.Type }

// DecodeServerEvent decodes one text frame. Unrecognized types decode to
// Unknown; only malformed JSON or a missing type is an error.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode server event envelope: %w", err)
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, fmt.Errorf("server event missing type")
	}

	var (
		ev  ServerEvent
		err error
	)
	switch typ {
	case TypeSessionCreated:
		ev, err = decodeAs[SessionCreated](data)
	case TypeSessionUpdated:
		ev, err = decodeAs[SessionUpdated](data)
	case TypeConversationItemCreated:
		ev, err = decodeAs[ConversationItemCreated](data)
	case TypeInputTranscriptionCompleted:
		ev, err = decodeAs[InputTranscriptionCompleted](data)
	case TypeAudioTranscriptDone, TypeOutputAudioTranscriptDone:
		ev, err = decodeAs[AudioTranscriptDone](data)
	case TypeAudioDelta, TypeOutputAudioDelta:
		ev, err = decodeAs[AudioDelta](data)
	case TypeSpeechStarted:
		ev, err = decodeAs[SpeechStarted](data)
	case TypeSpeechStopped:
		ev, err = decodeAs[SpeechStopped](data)
	case TypeResponseCreated:
		ev, err = decodeAs[ResponseCreated](data)
	case TypeResponseDone:
		ev, err = decodeAs[ResponseDone](data)
	case TypeError:
		ev, err = decodeAs[ServerError](data)
	default:
		return Unknown{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", typ, err)
	}
	return ev, nil
}

func decodeAs[T ServerEvent](data []byte) (ServerEvent, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
