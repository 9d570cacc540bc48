// Package protocol defines the realtime wire vocabulary: the client events
// this module sends and a tagged-union decode of the server events it reads.
package protocol

import (
	"encoding/base64"
	"strings"

	"github.com/google/uuid"

	"github.com/vango-go/tranceguide/pkg/core/live"
)

// Client event types.
const (
	TypeSessionUpdate     = "session.update"
	TypeInputAudioAppend  = "input_audio_buffer.append"
	TypeInputAudioCommit  = "input_audio_buffer.commit"
	TypeInputAudioClear   = "input_audio_buffer.clear"
	TypeResponseCreate    = "response.create"
	TypeResponseCancel    = "response.cancel"
	ModalityAudio         = "audio"
	ModalityText          = "text"
	DefaultResponsePrompt = "Continue the hypnotherapy session"
)

type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
}

type InputTranscription struct {
	Model string `json:"model"`
}

// SessionConfig is the session object carried by session.update.
type SessionConfig struct {
	Modalities              []string            `json:"modalities,omitempty"`
	Instructions            string              `json:"instructions,omitempty"`
	Voice                   string              `json:"voice,omitempty"`
	Temperature             float64             `json:"temperature,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string              `json:"output_audio_format,omitempty"`
	InputAudioTranscription *InputTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection      `json:"turn_detection,omitempty"`
}

type SessionUpdate struct {
	Type    string        `json:"type"`
	EventID string        `json:"event_id,omitempty"`
	Session SessionConfig `json:"session"`
}

type InputAudioAppend struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
	Audio   string `json:"audio"`
}

type InputAudioCommit struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
}

type ResponseOptions struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

type ResponseCreate struct {
	Type     string           `json:"type"`
	EventID  string           `json:"event_id,omitempty"`
	Response *ResponseOptions `json:"response,omitempty"`
}

type ResponseCancel struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
}

// NewEventID returns a client event id.
func NewEventID() string {
	return "evt_" + uuid.NewString()
}

// NewSessionUpdate builds the session.update sent once the socket opens.
// A nil agent sends the profile without instructions.
func NewSessionUpdate(agent *live.Agent, profile live.SessionProfile) SessionUpdate {
	cfg := SessionConfig{
		Modalities:        []string{ModalityAudio, ModalityText},
		Voice:             profile.Voice,
		Temperature:       profile.Temperature,
		InputAudioFormat:  profile.InputAudioFormat,
		OutputAudioFormat: profile.OutputAudioFormat,
		TurnDetection: &TurnDetection{
			Type:              profile.TurnDetection.Type,
			Threshold:         profile.TurnDetection.Threshold,
			PrefixPaddingMs:   profile.TurnDetection.PrefixPaddingMs,
			SilenceDurationMs: profile.TurnDetection.SilenceDurationMs,
			CreateResponse:    profile.TurnDetection.CreateResponse,
		},
	}
	if model := strings.TrimSpace(profile.TranscriptionModel); model != "" {
		cfg.InputAudioTranscription = &InputTranscription{Model: model}
	}
	if agent != nil {
		cfg.Instructions = strings.TrimSpace(agent.Instructions)
		if v := strings.TrimSpace(agent.Voice); v != "" {
			cfg.Voice = v
		}
		if agent.Temperature > 0 {
			cfg.Temperature = agent.Temperature
		}
	}
	return SessionUpdate{Type: TypeSessionUpdate, EventID: NewEventID(), Session: cfg}
}

// NewInputAudioAppend wraps raw PCM16 bytes in an append event.
func NewInputAudioAppend(pcm []byte) InputAudioAppend {
	return InputAudioAppend{
		Type:    TypeInputAudioAppend,
		EventID: NewEventID(),
		Audio:   base64.StdEncoding.EncodeToString(pcm),
	}
}

func NewInputAudioCommit() InputAudioCommit {
	return InputAudioCommit{Type: TypeInputAudioCommit, EventID: NewEventID()}
}

// NewResponseCreate asks the model for an audio response. Blank instructions
// fall back to DefaultResponsePrompt.
func NewResponseCreate(instructions string) ResponseCreate {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		instructions = DefaultResponsePrompt
	}
	return ResponseCreate{
		Type:    TypeResponseCreate,
		EventID: NewEventID(),
		Response: &ResponseOptions{
			Modalities:   []string{ModalityAudio},
			Instructions: instructions,
		},
	}
}

func NewResponseCancel() ResponseCancel {
	return ResponseCancel{Type: TypeResponseCancel, EventID: NewEventID()}
}
