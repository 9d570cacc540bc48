package live

import (
	"strings"
)

// SessionState represents the current state of the voice session.
type SessionState string

const (
	// StateIdle is the initial state and the landing state after a reset.
	StateIdle SessionState = "idle"
	// StateRequestingPermissions is when the microphone is being acquired.
	StateRequestingPermissions SessionState = "requesting_permissions"
	// StateGeneratingToken is when the ephemeral credential is being fetched.
	StateGeneratingToken SessionState = "generating_token"
	// StateConnecting is when the transport and realtime session are being opened.
	StateConnecting SessionState = "connecting"
	// StateConnected is when the session is open but not yet ready.
	StateConnected SessionState = "connected"
	// StateInSession is when the remote model has acknowledged the session.
	StateInSession SessionState = "in_session"
	// StateEnding is the transient teardown state.
	StateEnding SessionState = "ending"
	// StateError is when any step failed; only a reset leaves it.
	StateError SessionState = "error"
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateIdle, StateRequestingPermissions, StateGeneratingToken, StateConnecting,
		StateConnected, StateInSession, StateEnding, StateError:
		return strings.ToUpper(string(s))
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is one of the defined states.
func (s SessionState) Valid() bool {
	return s.String() != "UNKNOWN"
}

// Connecting reports whether s is one of the intermediate connect states.
func (s SessionState) Connecting() bool {
	switch s {
	case StateRequestingPermissions, StateGeneratingToken, StateConnecting:
		return true
	default:
		return false
	}
}

// SessionProfile is the fixed configuration sent to the realtime model when a
// session opens.
type SessionProfile struct {
	// Model is the realtime model identifier.
	Model string `json:"model" yaml:"model"`

	// Voice is the output voice identifier.
	Voice string `json:"voice" yaml:"voice"`

	// Temperature controls response randomness.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// TurnDetection configures server-side voice activity detection.
	TurnDetection TurnDetection `json:"turn_detection" yaml:"turn_detection"`

	// InputAudioFormat and OutputAudioFormat are the wire audio encodings.
	InputAudioFormat  string `json:"input_audio_format" yaml:"input_audio_format"`
	OutputAudioFormat string `json:"output_audio_format" yaml:"output_audio_format"`

	// TranscriptionModel enables input transcription so user turns carry text.
	// Empty disables it.
	TranscriptionModel string `json:"transcription_model,omitempty" yaml:"transcription_model"`
}

// TurnDetection configures when the server decides a user turn has ended.
type TurnDetection struct {
	// Type is the detector kind. Only "server_vad" is used.
	Type string `json:"type" yaml:"type"`

	// Threshold is the speech energy threshold (0.0 to 1.0).
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// SilenceDurationMs is how long silence must last before the turn ends.
	// Long on purpose: hypnotherapy sessions contain deliberate pauses.
	SilenceDurationMs int `json:"silence_duration_ms" yaml:"silence_duration_ms"`

	// PrefixPaddingMs is audio kept before detected speech.
	PrefixPaddingMs int `json:"prefix_padding_ms" yaml:"prefix_padding_ms"`

	// CreateResponse asks the server to start a response when a turn ends.
	CreateResponse bool `json:"create_response" yaml:"create_response"`
}

const (
	DefaultModel       = "gpt-realtime"
	DefaultVoice       = "verse"
	DefaultTemperature = 0.7
	AudioFormatPCM16   = "pcm16"
	TurnDetectionVAD   = "server_vad"
)

// DefaultSessionProfile returns the session profile every connect uses.
func DefaultSessionProfile() SessionProfile {
	return SessionProfile{
		Model:       DefaultModel,
		Voice:       DefaultVoice,
		Temperature: DefaultTemperature,
		TurnDetection: TurnDetection{
			Type:              TurnDetectionVAD,
			Threshold:         0.5,
			SilenceDurationMs: 1500,
			PrefixPaddingMs:   500,
			CreateResponse:    true,
		},
		InputAudioFormat:   AudioFormatPCM16,
		OutputAudioFormat:  AudioFormatPCM16,
		TranscriptionModel: "whisper-1",
	}
}

// MicConstraints are the capture constraints requested from the microphone.
type MicConstraints struct {
	EchoCancellation bool `json:"echo_cancellation" yaml:"echo_cancellation"`
	NoiseSuppression bool `json:"noise_suppression" yaml:"noise_suppression"`

	// AutoGainControl stays off to preserve natural voice dynamics.
	AutoGainControl bool `json:"auto_gain_control" yaml:"auto_gain_control"`

	Audio AudioConfig `json:"audio" yaml:"audio"`
}

// DefaultMicConstraints returns the fixed capture constraints.
func DefaultMicConstraints() MicConstraints {
	return MicConstraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  false,
		Audio:            DefaultAudioConfig(),
	}
}

// AudioConfig specifies audio format parameters.
type AudioConfig struct {
	// SampleRate in Hz. The realtime pcm16 format is 24000.
	SampleRate int `json:"sample_rate" yaml:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels" yaml:"channels"`

	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int `json:"bits_per_sample" yaml:"bits_per_sample"`
}

// DefaultAudioConfig returns the standard audio configuration.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		SampleRate:    24000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c AudioConfig) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration in milliseconds.
func (c AudioConfig) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}
