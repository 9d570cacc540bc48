package bridge

import (
	"encoding/json"

	"github.com/vango-go/tranceguide/pkg/live/protocol"
	"github.com/vango-go/tranceguide/pkg/live/transport"
)

// sourceEvent is the closed set of raw events the bridge understands.
type sourceEvent interface {
	sourceEvent()
}

type (
	sessionCreated struct{}
	sessionUpdated struct{ raw json.RawMessage }
	itemCreated    struct{ item protocol.Item }
	audioChunk     struct{ pcm []byte }
	sessionFailed  struct{ err error }
	sessionClosed  struct{ err error }
	speechStarted  struct{}
	speechStopped  struct{}
	responseBegan  struct{ raw json.RawMessage }
	responseEnded  struct{ raw json.RawMessage }
	unknownEvent   struct{ typ string }
)

func (sessionCreated) sourceEvent() {}
func (sessionUpdated) sourceEvent() {}
func (itemCreated) sourceEvent()    {}
func (audioChunk) sourceEvent()     {}
func (sessionFailed) sourceEvent()  {}
func (sessionClosed) sourceEvent()  {}
func (speechStarted) sourceEvent()  {}
func (speechStopped) sourceEvent()  {}
func (responseBegan) sourceEvent()  {}
func (responseEnded) sourceEvent()  {}
func (unknownEvent) sourceEvent()   {}

// decodeSessionEvent maps a session-source event. Payloads that fail to decode
// fall back to unknownEvent.
func decodeSessionEvent(ev transport.RawEvent) sourceEvent {
	switch ev.Type {
	case transport.SessionEventCreated:
		return sessionCreated{}
	case transport.SessionEventUpdated:
		return sessionUpdated{raw: sessionPayload(ev.Data)}
	case transport.SessionEventItemCreated:
		decoded, err := protocol.DecodeServerEvent(ev.Data)
		if err != nil {
			return unknownEvent{typ: ev.Type}
		}
		created, ok := decoded.(protocol.ConversationItemCreated)
		if !ok {
			return unknownEvent{typ: ev.Type}
		}
		return itemCreated{item: created.Item}
	case transport.SessionEventAudio:
		return audioChunk{pcm: ev.Audio}
	case transport.SessionEventError:
		return sessionFailed{err: ev.Err}
	case transport.SessionEventDisconnect:
		return sessionClosed{err: ev.Err}
	default:
		return unknownEvent{typ: ev.Type}
	}
}

// decodeTransportEvent maps a transport-source event. Only voice activity and
// response lifecycle events are taken from this source.
func decodeTransportEvent(ev transport.RawEvent) sourceEvent {
	switch ev.Type {
	case protocol.TypeSpeechStarted:
		return speechStarted{}
	case protocol.TypeSpeechStopped:
		return speechStopped{}
	case protocol.TypeResponseCreated:
		return responseBegan{raw: ev.Data}
	case protocol.TypeResponseDone:
		return responseEnded{raw: ev.Data}
	default:
		return unknownEvent{typ: ev.Type}
	}
}

func sessionPayload(data json.RawMessage) json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	var envelope struct {
		Session json.RawMessage `json:"session"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || len(envelope.Session) == 0 {
		return data
	}
	return envelope.Session
}
