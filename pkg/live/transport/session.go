package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/tranceguide/pkg/core"
	"github.com/vango-go/tranceguide/pkg/core/live"
	"github.com/vango-go/tranceguide/pkg/live/credential"
	"github.com/vango-go/tranceguide/pkg/live/protocol"
)

const defaultHandshakeTimeout = 15 * time.Second

// SessionOptions configures a RealtimeSession.
type SessionOptions struct {
	// HandshakeTimeout bounds the wait for session.created after the socket
	// opens.
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// RealtimeSession configures the model over a Transport and republishes its
// events in session-level form:
//
//   - session.created and session.updated pass through; session.created is
//     replayed to handlers that subscribe after it arrived
//   - completed input transcriptions and assistant transcripts become
//     conversation.item.created with formatted.transcript set
//   - audio deltas become audio events carrying decoded PCM
//   - server errors become error events carrying a session error
//   - the transport closing becomes a disconnect event
type RealtimeSession struct {
	transport Transport
	agent     *live.Agent
	profile   live.SessionProfile
	opts      SessionOptions
	logger    *slog.Logger
	subs      subscribers

	// dispatchMu orders sticky replay against live dispatch.
	dispatchMu sync.Mutex
	created    *RawEvent

	mu        sync.Mutex
	unsub     func()
	handshake chan error
	connected bool
	closed    bool
}

// NewRealtimeSession binds a session to t.
func NewRealtimeSession(t Transport, agent *live.Agent, profile live.SessionProfile, opts SessionOptions) *RealtimeSession {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RealtimeSession{
		transport: t,
		agent:     agent,
		profile:   profile,
		opts:      opts,
		logger:    logger,
		handshake: make(chan error, 1),
	}
}

// Subscribe registers fn. If the session was already created, fn receives the
// session.created event before any later event. fn must not call Subscribe.
func (s *RealtimeSession) Subscribe(fn Handler) func() {
	if fn == nil {
		return func() {}
	}
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	unsubscribe := s.subs.add(fn)
	if s.created != nil {
		callHandler(s.logger, fn, *s.created)
	}
	return unsubscribe
}

// Connect opens the transport, sends the session profile and waits until the
// server acknowledges the session.
func (s *RealtimeSession) Connect(ctx context.Context, cred credential.Credential) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.NewConnectionError("session is closed", nil)
	}
	if s.connected {
		s.mu.Unlock()
		return errors.New("session already connected")
	}
	s.connected = true
	s.unsub = s.transport.Subscribe(s.handleTransportEvent)
	s.mu.Unlock()

	if err := s.transport.Open(ctx, cred); err != nil {
		return err
	}
	if err := s.transport.SendControl(protocol.NewSessionUpdate(s.agent, s.profile)); err != nil {
		return core.NewConnectionError("send session.update", err)
	}

	timer := time.NewTimer(s.opts.HandshakeTimeout)
	defer timer.Stop()
	select {
	case err := <-s.handshake:
		return err
	case <-timer.C:
		return core.NewConnectionError("realtime session was not created", fmt.Errorf("no session.created within %s", s.opts.HandshakeTimeout))
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *RealtimeSession) Mute(muted bool) {
	s.transport.SetMuted(muted)
}

// SendAudio appends PCM to the input buffer and optionally commits it as a
// finished user turn.
func (s *RealtimeSession) SendAudio(pcm []byte, commit bool) error {
	if len(pcm) > 0 {
		if err := s.transport.SendAudio(pcm); err != nil {
			return err
		}
	}
	if commit {
		return s.transport.SendControl(protocol.NewInputAudioCommit())
	}
	return nil
}

// Close detaches from the transport and closes it.
func (s *RealtimeSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.subs.clear()
	return s.transport.Close()
}

func (s *RealtimeSession) signalHandshake(err error) {
	select {
	case s.handshake <- err:
	default:
	}
}

func (s *RealtimeSession) publish(ev RawEvent) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	if ev.Type == SessionEventCreated {
		sticky := ev
		s.created = &sticky
	}
	s.subs.emit(s.logger, ev)
}

func (s *RealtimeSession) handleTransportEvent(ev RawEvent) {
	switch ev.Type {
	case protocol.TypeSessionCreated:
		s.signalHandshake(nil)
		s.publish(RawEvent{Type: SessionEventCreated, Data: ev.Data})
	case protocol.TypeSessionUpdated:
		s.publish(RawEvent{Type: SessionEventUpdated, Data: ev.Data})
	case protocol.TypeConversationItemCreated:
		decoded, err := protocol.DecodeServerEvent(ev.Data)
		if err != nil {
			s.logger.Debug("dropping malformed item", "error", err)
			return
		}
		// audio items arrive before their transcript; the transcription
		// events below publish them once text exists
		if item, ok := decoded.(protocol.ConversationItemCreated); ok && item.Item.Text() != "" {
			s.publish(RawEvent{Type: SessionEventItemCreated, Data: ev.Data})
		}
	case protocol.TypeInputTranscriptionCompleted:
		decoded, err := protocol.DecodeServerEvent(ev.Data)
		if err != nil {
			s.logger.Debug("dropping malformed transcription", "error", err)
			return
		}
		done := decoded.(protocol.InputTranscriptionCompleted)
		s.publishTranscript(done.ItemID, string(live.RoleUser), done.Transcript)
	case protocol.TypeAudioTranscriptDone, protocol.TypeOutputAudioTranscriptDone:
		decoded, err := protocol.DecodeServerEvent(ev.Data)
		if err != nil {
			s.logger.Debug("dropping malformed transcript", "error", err)
			return
		}
		done := decoded.(protocol.AudioTranscriptDone)
		s.publishTranscript(done.ItemID, string(live.RoleAssistant), done.Transcript)
	case protocol.TypeAudioDelta, protocol.TypeOutputAudioDelta:
		if len(ev.Audio) > 0 {
			s.publish(RawEvent{Type: SessionEventAudio, Audio: ev.Audio})
		}
	case protocol.TypeError:
		err := serverError(ev.Data)
		s.signalHandshake(core.NewConnectionError("realtime session rejected", err))
		s.publish(RawEvent{Type: SessionEventError, Data: ev.Data, Err: core.NewSessionError("realtime session error", err)})
	case EventClosed:
		cause := ev.Err
		if cause == nil {
			cause = errors.New("connection closed")
		}
		s.signalHandshake(core.NewConnectionError("realtime connection closed", cause))
		s.publish(RawEvent{Type: SessionEventDisconnect, Err: ev.Err})
	}
}

func (s *RealtimeSession) publishTranscript(itemID, role, transcript string) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return
	}
	data, err := json.Marshal(protocol.ConversationItemCreated{
		Item: protocol.Item{
			ID:        itemID,
			Type:      "message",
			Role:      role,
			Formatted: &protocol.Formatted{Transcript: transcript},
		},
	})
	if err != nil {
		s.logger.Warn("encode transcript item failed", "error", err)
		return
	}
	s.publish(RawEvent{Type: SessionEventItemCreated, Data: withType(data, protocol.TypeConversationItemCreated)})
}

// withType adds a "type" member to an encoded object.
func withType(obj []byte, typ string) json.RawMessage {
	prefix := fmt.Sprintf(`{"type":%q`, typ)
	if len(obj) <= 2 {
		return json.RawMessage(prefix + "}")
	}
	return json.RawMessage(prefix + "," + string(obj[1:]))
}

func serverError(data json.RawMessage) error {
	decoded, err := protocol.DecodeServerEvent(data)
	if err != nil {
		return err
	}
	se, ok := decoded.(protocol.ServerError)
	if !ok {
		return errors.New("realtime error")
	}
	msg := strings.TrimSpace(se.Error.Message)
	if msg == "" {
		msg = "realtime error"
	}
	return &core.Error{Type: core.ErrSession, Message: msg, Code: strings.TrimSpace(se.Error.Code)}
}
