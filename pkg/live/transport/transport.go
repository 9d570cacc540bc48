// Package transport is the boundary to the hosted realtime model.
//
// Transport is the wire connection: it opens with an ephemeral credential,
// streams microphone audio, plays assistant audio and publishes every server
// event. Session binds a transport to an agent and session profile and
// publishes the normalized session-level events the bridge consumes. Both are
// interfaces so the connector and bridge can run against test doubles.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/vango-go/tranceguide/pkg/core/live"
	"github.com/vango-go/tranceguide/pkg/live/credential"
	"github.com/vango-go/tranceguide/pkg/live/media"
)

// Session-level event types.
const (
	SessionEventCreated     = "session.created"
	SessionEventUpdated     = "session.updated"
	SessionEventItemCreated = "conversation.item.created"
	SessionEventAudio       = "audio"
	SessionEventError       = "error"
	SessionEventDisconnect  = "disconnect"
)

// EventClosed is published by a transport when its connection ends.
const EventClosed = "transport.closed"

// RawEvent is one event published by a Transport or Session. Data is the JSON
// payload when there is one; Audio carries decoded PCM16 for audio events; Err
// is set on error and close events.
type RawEvent struct {
	Type  string
	Data  json.RawMessage
	Audio []byte
	Err   error
}

// Handler receives events in publish order.
type Handler func(RawEvent)

// Transport is the realtime wire connection.
type Transport interface {
	Subscribe(fn Handler) (unsubscribe func())
	Open(ctx context.Context, cred credential.Credential) error
	SendControl(msg any) error
	SendAudio(pcm []byte) error
	SetMuted(muted bool)
	// Interrupt cancels the response being produced and flushes playback.
	Interrupt() error
	Close() error
}

// Session is a realtime model session bound to a Transport.
type Session interface {
	Subscribe(fn Handler) (unsubscribe func())
	Connect(ctx context.Context, cred credential.Credential) error
	Mute(muted bool)
	SendAudio(pcm []byte, commit bool) error
	Close() error
}

// Factory builds the transport and session for one connect attempt.
type Factory interface {
	NewTransport(mic media.Stream, sink media.Sink) (Transport, error)
	NewSession(t Transport, agent *live.Agent, profile live.SessionProfile) (Session, error)
}

type subscriber struct {
	id uint64
	fn Handler
}

// subscribers is an ordered handler list. Handlers run outside the lock so
// they may unsubscribe themselves.
type subscribers struct {
	mu     sync.Mutex
	nextID uint64
	list   []subscriber
}

func (s *subscribers) add(fn Handler) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.list = append(s.list, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *subscribers) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.list {
		if sub.id == id {
			s.list = append(s.list[:i:i], s.list[i+1:]...)
			return
		}
	}
}

func (s *subscribers) clear() {
	s.mu.Lock()
	s.list = nil
	s.mu.Unlock()
}

func (s *subscribers) emit(logger *slog.Logger, ev RawEvent) {
	s.mu.Lock()
	handlers := make([]Handler, len(s.list))
	for i, sub := range s.list {
		handlers[i] = sub.fn
	}
	s.mu.Unlock()

	for _, fn := range handlers {
		callHandler(logger, fn, ev)
	}
}

func callHandler(logger *slog.Logger, fn Handler, ev RawEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panicked", "event", ev.Type, "panic", r)
		}
	}()
	fn(ev)
}
