// Package bridge normalizes raw realtime events into the typed live.Event
// vocabulary and fans them out to listeners.
package bridge

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-go/tranceguide/pkg/core"
	"github.com/vango-go/tranceguide/pkg/core/live"
	"github.com/vango-go/tranceguide/pkg/live/protocol"
	"github.com/vango-go/tranceguide/pkg/live/transport"
)

// ListenerID identifies a registered listener for Off.
type ListenerID uint64

// Listener handles one normalized event.
type Listener func(live.Event)

type listener struct {
	id ListenerID
	fn Listener
}

// Bridge subscribes to a session and its transport and republishes their
// events as live.Events. Dispatch is synchronous and in delivery order.
type Bridge struct {
	logger *slog.Logger
	now    func() time.Time
	seq    atomic.Uint64

	mu        sync.Mutex
	nextID    ListenerID
	listeners map[live.EventName][]listener
	session   transport.Session
	transport transport.Transport
	detach    []func()
}

// Option configures a Bridge.
type Option func(*Bridge)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock sets the time source for transcript timestamps and fallback ids.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

func New(opts ...Option) *Bridge {
	b := &Bridge{
		logger:    slog.Default(),
		now:       time.Now,
		listeners: make(map[live.EventName][]listener),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach subscribes to session and tr, replacing any previous attachment.
// Either may be nil.
func (b *Bridge) Attach(session transport.Session, tr transport.Transport) {
	b.detachSources()

	b.mu.Lock()
	b.session = session
	b.transport = tr
	b.mu.Unlock()

	var detach []func()
	if session != nil {
		detach = append(detach, session.Subscribe(func(ev transport.RawEvent) {
			b.handle(decodeSessionEvent(ev))
		}))
	}
	if tr != nil {
		detach = append(detach, tr.Subscribe(func(ev transport.RawEvent) {
			b.handle(decodeTransportEvent(ev))
		}))
	}

	b.mu.Lock()
	b.detach = append(b.detach, detach...)
	b.mu.Unlock()
}

// Attached reports whether a session or transport is attached.
func (b *Bridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session != nil || b.transport != nil
}

// On registers fn for name. Several listeners may share a name; they run in
// registration order.
func (b *Bridge) On(name live.EventName, fn Listener) ListenerID {
	if fn == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.listeners[name] = append(b.listeners[name], listener{id: b.nextID, fn: fn})
	return b.nextID
}

// Off removes the listener registered under id.
func (b *Bridge) Off(name live.EventName, id ListenerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.listeners[name]
	for i, l := range list {
		if l.id == id {
			b.listeners[name] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.listeners[name]) == 0 {
		delete(b.listeners, name)
	}
}

// Emit delivers ev to every listener for its name. A panicking listener is
// logged and the rest still run.
func (b *Bridge) Emit(ev live.Event) {
	if ev == nil {
		return
	}
	name := ev.EventName()
	b.mu.Lock()
	list := append([]listener(nil), b.listeners[name]...)
	b.mu.Unlock()

	for _, l := range list {
		b.call(name, l.fn, ev)
	}
}

func (b *Bridge) call(name live.EventName, fn Listener, ev live.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked", "event", string(name), "panic", fmt.Sprint(r))
		}
	}()
	fn(ev)
}

// RemoveAllListeners drops every listener and detaches from the session and
// transport. It must run before the bridge is discarded.
func (b *Bridge) RemoveAllListeners() {
	b.detachSources()
	b.mu.Lock()
	b.listeners = make(map[live.EventName][]listener)
	b.mu.Unlock()
}

func (b *Bridge) detachSources() {
	b.mu.Lock()
	detach := b.detach
	b.detach = nil
	b.session = nil
	b.transport = nil
	b.mu.Unlock()
	for _, fn := range detach {
		fn()
	}
}

// TriggerResponse asks the model to respond. Blank instructions use
// protocol.DefaultResponsePrompt. It is a no-op when nothing is attached.
func (b *Bridge) TriggerResponse(instructions string) {
	b.sendControl("response.create", protocol.NewResponseCreate(instructions))
}

// CancelResponse cancels the response in progress. It is a no-op when nothing
// is attached.
func (b *Bridge) CancelResponse() {
	b.sendControl("response.cancel", protocol.NewResponseCancel())
}

func (b *Bridge) sendControl(op string, msg any) {
	b.mu.Lock()
	tr := b.transport
	b.mu.Unlock()
	if tr == nil {
		return
	}
	if err := tr.SendControl(msg); err != nil {
		b.logger.Warn("control message failed", "op", op, "error", err)
	}
}

func (b *Bridge) handle(ev sourceEvent) {
	switch e := ev.(type) {
	case sessionCreated:
		b.Emit(&live.SessionReadyEvent{})
	case sessionUpdated:
		b.Emit(&live.SessionUpdatedEvent{Raw: e.raw})
	case itemCreated:
		b.emitTranscript(e.item)
	case audioChunk:
		samples := live.DecodePCM16(e.pcm)
		amplitude := live.Amplitude(samples)
		b.Emit(&live.AudioLevelEvent{Level: amplitude})
		b.Emit(&live.AudioVisualizationEvent{Amplitude: amplitude, Waveform: live.Waveform(samples)})
	case sessionFailed:
		err := e.err
		if err == nil {
			err = core.NewSessionError("realtime session error", nil)
		}
		b.Emit(&live.SessionErrorEvent{Err: err})
	case sessionClosed:
		reason := "connection closed"
		if e.err != nil {
			reason = e.err.Error()
		}
		b.Emit(&live.SessionDisconnectedEvent{Reason: reason})
	case speechStarted:
		b.Emit(&live.SpeechStartedEvent{})
	case speechStopped:
		b.Emit(&live.SpeechStoppedEvent{})
	case responseBegan:
		b.Emit(&live.ResponseCreatedEvent{Raw: e.raw})
	case responseEnded:
		b.Emit(&live.ResponseDoneEvent{Raw: e.raw})
	case unknownEvent:
		// ignored
	}
}

func (b *Bridge) emitTranscript(item protocol.Item) {
	role := live.Role(strings.TrimSpace(item.Role))
	if !role.Valid() {
		return
	}
	now := b.now()
	id := strings.TrimSpace(item.ID)
	if id == "" {
		id = fmt.Sprintf("item_%d_%d", now.UnixMilli(), b.seq.Add(1))
	}
	b.Emit(&live.TranscriptUpdatedEvent{Entry: live.TranscriptEntry{
		ID:        id,
		Role:      role,
		Content:   item.Text(),
		Timestamp: now,
	}})
}
