package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/tranceguide/pkg/core/live"
	"github.com/vango-go/tranceguide/pkg/live/credential"
	"github.com/vango-go/tranceguide/pkg/live/media"
	"github.com/vango-go/tranceguide/pkg/live/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCredentials struct {
	mu  sync.Mutex
	err error
}

func (f *fakeCredentials) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeCredentials) Fetch(context.Context) (credential.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return credential.Credential{}, f.err
	}
	return credential.New("ek_test", time.Now().Add(time.Minute)), nil
}

type fakeStream struct {
	mu      sync.Mutex
	stopped int
}

func (s *fakeStream) Read([]byte) (int, error) { return 0, io.EOF }

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *fakeStream) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeAcquirer struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
}

func (a *fakeAcquirer) Acquire(context.Context, live.MicConstraints) (media.Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	s := &fakeStream{}
	a.streams = append(a.streams, s)
	return s, nil
}

type fakeSource struct {
	mu       sync.Mutex
	handlers map[int]transport.Handler
	next     int
}

func (s *fakeSource) Subscribe(fn transport.Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[int]transport.Handler)
	}
	s.next++
	id := s.next
	s.handlers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

func (s *fakeSource) push(ev transport.RawEvent) {
	s.mu.Lock()
	handlers := make([]transport.Handler, 0, len(s.handlers))
	for i := 1; i <= s.next; i++ {
		if h, ok := s.handlers[i]; ok {
			handlers = append(handlers, h)
		}
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (s *fakeSource) subscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

type fakeSession struct {
	fakeSource
	connect     func(ctx context.Context) error
	onSubscribe func()

	stateMu sync.Mutex
	closed  int
	muted   bool
}

func (s *fakeSession) Connect(ctx context.Context, _ credential.Credential) error {
	if s.connect != nil {
		return s.connect(ctx)
	}
	return nil
}

func (s *fakeSession) Subscribe(fn transport.Handler) func() {
	if s.onSubscribe != nil {
		s.onSubscribe()
	}
	return s.fakeSource.Subscribe(fn)
}

func (s *fakeSession) Mute(muted bool) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.muted = muted
}

func (s *fakeSession) isMuted() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.muted
}

func (s *fakeSession) SendAudio([]byte, bool) error { return nil }

func (s *fakeSession) Close() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) closeCount() int {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.closed
}

type fakeTransport struct {
	fakeSource

	stateMu     sync.Mutex
	sent        []any
	interrupted int
}

func (t *fakeTransport) Open(context.Context, credential.Credential) error { return nil }
func (t *fakeTransport) SendAudio([]byte) error                           { return nil }
func (t *fakeTransport) SetMuted(bool)                                    {}
func (t *fakeTransport) Close() error                                     { return nil }

func (t *fakeTransport) SendControl(msg any) error {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) Interrupt() error {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	t.interrupted++
	return nil
}

type fakeFactory struct {
	mu         sync.Mutex
	connects   []func(ctx context.Context) error
	subscribes []func()
	sessions   []*fakeSession
	transports []*fakeTransport
}

func (f *fakeFactory) NewTransport(media.Stream, media.Sink) (transport.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr := &fakeTransport{}
	f.transports = append(f.transports, tr)
	return tr, nil
}

func (f *fakeFactory) NewSession(transport.Transport, *live.Agent, live.SessionProfile) (transport.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSession{}
	if i := len(f.sessions); i < len(f.connects) {
		s.connect = f.connects[i]
	}
	if i := len(f.sessions); i < len(f.subscribes) {
		s.onSubscribe = f.subscribes[i]
	}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeFactory) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

func (f *fakeFactory) transport(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[i]
}

func (f *fakeFactory) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}
