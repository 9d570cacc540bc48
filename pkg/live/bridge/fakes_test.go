package bridge

import (
	"context"
	"sync"

	"github.com/vango-go/tranceguide/pkg/live/credential"
	"github.com/vango-go/tranceguide/pkg/live/transport"
)

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
}

func (s *fakeSession) Connect(context.Context, credential.Credential) error { return nil }
func (s *fakeSession) Mute(bool)                                          {}
func (s *fakeSession) SendAudio([]byte, bool) error                       { return nil }
func (s *fakeSession) Close() error                                       { return nil }

type fakeTransport struct {
	fakeSource

	sentMu sync.Mutex
	sent   []any
}

func (t *fakeTransport) Open(context.Context, credential.Credential) error { return nil }
func (t *fakeTransport) SendAudio([]byte) error                           { return nil }
func (t *fakeTransport) SetMuted(bool)                                    {}
func (t *fakeTransport) Interrupt() error                                 { return nil }
func (t *fakeTransport) Close() error                                     { return nil }

func (t *fakeTransport) SendControl(msg any) error {
	t.sentMu.Lock()
	defer t.sentMu.Unlock()
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) sentMessages() []any {
	t.sentMu.Lock()
	defer t.sentMu.Unlock()
	return append([]any(nil), t.sent...)
}

var (
	_ transport.Session   = (*fakeSession)(nil)
	_ transport.Transport = (*fakeTransport)(nil)
)
