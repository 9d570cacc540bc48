package connector

import (
	"context"
	"errors"
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
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeCredentials) Fetch(context.Context) (credential.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
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

func (a *fakeAcquirer) acquired() []*fakeStream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*fakeStream(nil), a.streams...)
}

type fakeTransport struct {
	mu          sync.Mutex
	closed      int
	interrupted int
	muted       bool
}

func (t *fakeTransport) Subscribe(transport.Handler) func()               { return func() {} }
func (t *fakeTransport) Open(context.Context, credential.Credential) error { return nil }
func (t *fakeTransport) SendControl(any) error                            { return nil }
func (t *fakeTransport) SendAudio([]byte) error                           { return nil }

func (t *fakeTransport) SetMuted(muted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.muted = muted
}

func (t *fakeTransport) Interrupt() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interrupted++
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

type fakeSession struct {
	connect func(ctx context.Context) error

	mu     sync.Mutex
	closed int
	muted  bool
	sent   [][]byte
	commit []bool
}

func (s *fakeSession) Subscribe(transport.Handler) func() { return func() {} }

func (s *fakeSession) Connect(ctx context.Context, _ credential.Credential) error {
	if s.connect != nil {
		return s.connect(ctx)
	}
	return nil
}

func (s *fakeSession) Mute(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

func (s *fakeSession) SendAudio(pcm []byte, commit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, pcm)
	s.commit = append(s.commit, commit)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeFactory hands out sessions whose Connect runs connects[i] for attempt i;
// attempts past the end succeed.
type fakeFactory struct {
	mu         sync.Mutex
	connects   []func(ctx context.Context) error
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
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeFactory) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func failWith(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

var errBoom = errors.New("boom")

var (
	_ transport.Transport = (*fakeTransport)(nil)
	_ transport.Session   = (*fakeSession)(nil)
	_ transport.Factory   = (*fakeFactory)(nil)
	_ CredentialSource    = (*fakeCredentials)(nil)
)
