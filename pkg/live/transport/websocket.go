package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/tranceguide/pkg/core"
	"github.com/vango-go/tranceguide/pkg/core/live"
	"github.com/vango-go/tranceguide/pkg/live/credential"
	"github.com/vango-go/tranceguide/pkg/live/media"
	"github.com/vango-go/tranceguide/pkg/live/protocol"
)

const (
	DefaultRealtimeURL    = "wss://api.openai.com/v1/realtime"
	defaultConnectTimeout = 15 * time.Second
	defaultChunkDuration  = 100 * time.Millisecond
)

// WebSocketOptions configures a WebSocketTransport.
type WebSocketOptions struct {
	// URL is the realtime endpoint; the model is added as a query parameter.
	URL   string
	Model string

	Dialer         *websocket.Dialer
	ConnectTimeout time.Duration

	// Mic is pumped to the server as input_audio_buffer.append events until
	// it returns an error. Nil sends nothing.
	Mic io.Reader
	// ChunkDuration sets the size of each appended audio chunk.
	ChunkDuration time.Duration
	Audio         live.AudioConfig

	// Sink receives decoded assistant audio. Nil drops it.
	Sink media.Sink

	Logger *slog.Logger
}

// WebSocketTransport speaks the realtime protocol over a gorilla websocket.
type WebSocketTransport struct {
	opts   WebSocketOptions
	logger *slog.Logger
	subs   subscribers

	mu     sync.Mutex
	conn   *websocket.Conn
	opened bool

	writeMu   sync.Mutex
	muted     atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewWebSocketTransport returns an unopened transport.
func NewWebSocketTransport(opts WebSocketOptions) *WebSocketTransport {
	if strings.TrimSpace(opts.URL) == "" {
		opts.URL = DefaultRealtimeURL
	}
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = live.DefaultModel
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.ChunkDuration <= 0 {
		opts.ChunkDuration = defaultChunkDuration
	}
	if opts.Audio.SampleRate <= 0 {
		opts.Audio = live.DefaultAudioConfig()
	}
	if opts.Sink == nil {
		opts.Sink = media.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketTransport{opts: opts, logger: logger, done: make(chan struct{})}
}

func (t *WebSocketTransport) Subscribe(fn Handler) func() {
	return t.subs.add(fn)
}

// Done is closed when the read loop exits.
func (t *WebSocketTransport) Done() <-chan struct{} {
	return t.done
}

// Open dials the realtime endpoint with the credential as the only
// authenticator and starts the read and microphone loops.
func (t *WebSocketTransport) Open(ctx context.Context, cred credential.Credential) error {
	if cred.Empty() {
		return core.NewConnectionError("realtime credential is empty", nil)
	}
	t.mu.Lock()
	if t.opened {
		t.mu.Unlock()
		return errors.New("transport already opened")
	}
	t.opened = true
	t.mu.Unlock()

	wsURL, err := endpointURL(t.opts.URL, t.opts.Model)
	if err != nil {
		return core.NewConnectionError("invalid realtime url", err)
	}

	headers := make(http.Header)
	headers.Set("Authorization", "Bearer "+cred.Secret())
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := t.opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, t.opts.ConnectTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return core.NewConnectionError(fmt.Sprintf("realtime dial failed (status %d)", resp.StatusCode), err)
		}
		return core.NewConnectionError("realtime dial failed", err)
	}

	t.mu.Lock()
	if t.closed.Load() {
		t.mu.Unlock()
		_ = conn.Close()
		return core.NewConnectionError("transport closed during dial", nil)
	}
	t.conn = conn
	t.mu.Unlock()

	go t.readLoop(conn)
	if t.opts.Mic != nil {
		go t.micLoop()
	}
	t.logger.Debug("realtime transport opened", "model", t.opts.Model)
	return nil
}

func endpointURL(raw, model string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("realtime url must use http(s) or ws(s)")
	}
	q := u.Query()
	if q.Get("model") == "" {
		q.Set("model", model)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *WebSocketTransport) SendControl(msg any) error {
	if t.closed.Load() {
		return errors.New("transport is closed")
	}
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errors.New("transport is not open")
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

func (t *WebSocketTransport) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return t.SendControl(protocol.NewInputAudioAppend(pcm))
}

func (t *WebSocketTransport) SetMuted(muted bool) {
	t.muted.Store(muted)
}

func (t *WebSocketTransport) Muted() bool {
	return t.muted.Load()
}

func (t *WebSocketTransport) Interrupt() error {
	err := t.SendControl(protocol.NewResponseCancel())
	if resetErr := t.opts.Sink.Reset(); resetErr != nil {
		t.logger.Warn("playback reset failed", "error", resetErr)
	}
	return err
}

// Close sends a normal closure and closes the socket. It does not wait for the
// read loop, so it is safe to call from an event handler.
func (t *WebSocketTransport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed.Store(true)
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			close(t.done)
			return
		}
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		t.writeMu.Unlock()
		_ = conn.Close()
	})
	return nil
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn) {
	defer close(t.done)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr error
			if !t.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				closeErr = err
			}
			t.subs.emit(t.logger, RawEvent{Type: EventClosed, Err: closeErr})
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		t.handleFrame(data)
	}
}

func (t *WebSocketTransport) handleFrame(data []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || strings.TrimSpace(envelope.Type) == "" {
		t.logger.Debug("dropping malformed realtime frame", "bytes", len(data))
		return
	}
	ev := RawEvent{Type: envelope.Type, Data: append(json.RawMessage(nil), data...)}

	switch envelope.Type {
	case protocol.TypeAudioDelta, protocol.TypeOutputAudioDelta:
		decoded, err := protocol.DecodeServerEvent(data)
		if err != nil {
			t.logger.Debug("dropping malformed audio delta", "error", err)
			return
		}
		pcm, err := decoded.(protocol.AudioDelta).PCM()
		if err != nil {
			t.logger.Debug("dropping malformed audio delta", "error", err)
			return
		}
		ev.Audio = pcm
		if _, err := t.opts.Sink.Write(pcm); err != nil {
			t.logger.Warn("playback write failed", "error", err)
		}
	}
	t.subs.emit(t.logger, ev)
}

func (t *WebSocketTransport) micLoop() {
	size := t.opts.Audio.BytesForDurationMs(int(t.opts.ChunkDuration / time.Millisecond))
	if size <= 0 {
		size = 4800
	}
	buf := make([]byte, size)
	for {
		n, err := t.opts.Mic.Read(buf)
		if t.closed.Load() {
			return
		}
		if n > 0 && !t.muted.Load() {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			if sendErr := t.SendAudio(frame); sendErr != nil {
				t.logger.Warn("microphone send failed", "error", sendErr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !t.closed.Load() {
				t.logger.Warn("microphone read failed", "error", err)
			}
			return
		}
	}
}

// WebSocketFactory builds WebSocketTransports and RealtimeSessions.
type WebSocketFactory struct {
	URL              string
	Dialer           *websocket.Dialer
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	ChunkDuration    time.Duration
	Logger           *slog.Logger
}

func (f *WebSocketFactory) NewTransport(mic media.Stream, sink media.Sink) (Transport, error) {
	opts := WebSocketOptions{
		URL:            f.URL,
		Dialer:         f.Dialer,
		ConnectTimeout: f.ConnectTimeout,
		ChunkDuration:  f.ChunkDuration,
		Sink:           sink,
		Logger:         f.Logger,
	}
	if mic != nil {
		opts.Mic = mic
	}
	return NewWebSocketTransport(opts), nil
}

func (f *WebSocketFactory) NewSession(t Transport, agent *live.Agent, profile live.SessionProfile) (Session, error) {
	if t == nil {
		return nil, errors.New("transport must not be nil")
	}
	if ws, ok := t.(*WebSocketTransport); ok && strings.TrimSpace(profile.Model) != "" {
		ws.opts.Model = profile.Model
	}
	return NewRealtimeSession(t, agent, profile, SessionOptions{
		HandshakeTimeout: f.HandshakeTimeout,
		Logger:           f.Logger,
	}), nil
}
