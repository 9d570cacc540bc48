// Package connector composes credential fetch, microphone acquisition and the
// realtime transport into one connect operation with bounded retry.
package connector

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/vango-go/tranceguide/pkg/core"
	"github.com/vango-go/tranceguide/pkg/core/live"
	"github.com/vango-go/tranceguide/pkg/live/credential"
	"github.com/vango-go/tranceguide/pkg/live/media"
	"github.com/vango-go/tranceguide/pkg/live/transport"
)

// ErrSuperseded is returned by a connect attempt that finished after
// Disconnect. Whatever it built has already been released.
var ErrSuperseded = errors.New("connect superseded by disconnect")

// CredentialSource issues ephemeral realtime credentials.
type CredentialSource interface {
	Fetch(ctx context.Context) (credential.Credential, error)
}

// Config wires a Connector.
type Config struct {
	Credentials CredentialSource
	Microphone  media.Acquirer
	Factory     transport.Factory

	// Sink plays assistant audio. Nil discards it.
	Sink media.Sink

	Profile     live.SessionProfile
	Constraints live.MicConstraints
	Retry       RetryPolicy

	Logger *slog.Logger
}

// Handle is an open live session and the transport under it.
type Handle struct {
	Session   transport.Session
	Transport transport.Transport
}

// SendOptions controls SendAudio.
type SendOptions struct {
	// Commit ends the current user turn after the audio.
	Commit bool
}

// Connector exclusively owns the microphone stream and the live session.
type Connector struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	generation uint64
	mic        media.Stream
	session    transport.Session
	transport  transport.Transport
	muted      bool
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Connector, error) {
	if cfg.Credentials == nil {
		return nil, errors.New("connector: credential source is required")
	}
	if cfg.Microphone == nil {
		return nil, errors.New("connector: microphone acquirer is required")
	}
	if cfg.Factory == nil {
		return nil, errors.New("connector: transport factory is required")
	}
	if cfg.Sink == nil {
		cfg.Sink = media.Discard
	}
	if cfg.Profile.Model == "" {
		cfg.Profile = live.DefaultSessionProfile()
	}
	if cfg.Constraints.Audio.SampleRate == 0 {
		cfg.Constraints = live.DefaultMicConstraints()
	}
	cfg.Retry = cfg.Retry.normalized()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{cfg: cfg, logger: logger}, nil
}

// Connected reports whether a live session is held.
func (c *Connector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// AcquireMicrophone releases any held stream and acquires a new one.
func (c *Connector) AcquireMicrophone(ctx context.Context) error {
	c.mu.Lock()
	gen := c.generation
	prev := c.mic
	c.mic = nil
	c.mu.Unlock()
	if prev != nil {
		if err := prev.Stop(); err != nil {
			c.logger.Warn("release microphone failed", "error", err)
		}
	}
	_, err := c.acquire(ctx, gen)
	return err
}

func (c *Connector) ensureMicrophone(ctx context.Context, gen uint64) (media.Stream, error) {
	c.mu.Lock()
	mic := c.mic
	c.mu.Unlock()
	if mic != nil {
		return mic, nil
	}
	return c.acquire(ctx, gen)
}

func (c *Connector) acquire(ctx context.Context, gen uint64) (media.Stream, error) {
	stream, err := c.cfg.Microphone.Acquire(ctx, c.cfg.Constraints)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		_ = stream.Stop()
		return nil, ErrSuperseded
	}
	if c.mic != nil {
		_ = stream.Stop()
		return c.mic, nil
	}
	c.mic = stream
	return stream, nil
}

// Connect performs one attempt: fetch a credential, ensure the microphone,
// build the transport and session, and open the session with the credential.
// Credential, permission and device errors are returned as is; failures to
// establish the session are connection errors.
func (c *Connector) Connect(ctx context.Context, agent *live.Agent) (*Handle, error) {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	report(ctx, StepCredential)
	cred, err := c.cfg.Credentials.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	report(ctx, StepMicrophone)
	mic, err := c.ensureMicrophone(ctx, gen)
	if err != nil {
		return nil, err
	}

	report(ctx, StepTransport)
	tr, err := c.cfg.Factory.NewTransport(mic, c.cfg.Sink)
	if err != nil {
		return nil, core.NewConnectionError("create transport", err)
	}
	sess, err := c.cfg.Factory.NewSession(tr, agent, c.cfg.Profile)
	if err != nil {
		_ = tr.Close()
		return nil, core.NewConnectionError("create session", err)
	}
	if err := sess.Connect(ctx, cred); err != nil {
		c.closeQuietly(sess, tr)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if core.IsType(err, core.ErrConnection) {
			return nil, err
		}
		return nil, core.NewConnectionError("open realtime session", err)
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		c.closeQuietly(sess, tr)
		return nil, ErrSuperseded
	}
	prevSess, prevTr := c.session, c.transport
	c.session, c.transport = sess, tr
	muted := c.muted
	c.mu.Unlock()

	if prevSess != nil {
		c.closeQuietly(prevSess, prevTr)
	}
	if muted {
		sess.Mute(true)
	}
	c.logger.Info("realtime session connected", "model", c.cfg.Profile.Model)
	return &Handle{Session: sess, Transport: tr}, nil
}

// ConnectWithRetry runs Connect up to maxAttempts times (the policy's value
// when maxAttempts <= 0). Only retryable errors are retried; the last error is
// returned. A cancelled ctx ends the backoff early.
func (c *Connector) ConnectWithRetry(ctx context.Context, agent *live.Agent, maxAttempts int) (*Handle, error) {
	policy := c.cfg.Retry
	if maxAttempts > 0 {
		policy.MaxAttempts = maxAttempts
	}
	backoff := policy.Backoff()

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		handle, err := c.Connect(ctx, agent)
		if err == nil {
			return handle, nil
		}
		lastErr = err
		if !core.IsRetryable(err) || attempt == policy.MaxAttempts-1 {
			break
		}
		delay, stop := backoff.Next()
		if stop {
			break
		}
		c.logger.Warn("connect attempt failed, retrying",
			"attempt", attempt+1,
			"max_attempts", policy.MaxAttempts,
			"delay", delay,
			"error", err,
		)
		if err := policy.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// Disconnect tears everything down. It is idempotent, never fails and
// invalidates any connect attempt still in flight.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	c.generation++
	sess, tr, mic := c.session, c.transport, c.mic
	c.session, c.transport, c.mic = nil, nil, nil
	c.muted = false
	c.mu.Unlock()

	if sess != nil || tr != nil {
		c.closeQuietly(sess, tr)
	}
	if mic != nil {
		if err := mic.Stop(); err != nil {
			c.logger.Warn("release microphone failed", "error", err)
		}
	}
}

func (c *Connector) closeQuietly(sess transport.Session, tr transport.Transport) {
	if sess != nil {
		if err := sess.Close(); err != nil {
			c.logger.Warn("close session failed", "error", err)
		}
	}
	if tr != nil {
		if err := tr.Close(); err != nil {
			c.logger.Warn("close transport failed", "error", err)
		}
	}
}

// Interrupt cancels the response in progress and flushes playback. It is a
// no-op when not connected.
func (c *Connector) Interrupt() {
	c.mu.Lock()
	tr := c.transport
	c.mu.Unlock()
	if tr == nil {
		return
	}
	if err := tr.Interrupt(); err != nil {
		c.logger.Warn("interrupt failed", "error", err)
	}
}

// Mute toggles microphone transmission without closing the session.
func (c *Connector) Mute(muted bool) {
	c.mu.Lock()
	c.muted = muted
	sess := c.session
	c.mu.Unlock()
	if sess != nil {
		sess.Mute(muted)
	}
}

// SendAudio forwards PCM16 to the live session.
func (c *Connector) SendAudio(pcm []byte, opts SendOptions) error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return core.NewSessionError("not connected", nil)
	}
	return sess.SendAudio(pcm, opts.Commit)
}
