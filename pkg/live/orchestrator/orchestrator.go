// Package orchestrator is the composition root of a voice session. It drives
// the connector through the session lifecycle, attaches the bridge to the
// live session and projects bridge events into the store.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/vango-go/tranceguide/pkg/core"
	"github.com/vango-go/tranceguide/pkg/core/live"
	"github.com/vango-go/tranceguide/pkg/live/bridge"
	"github.com/vango-go/tranceguide/pkg/live/connector"
	"github.com/vango-go/tranceguide/pkg/live/store"
)

// ErrActive is returned by Connect while a session is connecting or live.
var ErrActive = core.NewInvalidRequestError("session already active")

// Connector is the part of *connector.Connector the orchestrator drives.
type Connector interface {
	AcquireMicrophone(ctx context.Context) error
	ConnectWithRetry(ctx context.Context, agent *live.Agent, maxAttempts int) (*connector.Handle, error)
	Disconnect()
	Interrupt()
	Mute(muted bool)
	SendAudio(pcm []byte, opts connector.SendOptions) error
}

// Config wires an Orchestrator. NewBridge is called once per connect attempt
// and defaults to bridge.New with Logger. Store defaults to a fresh store and
// Agent to live.DefaultAgent().
type Config struct {
	Connector   Connector
	NewBridge   func() *bridge.Bridge
	Store       *store.Store
	Agent       *live.Agent
	MaxAttempts int
	Logger      *slog.Logger
}

// Orchestrator exposes connect, disconnect, interrupt, mute, send-audio and
// trigger-response to the presentation layer, which observes the outcome only
// through Store.
type Orchestrator struct {
	conn        Connector
	newBridge   func() *bridge.Bridge
	store       *store.Store
	agent       *live.Agent
	maxAttempts int
	logger      *slog.Logger

	mu     sync.Mutex
	epoch  uint64
	cancel context.CancelFunc
	// bridge belongs to the attempt of the current epoch. Only the path that
	// takes it out under mu tears it down.
	bridge *bridge.Bridge

	// guard orders epoch-checked store writes against teardown's writes.
	guard sync.Mutex
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Connector == nil {
		return nil, errors.New("orchestrator: connector is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		conn:        cfg.Connector,
		newBridge:   cfg.NewBridge,
		store:       cfg.Store,
		agent:       cfg.Agent,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger,
	}
	if o.newBridge == nil {
		o.newBridge = func() *bridge.Bridge { return bridge.New(bridge.WithLogger(logger)) }
	}
	if o.store == nil {
		o.store = store.New()
	}
	if o.agent == nil {
		o.agent = live.DefaultAgent()
	}
	if o.maxAttempts <= 0 {
		o.maxAttempts = connector.DefaultMaxAttempts
	}
	return o, nil
}

// Store returns the session state the presentation layer observes.
func (o *Orchestrator) Store() *store.Store { return o.store }

// Connect runs the lifecycle from idle to connected; the session.ready event
// completes it to in_session. Any failure lands in the error state with the
// error attached and is also returned. From the error state Connect first
// resets. A Connect overtaken by Disconnect returns connector.ErrSuperseded
// and leaves the store alone.
func (o *Orchestrator) Connect(ctx context.Context) error {
	o.guard.Lock()
	state := o.store.State()
	if state != live.StateIdle && state != live.StateError {
		o.guard.Unlock()
		return ErrActive
	}
	o.mu.Lock()
	o.epoch++
	epoch := o.epoch
	prevCancel := o.cancel
	stale := o.bridge
	o.bridge = nil
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()
	if state == live.StateError {
		o.store.Reset()
	}
	o.store.SetAgent(o.agent)
	o.store.SetState(live.StateRequestingPermissions)
	o.guard.Unlock()
	defer cancel()

	if prevCancel != nil {
		prevCancel()
	}
	if state == live.StateError || stale != nil {
		o.release(stale)
	}

	if err := o.conn.AcquireMicrophone(ctx); err != nil {
		return o.fail(epoch, err)
	}
	if !o.setStateIfCurrent(epoch, live.StateGeneratingToken) {
		return connector.ErrSuperseded
	}

	ctx = connector.WithProgress(ctx, func(step connector.Step) {
		switch step {
		case connector.StepCredential:
			o.setStateIfCurrent(epoch, live.StateGeneratingToken)
		case connector.StepTransport:
			o.setStateIfCurrent(epoch, live.StateConnecting)
		}
	})
	handle, err := o.conn.ConnectWithRetry(ctx, o.agent, o.maxAttempts)
	if err != nil {
		return o.fail(epoch, err)
	}
	bound := o.applyIfCurrent(epoch, func() {
		o.store.BindSession(handle.Session)
		o.store.SetState(live.StateConnected)
	})
	if !bound {
		return connector.ErrSuperseded
	}

	b := o.newBridge()
	o.listen(b, epoch)
	b.Attach(handle.Session, handle.Transport)

	o.mu.Lock()
	installed := o.epoch == epoch
	if installed {
		o.bridge = b
	}
	o.mu.Unlock()
	if !installed {
		b.RemoveAllListeners()
		return connector.ErrSuperseded
	}
	o.logger.Info("voice session connected")
	return nil
}

func (o *Orchestrator) fail(epoch uint64, err error) error {
	if errors.Is(err, connector.ErrSuperseded) {
		return err
	}
	if !o.applyIfCurrent(epoch, func() { o.store.SetError(err) }) {
		return connector.ErrSuperseded
	}
	o.logger.Warn("voice session connect failed", "error_type", string(core.TypeOf(err)), "error", err)
	return err
}

func (o *Orchestrator) current(epoch uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epoch == epoch
}

// applyIfCurrent runs fn only while epoch is still the live one. Store
// listeners must not call back into the Orchestrator from fn's notifications.
func (o *Orchestrator) applyIfCurrent(epoch uint64, fn func()) bool {
	o.guard.Lock()
	defer o.guard.Unlock()
	if !o.current(epoch) {
		return false
	}
	fn()
	return true
}

func (o *Orchestrator) withGuard(fn func()) {
	o.guard.Lock()
	defer o.guard.Unlock()
	fn()
}

func (o *Orchestrator) setStateIfCurrent(epoch uint64, state live.SessionState) bool {
	return o.applyIfCurrent(epoch, func() { o.store.SetState(state) })
}

func (o *Orchestrator) listen(b *bridge.Bridge, epoch uint64) {
	b.On(live.EventSessionReady, func(live.Event) {
		o.applyIfCurrent(epoch, func() {
			if o.store.State() == live.StateConnected {
				o.store.StartSession()
			}
		})
	})
	b.On(live.EventTranscriptUpdated, func(ev live.Event) {
		e, ok := ev.(*live.TranscriptUpdatedEvent)
		if !ok {
			return
		}
		o.applyIfCurrent(epoch, func() {
			o.store.AddTranscript(e.Entry)
			if e.Entry.Role != live.RoleUser || o.store.Snapshot().Technique != nil {
				return
			}
			technique := live.DetectTechnique(e.Entry.Content)
			if o.store.SetTechniqueIfUnset(technique) {
				o.logger.Info("technique detected", "technique", string(technique))
			}
		})
	})
	b.On(live.EventAudioLevel, func(ev live.Event) {
		if e, ok := ev.(*live.AudioLevelEvent); ok {
			o.applyIfCurrent(epoch, func() { o.store.SetAudioLevel(e.Level) })
		}
	})
	b.On(live.EventSessionError, func(ev live.Event) {
		e, ok := ev.(*live.SessionErrorEvent)
		if !ok {
			return
		}
		o.applyIfCurrent(epoch, func() {
			o.logger.Warn("voice session error", "error", e.Err)
			o.store.SetError(e.Err)
		})
	})
	b.On(live.EventSessionDisconnected, func(ev live.Event) {
		reason := "connection closed"
		if e, ok := ev.(*live.SessionDisconnectedEvent); ok && e.Reason != "" {
			reason = e.Reason
		}
		// The event arrives on the transport's read goroutine; tear down
		// off it.
		go o.remoteDisconnect(epoch, reason)
	})
}

// remoteDisconnect tears down a session the remote side closed and leaves
// the store in the error state.
func (o *Orchestrator) remoteDisconnect(epoch uint64, reason string) {
	o.guard.Lock()
	defer o.guard.Unlock()
	o.mu.Lock()
	if o.epoch != epoch {
		o.mu.Unlock()
		return
	}
	o.epoch++
	b := o.bridge
	o.bridge = nil
	o.mu.Unlock()

	o.logger.Warn("voice session disconnected by remote", "reason", reason)
	o.release(b)
	o.store.UnbindSession()
	o.store.SetError(core.NewSessionError("session disconnected: "+reason, nil))
}

// Disconnect passes through ending and lands on idle from any state,
// including mid-connect. It is idempotent and never fails.
func (o *Orchestrator) Disconnect() {
	b := o.invalidate()
	o.withGuard(o.store.EndSession)
	o.release(b)
	o.withGuard(o.store.Reset)
	o.logger.Info("voice session ended")
}

// invalidate bumps the epoch, cancels any connect in flight and hands back
// the bridge of the session it ended.
func (o *Orchestrator) invalidate() *bridge.Bridge {
	o.mu.Lock()
	o.epoch++
	cancel := o.cancel
	o.cancel = nil
	b := o.bridge
	o.bridge = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return b
}

// release detaches b, which may be nil, and tears down the connector.
func (o *Orchestrator) release(b *bridge.Bridge) {
	if b != nil {
		b.RemoveAllListeners()
	}
	o.conn.Disconnect()
}

func (o *Orchestrator) currentBridge() *bridge.Bridge {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bridge
}

// Interrupt cancels the assistant response in progress.
func (o *Orchestrator) Interrupt() {
	o.conn.Interrupt()
}

// ToggleMute flips microphone transmission and returns the new muted value.
func (o *Orchestrator) ToggleMute() bool {
	muted := !o.store.Snapshot().IsMuted
	o.conn.Mute(muted)
	o.store.SetMuted(muted)
	return muted
}

// SendAudio forwards PCM16 to the live session; commit ends the user turn.
func (o *Orchestrator) SendAudio(pcm []byte, commit bool) error {
	return o.conn.SendAudio(pcm, connector.SendOptions{Commit: commit})
}

// TriggerResponse asks the model to speak. Blank instructions use the
// default prompt.
func (o *Orchestrator) TriggerResponse(instructions string) {
	if b := o.currentBridge(); b != nil {
		b.TriggerResponse(instructions)
	}
}
