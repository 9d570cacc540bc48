// Package store holds the session state container.
//
// A Store owns one live.SessionContext and changes it only through named
// actions. Every action is atomic: observers never see a partially applied
// change. Subscribers are notified after the lock is released, one change at a
// time and in mutation order, so a subscriber may itself call actions.
package store

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/tranceguide/pkg/core/live"
)

// Listener observes whole-aggregate changes.
type Listener func(next, prev live.SessionContext)

type change struct {
	next, prev live.SessionContext
}

type subscription struct {
	id uint64
	fn Listener
}

// Store is the session state container.
type Store struct {
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	ctx      live.SessionContext
	nextID   uint64
	subs     []subscription
	queue    []change
	draining bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp StartTime.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger that reports panicking subscribers.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New returns a store holding live.DefaultSessionContext().
func New(opts ...Option) *Store {
	s := &Store{now: time.Now, logger: slog.Default(), ctx: live.DefaultSessionContext()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a deep copy of the current context.
func (s *Store) Snapshot() live.SessionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx.Clone()
}

func (s *Store) State() live.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx.State
}

// Subscribe registers fn for every change and returns its unsubscribe func.
func (s *Store) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Select subscribes to one derived field; fn runs only when it changes.
func Select[T comparable](s *Store, selector func(live.SessionContext) T, fn func(next, prev T)) func() {
	return SelectFunc(s, selector, func(a, b T) bool { return a == b }, fn)
}

// SelectFunc is Select with a caller-supplied equality.
func SelectFunc[T any](s *Store, selector func(live.SessionContext) T, equal func(a, b T) bool, fn func(next, prev T)) func() {
	return s.Subscribe(func(next, prev live.SessionContext) {
		n, p := selector(next), selector(prev)
		if !equal(n, p) {
			fn(n, p)
		}
	})
}

// update applies mutate under the lock and delivers the change. A goroutine
// that finds another delivery in progress only enqueues.
func (s *Store) update(mutate func(c *live.SessionContext)) {
	s.mu.Lock()
	prev := s.ctx.Clone()
	mutate(&s.ctx)
	s.queue = append(s.queue, change{next: s.ctx.Clone(), prev: prev})
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		c := s.queue[0]
		s.queue = s.queue[1:]
		subs := make([]Listener, len(s.subs))
		for i, sub := range s.subs {
			subs[i] = sub.fn
		}
		s.mu.Unlock()
		for _, fn := range subs {
			s.notify(fn, c)
		}
		s.mu.Lock()
	}
	s.queue = nil
	s.draining = false
	s.mu.Unlock()
}

// notify runs one subscriber. A panic is logged and delivery continues.
func (s *Store) notify(fn Listener, c change) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("store subscriber panicked", "state", string(c.next.State), "panic", fmt.Sprint(r))
		}
	}()
	fn(c.next.Clone(), c.prev.Clone())
}

// SetState moves to state. Entering StateInSession stamps StartTime if unset;
// any other state clears it.
func (s *Store) SetState(state live.SessionState) {
	s.update(func(c *live.SessionContext) {
		c.State = state
		if state == live.StateInSession {
			if c.StartTime == nil {
				t := s.now()
				c.StartTime = &t
			}
		} else {
			c.StartTime = nil
		}
	})
}

func (s *Store) SetTechnique(t live.TechniqueType) {
	s.update(func(c *live.SessionContext) {
		c.Technique = &t
	})
}

// SetTechniqueIfUnset stores t only when no technique is set and reports
// whether it did.
func (s *Store) SetTechniqueIfUnset(t live.TechniqueType) bool {
	set := false
	s.update(func(c *live.SessionContext) {
		if c.Technique == nil {
			c.Technique = &t
			set = true
		}
	})
	return set
}

// SetError stores err and forces StateError. A nil err clears the error and
// returns to StateIdle.
func (s *Store) SetError(err error) {
	s.update(func(c *live.SessionContext) {
		c.Error = err
		c.StartTime = nil
		if err != nil {
			c.State = live.StateError
		} else {
			c.State = live.StateIdle
		}
	})
}

func (s *Store) SetConnected(connected bool) {
	s.update(func(c *live.SessionContext) {
		c.IsConnected = connected
	})
}

func (s *Store) SetMuted(muted bool) {
	s.update(func(c *live.SessionContext) {
		c.IsMuted = muted
	})
}

// SetAudioLevel stores level clamped to [0, 1].
func (s *Store) SetAudioLevel(level float64) {
	level = live.ClampLevel(level)
	s.update(func(c *live.SessionContext) {
		c.AudioLevel = level
	})
}

func (s *Store) SetSession(session any) {
	s.update(func(c *live.SessionContext) {
		c.Session = session
	})
}

func (s *Store) SetAgent(agent *live.Agent) {
	s.update(func(c *live.SessionContext) {
		c.Agent = agent
	})
}

// BindSession stores the session handle and marks the context connected in
// one change.
func (s *Store) BindSession(session any) {
	s.update(func(c *live.SessionContext) {
		c.Session = session
		c.IsConnected = session != nil
	})
}

// UnbindSession clears the session handle and the connected flag together.
func (s *Store) UnbindSession() {
	s.update(func(c *live.SessionContext) {
		c.Session = nil
		c.IsConnected = false
	})
}

// StartSession enters StateInSession with a fresh StartTime, an empty
// transcript and no error.
func (s *Store) StartSession() {
	s.update(func(c *live.SessionContext) {
		t := s.now()
		c.State = live.StateInSession
		c.StartTime = &t
		c.Transcript = []live.TranscriptEntry{}
		c.Error = nil
	})
}

// EndSession enters StateEnding and clears StartTime.
func (s *Store) EndSession() {
	s.update(func(c *live.SessionContext) {
		c.State = live.StateEnding
		c.StartTime = nil
	})
}

func (s *Store) AddTranscript(entry live.TranscriptEntry) {
	s.update(func(c *live.SessionContext) {
		c.Transcript = append(c.Transcript, entry)
	})
}

func (s *Store) ClearTranscript() {
	s.update(func(c *live.SessionContext) {
		c.Transcript = []live.TranscriptEntry{}
	})
}

// Reset restores every field to live.DefaultSessionContext().
func (s *Store) Reset() {
	s.update(func(c *live.SessionContext) {
		*c = live.DefaultSessionContext()
	})
}
