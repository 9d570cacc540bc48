// Package ratelimit bounds how often a caller may mint realtime credentials.
// State is in-memory and single-process.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

type Config struct {
	RPS   float64
	Burst int

	MaxConcurrentRequests int

	// Operational bounds for the in-memory map.
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*principalLimiter
}

type principalLimiter struct {
	mu       sync.Mutex
	tb       tokenBucket
	inflight chan struct{}
	lastSeen time.Time
}

type tokenBucket struct {
	tokens float64
	last   time.Time
	primed bool
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*principalLimiter),
	}
}

// PrincipalKeyFromAPIKey buckets callers that authenticated with a client key.
func PrincipalKeyFromAPIKey(apiKey string) string {
	return "k_" + shortHash(apiKey)
}

// PrincipalKeyFromIP buckets anonymous callers by address.
func PrincipalKeyFromIP(ip string) string {
	return "ip_" + shortHash(ip)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// Acquire spends one token from principal's bucket and takes an in-flight
// slot. Allowed decisions carry a Permit that must be released.
func (l *Limiter) Acquire(principal string, now time.Time) Decision {
	if principal == "" {
		principal = "anonymous"
	}
	pl := l.getOrCreate(principal, now)

	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		if ok, retryAfter := pl.allowToken(now, l.cfg.RPS, l.cfg.Burst); !ok {
			return Decision{Allowed: false, RetryAfter: retryAfter}
		}
	}

	if l.cfg.MaxConcurrentRequests > 0 {
		select {
		case pl.inflight <- struct{}{}:
			return Decision{Allowed: true, Permit: &Permit{release: func() { <-pl.inflight }}}
		default:
			return Decision{Allowed: false, RetryAfter: 1}
		}
	}
	return Decision{Allowed: true, Permit: &Permit{}}
}

// Len reports how many principals are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

func (l *Limiter) getOrCreate(principal string, now time.Time) *principalLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pl, ok := l.m[principal]; ok {
		pl.lastSeen = now
		return pl
	}
	if len(l.m) >= l.cfg.MaxEntries {
		l.evictLocked(now)
	}
	pl := &principalLimiter{
		inflight: make(chan struct{}, max(1, l.cfg.MaxConcurrentRequests)),
		lastSeen: now,
	}
	l.m[principal] = pl
	return pl
}

// evictLocked drops idle entries, then the least recently seen one if the map
// is still full.
func (l *Limiter) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, v := range l.m {
		if now.Sub(v.lastSeen) > l.cfg.EntryTTL {
			delete(l.m, k)
			continue
		}
		if oldestKey == "" || v.lastSeen.Before(oldest) {
			oldestKey, oldest = k, v.lastSeen
		}
	}
	if len(l.m) >= l.cfg.MaxEntries && oldestKey != "" {
		delete(l.m, oldestKey)
	}
}

func (pl *principalLimiter) allowToken(now time.Time, rps float64, burst int) (bool, int) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	capacity := float64(burst)
	if !pl.tb.primed {
		pl.tb = tokenBucket{tokens: capacity, last: now, primed: true}
	}
	if elapsed := now.Sub(pl.tb.last).Seconds(); elapsed > 0 {
		pl.tb.tokens = math.Min(capacity, pl.tb.tokens+elapsed*rps)
		pl.tb.last = now
	}

	if pl.tb.tokens >= 1 {
		pl.tb.tokens--
		return true, 0
	}
	retryAfter := int(math.Ceil((1 - pl.tb.tokens) / rps))
	return false, max(1, retryAfter)
}
