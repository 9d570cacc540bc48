// Package lifecycle tracks whether the token backend is shutting down.
package lifecycle

import "sync/atomic"

// Lifecycle is shared by the readiness and token handlers. The zero value is
// serving; a nil *Lifecycle is never draining.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
