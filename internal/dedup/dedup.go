// Package dedup suppresses repeat alerts within a rolling time window.
//
// The gate remembers only the single most recent sent alert, not a per-key
// cache: a new send overwrites the slot unconditionally, so concurrent
// alerts for different objects flap the state and suppression is best-effort
// rather than linearizable. This is a known limitation carried over from the
// upstream behavior; the slot is an atomically swapped reference so the race
// is at least explicit and data-race free.
package dedup

import (
	"sync/atomic"
	"time"

	"github.com/t77yq/apm-notifier/internal/model"
)

// Window is the span during which an identical subsequent alert is
// suppressed.
const Window = time.Hour

type entry struct {
	alert  model.Alert
	sentAt time.Time
}

// Gate holds the single last-sent-alert slot.
type Gate struct {
	last atomic.Pointer[entry]
}

// NewGate returns an empty gate.
func NewGate() *Gate {
	return &Gate{}
}

// ShouldSuppress reports whether a should be suppressed: a previous alert
// exists, its object identifier and title both equal a's, and less than
// Window has elapsed since it was sent. The check is read-only; callers
// update the slot with Remember only after a send was attempted.
func (g *Gate) ShouldSuppress(a *model.Alert, now time.Time) bool {
	e := g.last.Load()
	if e == nil {
		return false
	}
	return e.alert.ObjectID == a.ObjectID &&
		e.alert.Title == a.Title &&
		now.Sub(e.sentAt) < Window
}

// Remember records a as the most recent sent alert.
func (g *Gate) Remember(a *model.Alert, now time.Time) {
	g.last.Store(&entry{alert: *a, sentAt: now})
}
