package budget

import (
	"math"
	"sync"
	"time"
)

// Window counts tokens consumed since start.
//
// All fields are guarded by mu. generation increases on every reset so that
// reservations taken before a reset can be recognised afterwards.
type Window struct {
	mu         sync.Mutex
	start      time.Time
	consumed   uint64
	generation uint64
}

func newWindow(now time.Time) *Window {
	return &Window{start: now}
}

// rollLocked resets the window when it is at least length old.
// The caller must hold w.mu.
func (w *Window) rollLocked(now time.Time, length time.Duration) bool {
	if now.Sub(w.start) < length {
		return false
	}
	w.start = now
	w.consumed = 0
	w.generation++
	return true
}

// fitsLocked reports whether tokens more can be consumed under limit.
// A zero limit never rejects.
func (w *Window) fitsLocked(tokens, limit uint64) bool {
	if limit == 0 {
		return true
	}
	if tokens > limit {
		return false
	}
	return w.consumed <= limit-tokens
}

func (w *Window) addLocked(tokens uint64) {
	w.consumed = addClamped(w.consumed, tokens)
}

func (w *Window) subLocked(tokens uint64) {
	w.consumed = subClamped(w.consumed, tokens)
}

func (w *Window) statusLocked(scope Scope, id string, limit uint64, length time.Duration) Status {
	s := Status{
		Scope:       scope,
		Identifier:  id,
		Limit:       limit,
		Consumed:    w.consumed,
		Unlimited:   limit == 0,
		WindowStart: w.start,
		ResetAt:     w.start.Add(length),
	}
	if limit > w.consumed {
		s.Remaining = limit - w.consumed
	}
	return s
}

func addClamped(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

func subClamped(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}
