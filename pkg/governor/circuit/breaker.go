// Package circuit stops calls to a failing upstream.
//
// Breaker wraps a two-step gobreaker circuit breaker configured for a single
// half-open probe. Admission and outcome are separate steps: Allow returns a
// Ticket, and the caller reports the outcome of the upstream call on that
// ticket once it is known.
//
//	closed --(threshold consecutive failures)--> open
//	open --(cooldown elapsed)--> half-open
//	half-open --(probe succeeds)--> closed
//	half-open --(probe fails or is abandoned)--> open
package circuit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// State is the externally visible state of a Breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Value maps a state to a number for gauges: 0 closed, 1 half-open, 2 open.
func (s State) Value() float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

var (
	// ErrOpen is returned when the circuit rejects a call.
	ErrOpen = errors.New("circuit breaker is open")

	// ErrProbeInFlight is returned in half-open state while the single probe
	// is outstanding. It matches ErrOpen.
	ErrProbeInFlight = fmt.Errorf("%w: half-open probe in flight", ErrOpen)
)

// Config configures a Breaker.
type Config struct {
	// Name identifies the breaker in logs and metrics.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold uint32

	// Cooldown is how long the circuit stays open before a probe is allowed.
	Cooldown time.Duration

	// OnStateChange is called after every transition. It runs while the
	// breaker is locked and must not call back into the Breaker.
	OnStateChange func(name string, from, to State)

	// Logger receives transition logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Counts holds the request counters of the current generation.
type Counts struct {
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
}

// Breaker is a circuit breaker for one upstream.
type Breaker struct {
	name     string
	cooldown time.Duration
	cb       *gobreaker.TwoStepCircuitBreaker
	logger   *slog.Logger

	mu       sync.Mutex
	openedAt time.Time
}

// New creates a closed Breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.Name == "" {
		cfg.Name = "upstream"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Breaker{
		name:     cfg.Name,
		cooldown: cfg.Cooldown,
		logger:   logger.With("component", "circuit", "breaker", cfg.Name),
	}

	threshold := cfg.FailureThreshold
	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.onStateChange(name, mapState(from), mapState(to), cfg.OnStateChange)
		},
	})

	return b
}

func (b *Breaker) onStateChange(name string, from, to State, hook func(string, State, State)) {
	b.mu.Lock()
	if to == StateOpen {
		b.openedAt = time.Now()
	} else if to == StateClosed {
		b.openedAt = time.Time{}
	}
	b.mu.Unlock()

	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	b.logger.Log(context.Background(), level, "circuit state changed", "from", string(from), "to", string(to))

	if hook != nil {
		hook(name, from, to)
	}
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state. An open circuit whose cooldown has
// elapsed reports half-open.
func (b *Breaker) State() State {
	return mapState(b.cb.State())
}

// Counts returns the counters of the current generation.
func (b *Breaker) Counts() Counts {
	c := b.cb.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// RetryAfter returns how long until an open circuit allows a probe, or zero
// when the circuit is not open.
func (b *Breaker) RetryAfter() time.Duration {
	if b.State() != StateOpen {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openedAt.IsZero() {
		return 0
	}
	if d := time.Until(b.openedAt.Add(b.cooldown)); d > 0 {
		return d
	}
	return 0
}

// Peek reports whether a call would currently be admitted, without taking
// the half-open probe slot. It is advisory; Allow makes the binding decision.
func (b *Breaker) Peek() error {
	switch b.State() {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.cb.Counts().Requests >= 1 {
			return ErrProbeInFlight
		}
	}
	return nil
}

// Allow admits a call or rejects it immediately. In half-open state only
// one caller is admitted; the others get ErrProbeInFlight until the probe
// reports. The returned Ticket must be settled exactly once.
func (b *Breaker) Allow() (*Ticket, error) {
	done, err := b.cb.Allow()
	if err != nil {
		if errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrProbeInFlight
		}
		return nil, ErrOpen
	}

	// Only this ticket's outcome can move a half-open circuit, so the
	// state observed here tells whether the ticket is the probe.
	return &Ticket{
		done:  done,
		probe: b.State() == StateHalfOpen,
	}, nil
}

// Ticket is the admission of one call. Only the first of Success, Failure
// or Abandon has an effect.
type Ticket struct {
	done  func(success bool)
	probe bool
	once  sync.Once
}

// Probe reports whether the ticket was issued as the half-open probe.
func (t *Ticket) Probe() bool {
	return t != nil && t.probe
}

// Success reports that the upstream call succeeded.
func (t *Ticket) Success() {
	t.settle(func() { t.done(true) })
}

// Failure reports that the upstream call failed.
func (t *Ticket) Failure() {
	t.settle(func() { t.done(false) })
}

// Abandon reports that the call produced no evidence about upstream health,
// for example because the caller went away or the request was malformed.
// It is neutral in closed state. A half-open probe that is abandoned sends
// the circuit back to open.
func (t *Ticket) Abandon() {
	t.settle(func() {
		if t.probe {
			t.done(false)
		}
	})
}

func (t *Ticket) settle(fn func()) {
	if t == nil {
		return
	}
	t.once.Do(fn)
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
