// Package breaker provides a circuit breaker for calls to the upstream
// model provider. When the provider fails repeatedly the circuit opens and
// calls fail fast instead of hanging, then a single probe is allowed after a
// cooldown.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned immediately while the circuit is open so the
// caller can present a degraded response instead of waiting.
var ErrCircuitOpen = errors.New("breaker: circuit open")

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed is the normal operating state; calls pass through.
	StateClosed State = iota
	// StateOpen means the circuit has tripped; calls are rejected.
	StateOpen
	// StateHalfOpen allows exactly one probe call to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Classifier reports whether an error counts toward tripping the circuit.
// Client-side errors (4xx, bad input) should return false.
type Classifier func(error) bool

// Config configures breaker behavior.
type Config struct {
	// FailureThreshold is the number of qualifying failures within Window
	// before the circuit opens.
	FailureThreshold int
	// Window bounds the rolling failure count.
	Window time.Duration
	// Cooldown is how long the circuit stays open before allowing a probe.
	Cooldown time.Duration
	// Classify decides which errors count as failures. Nil counts all.
	Classify Classifier
	// OnStateChange is called after every transition.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           time.Minute,
		Cooldown:         30 * time.Second,
	}
}

// Breaker is one circuit, keyed by upstream provider identity. Constructed
// once at process start and passed by handle; all state updates happen under
// the mutex so concurrent calls observe atomic transitions.
type Breaker struct {
	name string
	cfg  Config

	mu             sync.Mutex
	state          State
	failures       int
	windowStart    time.Time
	lastTransition time.Time
	probing        bool
}

// New creates a breaker for a named upstream.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:           name,
		cfg:            cfg,
		state:          StateClosed,
		lastTransition: time.Now(),
	}
}

// Execute runs op through the circuit. While open it returns ErrCircuitOpen
// without invoking op. In half-open, only the single probe call runs; other
// concurrent callers fail fast.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	probe, err := b.allow()
	if err != nil {
		return err
	}

	opErr := op(ctx)
	if opErr == nil {
		b.recordSuccess(probe)
		return nil
	}
	if b.countsAsFailure(opErr) {
		b.recordFailure(probe)
	} else if probe {
		// A non-qualifying error neither closes nor reopens; give the probe
		// slot back so the next caller can retry.
		b.releaseProbe()
	}
	return opErr
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) countsAsFailure(err error) bool {
	if b.cfg.Classify == nil {
		return true
	}
	return b.cfg.Classify(err)
}

// allow reports whether the call may proceed and whether it is the half-open
// probe.
func (b *Breaker) allow() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil

	case StateOpen:
		if time.Since(b.lastTransition) >= b.cfg.Cooldown {
			b.transitionTo(StateHalfOpen)
			b.probing = true
			return true, nil
		}
		return false, ErrCircuitOpen

	case StateHalfOpen:
		if b.probing {
			// Probe already in flight; everyone else keeps open semantics.
			return false, ErrCircuitOpen
		}
		b.probing = true
		return true, nil
	}
	return false, ErrCircuitOpen
}

func (b *Breaker) recordSuccess(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen && probe {
		b.probing = false
		b.transitionTo(StateClosed)
	}
}

func (b *Breaker) recordFailure(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case StateClosed:
		if now.Sub(b.windowStart) > b.cfg.Window {
			b.failures = 0
			b.windowStart = now
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		if probe {
			b.probing = false
			b.transitionTo(StateOpen)
		}
	}
}

func (b *Breaker) releaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.probing = false
	}
}

// transitionTo changes state (must hold lock).
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}
	oldState := b.state
	b.state = newState
	b.lastTransition = time.Now()
	if newState == StateClosed {
		b.failures = 0
	}
	if b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(b.name, oldState, newState)
	}
}
