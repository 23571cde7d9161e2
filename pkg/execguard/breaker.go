// Package execguard wraps the datastore executor with a circuit breaker,
// transient-error retry and tiered result fetching, so a degraded datastore
// slows requests down instead of taking the service with it.
package execguard

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/askdb-dev/askdb/pkg/metrics"
)

// ErrCircuitOpen is returned while the breaker refuses calls.
var ErrCircuitOpen = errors.New("datastore temporarily unavailable (circuit open)")

// State is the breaker's position in its state machine.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// CoolDown is how long the circuit stays open before a probe is allowed.
	CoolDown time.Duration
	// ProbeSuccesses consecutive half-open successes close the circuit.
	ProbeSuccesses int
}

func (c *BreakerConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.CoolDown == 0 {
		c.CoolDown = 30 * time.Second
	}
	if c.ProbeSuccesses == 0 {
		c.ProbeSuccesses = 2
	}
	return nil
}

// Breaker is the circuit-breaker state machine. All transitions happen under
// one mutex, so opening, reopening and probe admission are atomic.
type Breaker struct {
	cfg *BreakerConfig
	log *slog.Logger

	mu             sync.Mutex
	state          State
	failures       int
	lastFailure    time.Time
	probeSuccesses int
	probeInFlight  bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg *BreakerConfig) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate breaker config: %w", err)
	}
	return &Breaker{cfg: cfg, log: cfg.Logger}, nil
}

// Allow reports whether a call may proceed. While open it fails fast with
// ErrCircuitOpen; once the cool-down has elapsed it admits exactly one probe
// at a time in half-open state.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.cfg.Clock.Since(b.lastFailure) < b.cfg.CoolDown {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.probeSuccesses = 0
		b.probeInFlight = true
		return nil
	case StateHalfOpen:
		if b.probeInFlight {
			return ErrCircuitOpen
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

// OnSuccess records a successful call.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probeInFlight = false
		b.probeSuccesses++
		if b.probeSuccesses >= b.cfg.ProbeSuccesses {
			b.failures = 0
			b.transition(StateClosed)
		}
	}
}

// OnFailure records a failed call. In closed state the circuit opens after
// the configured number of consecutive failures; any half-open probe failure
// reopens it immediately.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.cfg.Clock.Now()
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.probeInFlight = false
		b.transition(StateOpen)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition assumes b.mu is held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.log.Info("execguard: circuit transition", "from", b.state.String(), "to", to.String(), "failures", b.failures)
	b.state = to
	metrics.CircuitState.Set(float64(to))
}
