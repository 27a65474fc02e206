// Package breaker gates calls to per-agent dependencies so one failing
// downstream (an unreachable LLM, a dead search instance) cannot
// serialize every request behind repeated slow timeouts.
package breaker

import (
	"errors"
	"log"
	"sync"
	"time"
)

// State of a circuit
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned by Call when the circuit refuses the request
var ErrOpen = errors.New("circuit is open")

// Breaker is a per-dependency circuit breaker.
//
// Transitions: CLOSED→OPEN on threshold consecutive failures,
// OPEN→HALF_OPEN once the cooldown has elapsed (checked at Allow time,
// no background timer), HALF_OPEN→CLOSED on a successful trial,
// HALF_OPEN→OPEN on a failed trial. Nothing else.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu           sync.Mutex
	state        State
	failures     int
	lastChange   time.Time
	lastFailure  time.Time
	holdUntil    time.Time // backoff hint from quota errors, outlives the standard cooldown
	trialGranted bool      // HALF_OPEN admits exactly one trial

	now func() time.Time // injectable clock for tests
}

// New creates a breaker in the CLOSED state
func New(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed right now.
// While OPEN, the first call after the cooldown elapses moves the
// breaker to HALF_OPEN and is granted as the single trial.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		now := b.now()
		if now.Sub(b.lastFailure) >= b.cooldown && !now.Before(b.holdUntil) {
			b.transition(StateHalfOpen)
			b.trialGranted = true
			return true
		}
		return false
	case StateHalfOpen:
		if b.trialGranted {
			// A trial is already in flight; hold everyone else back.
			return false
		}
		b.trialGranted = true
		return true
	}
	return false
}

// RecordSuccess reports a successful call through this breaker
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.transition(StateClosed)
		b.failures = 0
		b.trialGranted = false
		b.holdUntil = time.Time{}
		log.Printf("✅ [BREAKER] %s trial succeeded, circuit closed", b.name)
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure reports a failed (or timed-out) call through this breaker
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordFailure()
}

// RecordFailureWithCooldown reports a failure whose error carried its
// own backoff hint (quota or rate-limit replies from a provider). The
// circuit stays refused until the later of the standard cooldown and
// the hint; a successful trial clears the hold.
func (b *Breaker) RecordFailureWithCooldown(backoff time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if backoff > 0 {
		if until := b.now().Add(backoff); until.After(b.holdUntil) {
			b.holdUntil = until
		}
	}
	b.recordFailure()
}

// recordFailure requires b.mu held
func (b *Breaker) recordFailure() {
	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.threshold {
			b.transition(StateOpen)
			log.Printf("🔴 [BREAKER] %s opened after %d consecutive failures", b.name, b.failures)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
		b.trialGranted = false
		log.Printf("🔴 [BREAKER] %s re-opened, trial failed", b.name)
	}
}

// transition requires b.mu held
func (b *Breaker) transition(to State) {
	b.state = to
	b.lastChange = b.now()
}

// Snapshot is a point-in-time view of the breaker for monitoring
type Snapshot struct {
	Name          string    `json:"name"`
	State         State     `json:"state"`
	Failures      int       `json:"consecutive_failures"`
	Threshold     int       `json:"failure_threshold"`
	Cooldown      string    `json:"cooldown"`
	LastChange    time.Time `json:"last_transition,omitempty"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// Stats returns a snapshot without disturbing the state machine
func (b *Breaker) Stats() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		Name:       b.name,
		State:      b.state,
		Failures:   b.failures,
		Threshold:  b.threshold,
		Cooldown:   b.cooldown.String(),
		LastChange: b.lastChange,
	}
	if b.state == StateOpen {
		snap.CooldownUntil = b.lastFailure.Add(b.cooldown)
		if b.holdUntil.After(snap.CooldownUntil) {
			snap.CooldownUntil = b.holdUntil
		}
	}
	return snap
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
