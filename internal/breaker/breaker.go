// Package breaker implements a per-operation circuit breaker and a
// process-wide registry of named breakers.
//
// A breaker wraps a call: CLOSED lets calls through and counts failures;
// once failures reach the threshold it trips OPEN and fails fast until the
// reset timeout elapses; then it allows exactly one HALF_OPEN probe before
// deciding whether to close again or re-open.
package breaker

import (
	"sync"
	"time"

	"github.com/NICxKMS/chat-gateway/internal/apperr"
)

// State is the circuit breaker's current position in its state machine.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Fallback is invoked instead of the wrapped action while the breaker is
// OPEN and a probe isn't due yet.
type Fallback func(err error) (any, error)

// Options configures a Breaker at construction time.
type Options struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	Fallback         Fallback
}

// Stats is a point-in-time snapshot of a breaker's counters, exposed to
// /api/chat/capabilities.
type Stats struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	Failures      int       `json:"failures"`
	Successes     int       `json:"successes"`
	FallbackCalls int       `json:"fallbackCalls"`
	LastFailure   time.Time `json:"lastFailure,omitempty"`
	LastSuccess   time.Time `json:"lastSuccess,omitempty"`
	NextAttempt   time.Time `json:"nextAttempt,omitempty"`
}

// Breaker is a named, mutex-guarded circuit breaker. Each instance owns its
// own lock; breakers never block on each other.
type Breaker struct {
	name             string
	mu               sync.Mutex
	state            State
	failureThreshold int
	resetTimeout     time.Duration
	fallback         Fallback

	failures      int
	successes     int
	fallbackCalls int
	lastFailure   time.Time
	lastSuccess   time.Time
	nextAttempt   time.Time
}

// New creates a standalone breaker. Most callers should go through the
// Registry instead, so breakers are enumerable process-wide.
func New(name string, opts Options) *Breaker {
	threshold := opts.FailureThreshold
	if threshold <= 0 {
		threshold = 5
	}
	reset := opts.ResetTimeout
	if reset <= 0 {
		reset = 30 * time.Second
	}
	return &Breaker{
		name:             name,
		state:            Closed,
		failureThreshold: threshold,
		resetTimeout:     reset,
		fallback:         opts.Fallback,
	}
}

// Execute runs action() under the breaker's rules. If the breaker is OPEN
// and a reset isn't due, it calls the fallback (if any) instead of action,
// or returns CircuitOpenError.
func (b *Breaker) Execute(action func() (any, error)) (any, error) {
	b.mu.Lock()
	now := time.Now()

	switch b.state {
	case Open:
		if now.Before(b.nextAttempt) {
			fallback := b.fallback
			b.mu.Unlock()
			if fallback != nil {
				b.recordFallback()
				return fallback(apperr.CircuitOpenError("circuit " + b.name + " is open"))
			}
			return nil, apperr.CircuitOpenError("circuit " + b.name + " is open")
		}
		b.state = HalfOpen
		b.mu.Unlock()
	case HalfOpen:
		// A probe is already in flight: fail fast (or fall back) until its
		// result closes or re-opens the breaker.
		fallback := b.fallback
		b.mu.Unlock()
		if fallback != nil {
			b.recordFallback()
			return fallback(apperr.CircuitOpenError("circuit " + b.name + " is half-open"))
		}
		return nil, apperr.CircuitOpenError("circuit " + b.name + " is half-open")
	default: // Closed
		b.mu.Unlock()
	}

	result, err := action()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.lastFailure = time.Now()
		if b.state == HalfOpen || b.failures >= b.failureThreshold {
			b.state = Open
			b.nextAttempt = time.Now().Add(b.resetTimeout)
		}
		return nil, err
	}

	b.successes++
	b.lastSuccess = time.Now()
	b.failures = 0
	b.state = Closed
	return result, nil
}

func (b *Breaker) recordFallback() {
	b.mu.Lock()
	b.fallbackCalls++
	b.mu.Unlock()
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to CLOSED, clearing the failure and success
// counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.successes = 0
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:          b.name,
		State:         b.state.String(),
		Failures:      b.failures,
		Successes:     b.successes,
		FallbackCalls: b.fallbackCalls,
		LastFailure:   b.lastFailure,
		LastSuccess:   b.lastSuccess,
		NextAttempt:   b.nextAttempt,
	}
}

// Registry is a process-wide, concurrency-safe table of named breakers,
// keyed by "<provider>-<operation>" per the data model's circuit-breaker
// lifecycle rule: breakers are process singletons, not per-request.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for key, creating it with opts on first use.
// Subsequent calls for the same key ignore opts and return the existing
// breaker, matching the "process-singleton keyed by name" rule.
func (r *Registry) Get(key string, opts Options) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b := New(key, opts)
	r.breakers[key] = b
	return b
}

// All returns a stats snapshot for every registered breaker, for
// /api/chat/capabilities.
func (r *Registry) All() []Stats {
	r.mu.Lock()
	keys := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		keys = append(keys, b)
	}
	r.mu.Unlock()

	stats := make([]Stats, 0, len(keys))
	for _, b := range keys {
		stats = append(stats, b.Stats())
	}
	return stats
}
