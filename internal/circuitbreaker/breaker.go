// Package circuitbreaker shields the persona backend from repeated calls
// while it is failing. Circuits are tracked per oracle service, so a broken
// persona configuration on one service does not take down the others.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State is the circuit state for one service.
type State int

const (
	StateClosed   State = iota // requests flow through
	StateOpen                  // requests are rejected
	StateHalfOpen              // one probe request is allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var backendCircuitTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "oraculo",
	Subsystem: "backend",
	Name:      "circuit_transitions_total",
	Help:      "Backend circuit state transitions by service, from-state, and to-state.",
}, []string{"service", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(backendCircuitTransitions)
}

type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker tracks failure counts per service and trips open when
// consecutive failures reach the threshold. After cooldown the circuit
// moves to half-open and lets one probe request through.
type Breaker struct {
	mu           sync.Mutex
	circuits     map[string]*circuit
	threshold    int
	cooldown     time.Duration
	now          func() time.Time
	onTransition func(service string, from, to State)
}

// New creates a breaker that opens after threshold consecutive failures
// and stays open for cooldown before probing.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// OnTransition sets a callback invoked on state changes.
func (b *Breaker) OnTransition(fn func(service string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Allow reports whether a request for the service should proceed. An open
// circuit past its cooldown moves to half-open and admits one probe.
func (b *Breaker) Allow(service string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[service]
	if !ok {
		return true
	}

	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(c.lastFailure) >= b.cooldown {
			b.transition(c, service, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		// A probe is already in flight.
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(service string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[service]
	if !ok {
		return
	}

	if c.state == StateHalfOpen {
		b.transition(c, service, StateClosed)
	}
	c.failures = 0
}

// RecordFailure counts a failed request and trips the circuit open once
// the threshold is reached. A failed half-open probe reopens immediately.
func (b *Breaker) RecordFailure(service string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[service]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[service] = c
	}

	c.failures++
	c.lastFailure = b.now()

	if c.state == StateHalfOpen {
		b.transition(c, service, StateOpen)
		return
	}

	if c.state == StateClosed && c.failures >= b.threshold {
		b.transition(c, service, StateOpen)
	}
}

// State returns the current state for a service. Unknown services are closed.
func (b *Breaker) State(service string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[service]
	if !ok {
		return StateClosed
	}
	return c.state
}

// transition changes state and fires the callback if set.
// Caller must hold b.mu.
func (b *Breaker) transition(c *circuit, service string, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	backendCircuitTransitions.WithLabelValues(service, from.String(), to.String()).Inc()
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(service, from, to)
	}
}
