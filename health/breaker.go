package health

import (
	"fmt"
	"sync"
	"time"
)

// DefaultFailureThreshold and DefaultWindow are the circuit breaker's
// trip conditions: 5 consecutive failures inside a 300-second window.
const (
	DefaultFailureThreshold = 5
	DefaultWindow           = 300 * time.Second
)

type breakerState struct {
	consecutiveFailures int
	windowStart         time.Time
	tripped             bool
}

// Breaker is a per-address circuit breaker: once an address accumulates
// Threshold consecutive failures inside Window, further calls to
// Allow short-circuit with an error until a success or window expiry
// resets the count.
type Breaker struct {
	mu        sync.Mutex
	Threshold int
	Window    time.Duration
	states    map[string]*breakerState
}

// NewBreaker returns a Breaker using the default threshold and window.
func NewBreaker() *Breaker {
	return &Breaker{
		Threshold: DefaultFailureThreshold,
		Window:    DefaultWindow,
		states:    map[string]*breakerState{},
	}
}

// Allow reports whether a call to address may proceed. It returns an
// error if the breaker is tripped for that address.
func (b *Breaker) Allow(address string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[address]
	if !ok || !st.tripped {
		return nil
	}
	if time.Since(st.windowStart) > b.Window {
		delete(b.states, address)
		return nil
	}
	return fmt.Errorf("circuit open for %s: %d consecutive failures within %s", address, st.consecutiveFailures, b.Window)
}

// RecordFailure registers a failed call against address, tripping the
// breaker once Threshold consecutive failures land inside Window.
func (b *Breaker) RecordFailure(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	st, ok := b.states[address]
	if !ok || now.Sub(st.windowStart) > b.Window {
		st = &breakerState{windowStart: now}
		b.states[address] = st
	}
	st.consecutiveFailures++
	if st.consecutiveFailures >= b.Threshold {
		st.tripped = true
	}
}

// RecordSuccess clears any failure history for address.
func (b *Breaker) RecordSuccess(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, address)
}
