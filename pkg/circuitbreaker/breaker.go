// Package circuitbreaker implements a minimal per-key circuit breaker used
// by the Provider Registry to track adapter health (§3 Provider Profile
// "last health check outcome", §4.9 fallback-on-unhealthy).
package circuitbreaker

import (
	"sync"
	"time"
)

// Breaker is a basic circuit breaker that tracks failures and opens after a
// threshold, recovering automatically once the cooldown has elapsed.
type Breaker struct {
	mu              sync.RWMutex
	failures        int
	lastFailureTime time.Time
	isOpen          bool
	lastErr         error

	threshold int
	cooldown  time.Duration
}

// New creates a new circuit breaker.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// IsOpen reports whether the circuit is currently blocking requests.
func (b *Breaker) IsOpen() bool {
	b.mu.RLock()
	if !b.isOpen {
		b.mu.RUnlock()
		return false
	}
	expired := time.Since(b.lastFailureTime) > b.cooldown
	b.mu.RUnlock()

	if !expired {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.isOpen = false
	b.failures = 0
	return false
}

// RecordSuccess resets the failure counter and clears the last error.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.isOpen = false
	b.lastErr = nil
}

// RecordFailure increments the failure counter and opens the circuit once
// the threshold is reached.
func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureTime = time.Now()
	b.lastErr = err

	if b.failures >= b.threshold {
		b.isOpen = true
	}
}

// Reset manually clears the breaker's state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.isOpen = false
	b.lastErr = nil
}

// State returns the breaker's current state for health reporting.
func (b *Breaker) State() (isOpen bool, failures int, lastErr error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.isOpen, b.failures, b.lastErr
}

// Manager keeps one Breaker per key (provider+model) so the registry can
// track health independently across candidates.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker

	defaultThreshold int
	defaultCooldown  time.Duration
}

// NewManager creates a circuit breaker manager with default thresholds
// applied to any key seen for the first time.
func NewManager(threshold int, cooldown time.Duration) *Manager {
	return &Manager{
		breakers:         make(map[string]*Breaker),
		defaultThreshold: threshold,
		defaultCooldown:  cooldown,
	}
}

// Get returns (creating if necessary) the breaker for a key.
func (m *Manager) Get(key string) *Breaker {
	m.mu.RLock()
	breaker, exists := m.breakers[key]
	m.mu.RUnlock()

	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, exists = m.breakers[key]; exists {
		return breaker
	}

	breaker = New(m.defaultThreshold, m.defaultCooldown)
	m.breakers[key] = breaker
	return breaker
}

func (m *Manager) IsOpen(key string) bool { return m.Get(key).IsOpen() }

func (m *Manager) RecordSuccess(key string) { m.Get(key).RecordSuccess() }

func (m *Manager) RecordFailure(key string, err error) { m.Get(key).RecordFailure(err) }

func (m *Manager) Reset(key string) { m.Get(key).Reset() }

// ResetAll clears every tracked breaker, e.g. after a registry reload.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, breaker := range m.breakers {
		breaker.Reset()
	}
}

// States returns a snapshot of every breaker's state, keyed the same way
// breakers were registered, for monitoring/admin surfaces.
func (m *Manager) States() map[string]struct {
	IsOpen   bool
	Failures int
} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]struct {
		IsOpen   bool
		Failures int
	}, len(m.breakers))
	for key, breaker := range m.breakers {
		isOpen, failures, _ := breaker.State()
		out[key] = struct {
			IsOpen   bool
			Failures int
		}{IsOpen: isOpen, Failures: failures}
	}

	return out
}
