package counter

import (
	"sync"
	"time"
)

// CircuitBreaker tracks consecutive remote store errors:
// - Open the circuit after N consecutive failures; while open, calls go to the local store.
// - While open, let one probe through every probeInterval.
// - Close the circuit after M consecutive successful probes.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            circuitState
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	probeInterval    time.Duration
	lastProbe        time.Time
	now              func() time.Time
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
)

func newCircuitBreaker(probeInterval time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            circuitClosed,
		failureThreshold: 5,
		successThreshold: 3,
		probeInterval:    probeInterval,
		now:              time.Now,
	}
}

func (c *CircuitBreaker) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == circuitOpen
}

// Allow reports whether the next call should go to the remote store.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == circuitClosed {
		return true
	}
	now := c.now()
	if now.Sub(c.lastProbe) >= c.probeInterval {
		c.lastProbe = now
		return true
	}
	return false
}

// RecordFailure returns true when the circuit is open after the failure.
func (c *CircuitBreaker) RecordFailure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
	c.successCount = 0
	if c.state == circuitOpen {
		c.lastProbe = c.now()
		return true
	}
	if c.failureCount >= c.failureThreshold {
		c.state = circuitOpen
		c.lastProbe = c.now()
		return true
	}
	return false
}

// RecordSuccess returns true when the circuit is closed after the success.
func (c *CircuitBreaker) RecordSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == circuitOpen {
		c.successCount++
		if c.successCount >= c.successThreshold {
			c.state = circuitClosed
			c.failureCount = 0
			c.successCount = 0
			return true
		}
		return false
	}
	c.failureCount = 0
	return true
}
