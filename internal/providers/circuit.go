package providers

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// CircuitBreaker wraps a Provider and opens after a run of consecutive
// failures, refusing calls until a recovery window elapses, then allows a
// single half-open probe before fully closing again.
type CircuitBreaker struct {
	inner Provider

	failureThreshold int
	recoveryWindow   time.Duration

	mu          sync.Mutex
	state       circuitState
	failures    int
	openedAt    time.Time
	probeInFlight bool
}

// NewCircuitBreaker wraps provider, opening after failureThreshold
// consecutive failures and probing again after recoveryWindow.
func NewCircuitBreaker(provider Provider, failureThreshold int, recoveryWindow time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryWindow <= 0 {
		recoveryWindow = 30 * time.Second
	}
	return &CircuitBreaker{inner: provider, failureThreshold: failureThreshold, recoveryWindow: recoveryWindow}
}

func (c *CircuitBreaker) Name() string         { return c.inner.Name() }
func (c *CircuitBreaker) DefaultModel() string { return c.inner.DefaultModel() }

func (c *CircuitBreaker) Warmup(ctx context.Context) error {
	return c.inner.Warmup(ctx)
}

// allow decides whether a call may proceed and, if so, whether it is the
// half-open probe.
func (c *CircuitBreaker) allow() (ok bool, isProbe bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case circuitClosed:
		return true, false
	case circuitOpen:
		if time.Since(c.openedAt) < c.recoveryWindow {
			return false, false
		}
		c.state = circuitHalfOpen
		c.probeInFlight = true
		return true, true
	case circuitHalfOpen:
		return !c.probeInFlight, false
	}
	return true, false
}

func (c *CircuitBreaker) record(err error, isProbe bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if isProbe {
		c.probeInFlight = false
	}

	if err == nil {
		c.state = circuitClosed
		c.failures = 0
		return
	}

	c.failures++
	if c.state == circuitHalfOpen || c.failures >= c.failureThreshold {
		c.state = circuitOpen
		c.openedAt = time.Now()
	}
}

var errCircuitOpen = fmt.Errorf("provider circuit open")

func (c *CircuitBreaker) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ok, probe := c.allow()
	if !ok {
		return nil, errCircuitOpen
	}
	resp, err := c.inner.Chat(ctx, req)
	c.record(err, probe)
	return resp, err
}

func (c *CircuitBreaker) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	ok, probe := c.allow()
	if !ok {
		return nil, errCircuitOpen
	}
	resp, err := c.inner.ChatStream(ctx, req, onChunk)
	c.record(err, probe)
	return resp, err
}

var _ Provider = (*CircuitBreaker)(nil)
