package payments

import (
	"fmt"
	"sync"
	"time"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerHalfOpen
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerHalfOpen:
		return "half_open"
	case BreakerOpen:
		return "open"
	}
	return "unknown"
}

type BreakerSnapshot struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	FailureThreshold    int       `json:"failure_threshold"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	RetryAt             time.Time `json:"retry_at,omitempty"`
}

// CircuitBreaker stops calls to the gateway after Threshold consecutive
// transient failures. After Cooldown one trial call is let through; its
// result closes or re-opens the breaker.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	onChange  func(from, to BreakerState)

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	trial    bool
}

type BreakerOption func(*CircuitBreaker)

func WithClock(now func() time.Time) BreakerOption {
	return func(b *CircuitBreaker) { b.now = now }
}

// WithStateChange registers a hook called on every transition. It runs
// with the breaker's lock held and must not call back into the breaker.
func WithStateChange(fn func(from, to BreakerState)) BreakerOption {
	return func(b *CircuitBreaker) { b.onChange = fn }
}

func NewCircuitBreaker(threshold int, cooldown time.Duration, opts ...BreakerOption) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	b := &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Execute runs fn unless the breaker is open. Only transient errors count
// as failures; a permanent error still proves the gateway is answering.
// A panic in fn is recorded as a transient failure and then re-raised.
func (b *CircuitBreaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			b.record(&GatewayError{Kind: Transient, Op: "panic", Err: fmt.Errorf("%v", p)})
			panic(p)
		}
	}()

	err := fn()
	b.record(err)
	return err
}

func (b *CircuitBreaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrCircuitOpen
		}
		b.setState(BreakerHalfOpen)
		b.trial = true
		return nil
	case BreakerHalfOpen:
		if b.trial {
			return ErrCircuitOpen
		}
		b.trial = true
		return nil
	}
	return nil
}

func (b *CircuitBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := err != nil && IsTransient(err)
	if b.state == BreakerHalfOpen {
		b.trial = false
		if failed {
			b.trip()
			return
		}
		b.failures = 0
		b.setState(BreakerClosed)
		return
	}

	if !failed {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.trip()
	}
}

func (b *CircuitBreaker) trip() {
	b.openedAt = b.now()
	b.setState(BreakerOpen)
}

func (b *CircuitBreaker) setState(to BreakerState) {
	from := b.state
	b.state = to
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}

// State reports the current state. An open breaker whose cooldown has
// elapsed still reports open until the next call tries it.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allowing reports whether a call made now would reach the gateway.
func (b *CircuitBreaker) Allowing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerOpen:
		return b.now().Sub(b.openedAt) >= b.cooldown
	case BreakerHalfOpen:
		return !b.trial
	}
	return true
}

func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := BreakerSnapshot{
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
		FailureThreshold:    b.threshold,
	}
	if b.state == BreakerOpen {
		s.OpenedAt = b.openedAt
		s.RetryAt = b.openedAt.Add(b.cooldown)
	}
	return s
}
