package breaker

import (
	"log/slog"
	"sync"
	"time"
)

// State of a single key's circuit.
type State string

const (
	// StateClosed is normal operation: calls pass through.
	StateClosed State = "closed"
	// StateOpen rejects calls fast until the cooldown elapses.
	StateOpen State = "open"
	// StateHalfOpen lets a single probe through after the cooldown.
	StateHalfOpen State = "half-open"
)

type circuit struct {
	state       State
	errorCount  int
	nextAttempt time.Time
	probing     bool
}

// Breaker tracks failures per key and trips a key into fast rejection after
// repeated consecutive errors. All methods are safe for concurrent use; many
// requests commonly hammer the same key at once.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	log       *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLogger sets the logger used for state transition messages.
func WithLogger(log *slog.Logger) Option {
	return func(b *Breaker) {
		if log != nil {
			b.log = log
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a breaker that opens a key after threshold consecutive
// failures and allows a half-open probe after the cooldown.
func New(threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	b := &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		log:       slog.Default(),
		now:       time.Now,
		circuits:  make(map[string]*circuit),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a call for the key may proceed. While open it
// returns false without any shared-dependency work; once the cooldown has
// passed it admits exactly one probe and moves the key to half-open.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return true
	}

	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Before(c.nextAttempt) {
			return false
		}
		c.state = StateHalfOpen
		c.probing = true
		b.log.Info("circuit half-open, allowing probe", "key", key)
		return true
	case StateHalfOpen:
		// One probe at a time; concurrent callers wait out the probe.
		if c.probing {
			return false
		}
		c.probing = true
		return true
	}
	return true
}

// Success records a successful call. In half-open it closes the circuit;
// in closed it resets the consecutive error count.
func (b *Breaker) Success(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}

	if c.state == StateHalfOpen {
		b.log.Info("circuit closed after successful probe", "key", key)
	}
	delete(b.circuits, key)
}

// Failure records a failed call. It opens the circuit when the consecutive
// failure count reaches the threshold, or immediately when a half-open
// probe fails.
func (b *Breaker) Failure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[key] = c
	}

	if c.state == StateHalfOpen {
		c.state = StateOpen
		c.probing = false
		c.nextAttempt = b.now().Add(b.cooldown)
		b.log.Warn("circuit re-opened after failed probe", "key", key)
		return
	}

	c.errorCount++
	if c.state == StateClosed && c.errorCount >= b.threshold {
		c.state = StateOpen
		c.nextAttempt = b.now().Add(b.cooldown)
		b.log.Warn("circuit opened",
			"key", key,
			"consecutive_errors", c.errorCount,
			"cooldown", b.cooldown,
		)
	}
}

// State returns the current state for a key. Keys with no recorded failures
// are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}
