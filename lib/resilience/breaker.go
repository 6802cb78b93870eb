// Package resilience guards cache connection setup with a circuit breaker.
//
// When the cluster is unreachable, every blocked Acquire would otherwise
// attempt its own connection. The breaker opens after a run of consecutive
// failures and rejects further attempts until a cool-down elapses, then lets
// a limited number of trial attempts through.
//
// State transitions:
//
//	Closed (normal) -> Open (failing) -> HalfOpen (testing) -> Closed
//	                     ^                    |
//	                     +--------------------+ (if a trial fails)
package resilience

import (
	"context"
	"sync"
	"time"
)

// State represents the state of the breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the open timeout elapses.
	StateOpen
	// StateHalfOpen lets a limited number of trial calls through.
	StateHalfOpen
)

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold int
	// SuccessThreshold is the number of trial successes that closes it again.
	SuccessThreshold int
	// OpenTimeout is how long the breaker stays open before allowing trials.
	OpenTimeout time.Duration
	// MaxHalfOpen is the number of trial calls allowed while half-open.
	MaxHalfOpen int
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenTimeout:      5 * time.Second,
		MaxHalfOpen:      1,
	}
}

// Breaker is a circuit breaker for connection setup.
type Breaker struct {
	mu     sync.Mutex
	config Config
	name   string
	now    func() time.Time

	state     State
	failures  int
	successes int
	trials    int
	openedAt  time.Time
	trips     uint64
	rejected  uint64
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New creates a breaker. Non-positive config fields take their defaults.
func New(name string, cfg Config, opts ...Option) *Breaker {
	d := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = d.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = d.OpenTimeout
	}
	if cfg.MaxHalfOpen <= 0 {
		cfg.MaxHalfOpen = d.MaxHalfOpen
	}

	b := &Breaker{
		config: cfg,
		name:   name,
		now:    time.Now,
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current state, reporting half-open once the open
// timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.OpenTimeout {
		return StateHalfOpen
	}
	return b.state
}

// allow reports whether a call may proceed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.OpenTimeout {
			b.rejected++
			return false
		}
		b.transitionLocked(StateHalfOpen)
		b.trials = 1
		return true
	case StateHalfOpen:
		if b.trials < b.config.MaxHalfOpen {
			b.trials++
			return true
		}
		b.rejected++
		return false
	default:
		return false
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionLocked(StateClosed)
		}
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		b.transitionLocked(StateOpen)
	}
}

// transitionLocked changes state and resets the counters for it.
func (b *Breaker) transitionLocked(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to

	switch to {
	case StateClosed:
		b.failures = 0
		b.successes = 0
	case StateOpen:
		b.openedAt = b.now()
		b.successes = 0
		b.trips++
		BreakerTrips.Inc()
	case StateHalfOpen:
		b.successes = 0
		b.trials = 0
	}
	BreakerState.Set(int64(to))

	log.WithField("breaker", b.name).
		WithField("from", from.String()).
		WithField("to", to.String()).
		Warn("connection breaker state transition")
}

// Execute runs fn unless the breaker is open, recording the outcome.
// Cancellation of ctx is not counted as a failure.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		BreakerRejections.Inc()
		return ErrCircuitOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.trials = 0
	b.openedAt = time.Time{}
	BreakerState.Set(int64(StateClosed))
}

// Stats holds breaker statistics.
type Stats struct {
	Name     string
	State    State
	Failures int
	Trips    uint64
	Rejected uint64
}

// Stats returns current breaker statistics.
func (b *Breaker) Stats() Stats {
	state := b.State()
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:     b.name,
		State:    state,
		Failures: b.failures,
		Trips:    b.trips,
		Rejected: b.rejected,
	}
}
