package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/cachepool/lib/config"
	apperrors "github.com/go-i2p/cachepool/lib/errors"
)

var (
	// ErrPoolClosed is returned when operating on a closed pool.
	ErrPoolClosed = apperrors.ErrPoolClosed
	// ErrPoolExhausted is returned when no handle can be issued within limits.
	ErrPoolExhausted = apperrors.ErrPoolExhausted
	// ErrNotActive is returned when releasing a value the pool has not issued.
	ErrNotActive = apperrors.ErrNotActive
)

// Resource is a value managed by the pool. Touch records the time the value
// was last handed back, which the factory's Validate measures staleness from.
type Resource interface {
	comparable
	Touch(at time.Time)
}

// Factory creates, destroys and validates pooled values.
type Factory[T Resource] interface {
	// Make creates a new value. Errors are surfaced to the Acquire caller.
	Make(ctx context.Context) (T, error)
	// Destroy releases the value's resources. It must be idempotent.
	Destroy(v T) error
	// Validate reports whether the value may still be used. It must not block.
	Validate(v T) bool
}

// Option configures a Pool.
type Option func(*options)

type options struct {
	name  string
	clock func() time.Time
}

// WithName sets the name used in log fields and Stats.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithClock replaces time.Now for idle bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// entry is an idle value and the time it went idle.
type entry[T Resource] struct {
	value     T
	idleSince time.Time
}

// Pool manages the values for one logical key.
type Pool[T Resource] struct {
	factory   Factory[T]
	config    config.PoolConfig
	name      string
	now       func() time.Time
	mu        sync.Mutex
	cond      *sync.Cond
	idle      []entry[T]
	active    map[T]struct{}
	creating  int
	retiring  int
	closed    bool
	stopEvict chan struct{}
	evictDone chan struct{}
	stopOnce  sync.Once

	// Metrics
	acquireCount    uint64
	acquireSuccess  uint64
	acquireFailed   uint64
	releaseCount    uint64
	created         uint64
	destroyed       uint64
	evicted         uint64
	validationFails uint64
}

// New creates a pool and starts its eviction task when
// cfg.TimeBetweenEvictionRuns is positive.
func New[T Resource](factory Factory[T], cfg config.PoolConfig, opts ...Option) (*Pool[T], error) {
	if factory == nil {
		return nil, fmt.Errorf("pool: nil factory: %w", apperrors.ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{name: "default", clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pool[T]{
		factory:   factory,
		config:    cfg,
		name:      o.name,
		now:       o.clock,
		idle:      make([]entry[T], 0, cfg.MaxIdle),
		active:    make(map[T]struct{}),
		stopEvict: make(chan struct{}),
		evictDone: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	if cfg.TimeBetweenEvictionRuns > 0 {
		go p.evictionLoop()
	} else {
		close(p.evictDone)
	}

	log.WithField("pool", p.name).
		WithField("maxActive", cfg.MaxActive).
		WithField("maxIdle", cfg.MaxIdle).
		WithField("policy", cfg.WhenExhausted.String()).
		Debug("pool created")
	return p, nil
}

// Acquire returns an idle value or creates a new one. When the pool is
// exhausted it fails or waits according to the exhaustion policy. A wait
// bounded by MaxWait that runs out returns an error matching both
// ErrPoolExhausted and context.DeadlineExceeded.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T
	start := time.Now()
	atomic.AddUint64(&p.acquireCount, 1)
	PoolAcquireTotal.Inc()

	waitCtx := ctx
	if p.config.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.config.MaxWait)
		defer cancel()
	}

	p.mu.Lock()
	waited := false
	for {
		if p.closed {
			p.mu.Unlock()
			return zero, p.failed(ErrPoolClosed)
		}

		if err := ctx.Err(); err != nil {
			p.passSignalLocked(waited)
			p.mu.Unlock()
			return zero, p.failed(err)
		}
		if err := waitCtx.Err(); err != nil {
			p.passSignalLocked(waited)
			p.mu.Unlock()
			return zero, p.failed(fmt.Errorf("%w after %v: %w", ErrPoolExhausted, p.config.MaxWait, err))
		}

		if !p.activeCapReachedLocked() {
			if e, ok := p.popIdleLocked(); ok {
				if p.config.TestOnBorrow && !p.factory.Validate(e.value) {
					atomic.AddUint64(&p.validationFails, 1)
					PoolValidationFailsTotal.Inc()
					p.retiring++
					p.mu.Unlock()
					p.destroy(e.value, "failed validation on borrow")
					p.mu.Lock()
					continue
				}
				p.active[e.value] = struct{}{}
				p.mu.Unlock()
				p.succeeded(start)
				log.WithField("pool", p.name).Debug("acquired idle handle")
				return e.value, nil
			}

			if !p.totalCapReachedLocked() {
				p.creating++
				p.mu.Unlock()

				v, err := p.factory.Make(ctx)

				p.mu.Lock()
				p.creating--
				if err != nil {
					p.cond.Signal()
					p.mu.Unlock()
					if !errors.Is(err, apperrors.ErrConnectionSetupFailed) {
						err = fmt.Errorf("%w: %w", apperrors.ErrConnectionSetupFailed, err)
					}
					log.WithField("pool", p.name).WithError(err).Debug("failed to create handle")
					return zero, p.failed(err)
				}
				if p.closed {
					p.retiring++
					p.mu.Unlock()
					p.destroy(v, "pool closed during creation")
					return zero, p.failed(ErrPoolClosed)
				}
				p.active[v] = struct{}{}
				p.mu.Unlock()

				atomic.AddUint64(&p.created, 1)
				PoolCreatedTotal.Inc()
				p.succeeded(start)
				log.WithField("pool", p.name).Debug("created new handle")
				return v, nil
			}
		}

		if p.config.WhenExhausted == config.ExhaustFail || p.config.MaxWait == 0 {
			p.mu.Unlock()
			return zero, p.failed(ErrPoolExhausted)
		}

		log.WithField("pool", p.name).Debug("waiting for available handle")
		p.waitWithContext(waitCtx)
		waited = true
	}
}

// activeCapReachedLocked reports whether MaxActive forbids issuing another
// handle (caller must hold lock). GROW ignores MaxActive.
func (p *Pool[T]) activeCapReachedLocked() bool {
	if p.config.MaxActive <= 0 || p.config.WhenExhausted == config.ExhaustGrow {
		return false
	}
	return len(p.active)+p.creating >= p.config.MaxActive
}

// totalCapReachedLocked reports whether MaxTotal forbids creating another
// handle (caller must hold lock). MaxTotal binds under every policy, and a
// handle keeps its slot until its destruction has finished.
func (p *Pool[T]) totalCapReachedLocked() bool {
	if !p.config.HasMaxTotal() {
		return false
	}
	return p.totalLocked() >= p.config.MaxTotal
}

func (p *Pool[T]) totalLocked() int {
	return len(p.active) + p.creating + len(p.idle) + p.retiring
}

// popIdleLocked takes the most recently released entry (caller must hold lock).
func (p *Pool[T]) popIdleLocked() (entry[T], bool) {
	if len(p.idle) == 0 {
		return entry[T]{}, false
	}
	e := p.idle[len(p.idle)-1]
	p.idle[len(p.idle)-1] = entry[T]{}
	p.idle = p.idle[:len(p.idle)-1]
	return e, true
}

// passSignalLocked hands a consumed wake-up on to another waiter when this
// caller leaves without taking a handle.
func (p *Pool[T]) passSignalLocked(waited bool) {
	if waited {
		p.cond.Signal()
	}
}

// waitWithContext waits for a condition signal or context cancellation.
func (p *Pool[T]) waitWithContext(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-done:
		}
	}()
	p.cond.Wait()
	close(done)
}

func (p *Pool[T]) succeeded(start time.Time) {
	atomic.AddUint64(&p.acquireSuccess, 1)
	PoolAcquireSuccessTotal.Inc()
	PoolAcquireLatency.ObserveSince(start)
}

func (p *Pool[T]) failed(err error) error {
	atomic.AddUint64(&p.acquireFailed, 1)
	PoolAcquireFailedTotal.Inc()
	log.WithField("pool", p.name).
		WithField("code", apperrors.CodeOf(err)).
		WithError(err).
		Debug("acquire failed")
	return err
}

// Release returns an active value to the pool. Values released after
// Shutdown, or that fail validation under TestOnReturn, are destroyed.
func (p *Pool[T]) Release(v T) error {
	atomic.AddUint64(&p.releaseCount, 1)
	PoolReleaseTotal.Inc()

	p.mu.Lock()
	if _, ok := p.active[v]; !ok {
		p.mu.Unlock()
		log.WithField("pool", p.name).Warn("release of handle that is not active")
		return ErrNotActive
	}
	delete(p.active, v)

	now := p.now()
	v.Touch(now)

	if p.closed {
		p.retiring++
		p.mu.Unlock()
		p.destroy(v, "pool closed")
		return nil
	}

	if p.config.TestOnReturn && !p.factory.Validate(v) {
		atomic.AddUint64(&p.validationFails, 1)
		PoolValidationFailsTotal.Inc()
		p.retiring++
		p.cond.Signal()
		p.mu.Unlock()
		p.destroy(v, "failed validation on return")
		return nil
	}

	p.idle = append(p.idle, entry[T]{value: v, idleSince: now})
	p.cond.Signal()
	p.mu.Unlock()
	log.WithField("pool", p.name).Debug("handle released to pool")
	return nil
}

// Invalidate destroys an active value instead of returning it to the pool.
// Use this when a value is known to be bad.
func (p *Pool[T]) Invalidate(v T) error {
	p.mu.Lock()
	if _, ok := p.active[v]; !ok {
		p.mu.Unlock()
		return ErrNotActive
	}
	delete(p.active, v)
	p.retiring++
	p.cond.Signal()
	p.mu.Unlock()

	p.destroy(v, "invalidated")
	return nil
}

// Do acquires a value, runs fn with it and releases it on every exit path,
// including a panic in fn.
func (p *Pool[T]) Do(ctx context.Context, fn func(T) error) (err error) {
	v, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := p.Release(v); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(v)
}

// destroy closes a value whose slot the caller already moved to retiring
// under the lock, then frees the slot.
func (p *Pool[T]) destroy(v T, reason string) {
	atomic.AddUint64(&p.destroyed, 1)
	PoolDestroyedTotal.Inc()
	err := p.factory.Destroy(v)

	p.mu.Lock()
	p.retiring--
	p.cond.Signal()
	p.mu.Unlock()

	if err != nil {
		log.WithField("pool", p.name).WithField("reason", reason).WithError(err).Warn("failed to destroy handle")
		return
	}
	log.WithField("pool", p.name).WithField("reason", reason).Debug("destroyed handle")
}

// Shutdown stops the eviction task, marks the pool closed, wakes every
// waiter and destroys the idle values. Active values are destroyed when
// they are released. A second call returns ErrPoolClosed.
func (p *Pool[T]) Shutdown() error {
	p.StopEviction()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.retiring += len(idle)
	active := len(p.active)
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, e := range idle {
		p.destroy(e.value, "pool shutdown")
	}

	log.WithField("pool", p.name).
		WithField("drained", len(idle)).
		WithField("inFlight", active).
		Debug("pool shut down")
	return nil
}

// Stats holds pool statistics.
type Stats struct {
	// Name is the pool name given with WithName.
	Name string
	// MaxActive, MaxIdle and MaxTotal echo the configured limits.
	MaxActive int
	MaxIdle   int
	MaxTotal  int
	// NumActive is the number of values issued to callers, including
	// those being created.
	NumActive int
	// NumIdle is the number of values waiting in the pool.
	NumIdle int
	// NumTotal is NumActive plus NumIdle plus handles still being destroyed.
	NumTotal int
	// Closed reports whether Shutdown was called.
	Closed bool

	AcquireCount    uint64
	AcquireSuccess  uint64
	AcquireFailed   uint64
	ReleaseCount    uint64
	Created         uint64
	Destroyed       uint64
	Evicted         uint64
	ValidationFails uint64
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	numActive := len(p.active) + p.creating
	return Stats{
		Name:            p.name,
		MaxActive:       p.config.MaxActive,
		MaxIdle:         p.config.MaxIdle,
		MaxTotal:        p.config.MaxTotal,
		NumActive:       numActive,
		NumIdle:         len(p.idle),
		NumTotal:        p.totalLocked(),
		Closed:          p.closed,
		AcquireCount:    atomic.LoadUint64(&p.acquireCount),
		AcquireSuccess:  atomic.LoadUint64(&p.acquireSuccess),
		AcquireFailed:   atomic.LoadUint64(&p.acquireFailed),
		ReleaseCount:    atomic.LoadUint64(&p.releaseCount),
		Created:         atomic.LoadUint64(&p.created),
		Destroyed:       atomic.LoadUint64(&p.destroyed),
		Evicted:         atomic.LoadUint64(&p.evicted),
		ValidationFails: atomic.LoadUint64(&p.validationFails),
	}
}

// Config returns the configuration the pool was built with.
func (p *Pool[T]) Config() config.PoolConfig {
	return p.config
}
