package client

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	apperrors "github.com/go-i2p/cachepool/lib/errors"
	"github.com/go-i2p/cachepool/lib/resilience"
)

// Factory creates, destroys and validates pooled handles. Every handle it
// makes is connected to the full endpoint set.
type Factory struct {
	endpoints []string
	connect   Connector
	ttl       time.Duration
	now       func() time.Time
	breaker   *resilience.Breaker
	nextID    atomic.Uint64
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithClock replaces time.Now for handle timestamps and validation.
func WithClock(now func() time.Time) FactoryOption {
	return func(f *Factory) { f.now = now }
}

// WithBreaker guards Connect with a circuit breaker. While the breaker is
// open, Connect fails fast with an error matching ErrCircuitOpen.
func WithBreaker(b *resilience.Breaker) FactoryOption {
	return func(f *Factory) { f.breaker = b }
}

// NewFactory creates a factory. ttl is the liveness window a handle stays
// valid for after its last access.
func NewFactory(endpoints []string, connect Connector, ttl time.Duration, opts ...FactoryOption) (*Factory, error) {
	cleaned, err := NormalizeEndpoints(endpoints)
	if err != nil {
		return nil, err
	}
	if connect == nil {
		return nil, fmt.Errorf("client: nil connector: %w", apperrors.ErrInvalidInput)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: handle TTL must be positive", apperrors.ErrConfiguration)
	}

	f := &Factory{
		endpoints: cleaned,
		connect:   connect,
		ttl:       ttl,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Endpoints returns a copy of the endpoint set.
func (f *Factory) Endpoints() []string {
	return append([]string(nil), f.endpoints...)
}

// TTL returns the liveness window.
func (f *Factory) TTL() time.Duration {
	return f.ttl
}

// Now returns the factory clock's current time.
func (f *Factory) Now() time.Time {
	return f.now()
}

// Connect opens a bare delegate against the endpoint set, outside any pool.
func (f *Factory) Connect(ctx context.Context) (Delegate, error) {
	start := time.Now()
	ClientConnectTotal.Inc()

	var d Delegate
	dial := func(ctx context.Context) error {
		var err error
		d, err = f.connect(ctx, f.Endpoints())
		if err == nil && d == nil {
			err = fmt.Errorf("connector returned no delegate")
		}
		return err
	}

	var err error
	if f.breaker != nil {
		err = f.breaker.Execute(ctx, dial)
	} else {
		err = dial(ctx)
	}
	if err != nil {
		ClientConnectFailedTotal.Inc()
		log.WithField("endpoints", f.endpoints).WithError(err).Warn("failed to connect cache client")
		return nil, fmt.Errorf("%w: endpoints %s: %w", apperrors.ErrConnectionSetupFailed, strings.Join(f.endpoints, ","), err)
	}

	ClientConnectLatency.ObserveSince(start)
	return d, nil
}

// Make connects a new delegate and wraps it in a handle stamped with the
// current time. A connection failure is returned as ErrConnectionSetupFailed.
func (f *Factory) Make(ctx context.Context) (*Handle, error) {
	d, err := f.Connect(ctx)
	if err != nil {
		return nil, err
	}

	h := newHandle(f.nextID.Add(1), d, f.now())
	log.WithField("handle", h.String()).Debug("created handle")
	return h, nil
}

// Destroy closes the handle's delegate. Destroying a handle twice is a no-op.
func (f *Factory) Destroy(h *Handle) error {
	if h == nil || h.destroyed.Swap(true) {
		return nil
	}
	if err := h.delegate.Close(); err != nil {
		return fmt.Errorf("client: closing %s: %w", h, err)
	}
	log.WithField("handle", h.String()).Debug("destroyed handle")
	return nil
}

// Validate reports whether the handle was accessed within the TTL. It uses
// only the stored timestamp and performs no I/O.
func (f *Factory) Validate(h *Handle) bool {
	if h == nil || h.Destroyed() {
		return false
	}
	return f.now().Sub(h.LastAccessed()) < f.ttl
}
