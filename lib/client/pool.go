package client

import (
	"context"

	"github.com/go-i2p/cachepool/lib/config"
	"github.com/go-i2p/cachepool/lib/pool"
)

// Pool is a pool of client handles sharing one factory.
type Pool struct {
	handles *pool.Pool[*Handle]
	factory *Factory
}

// NewPool builds a handle pool. The pool's idle bookkeeping uses the
// factory's clock so validation and eviction agree on time.
func NewPool(factory *Factory, cfg config.PoolConfig, opts ...pool.Option) (*Pool, error) {
	opts = append([]pool.Option{pool.WithClock(factory.Now)}, opts...)
	handles, err := pool.New[*Handle](factory, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Pool{handles: handles, factory: factory}, nil
}

// Acquire borrows a handle. Release it exactly once.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	return p.handles.Acquire(ctx)
}

// Release returns a borrowed handle.
func (p *Pool) Release(h *Handle) error {
	return p.handles.Release(h)
}

// Invalidate destroys a borrowed handle instead of returning it.
func (p *Pool) Invalidate(h *Handle) error {
	return p.handles.Invalidate(h)
}

// Do runs fn with a borrowed delegate and releases the handle afterwards.
func (p *Pool) Do(ctx context.Context, fn func(Delegate) error) error {
	return p.handles.Do(ctx, func(h *Handle) error {
		return fn(h.Delegate())
	})
}

// DoValue is Do for calls that produce a value.
func DoValue[V any](ctx context.Context, p *Pool, fn func(Delegate) (V, error)) (V, error) {
	var out V
	err := p.Do(ctx, func(d Delegate) error {
		var err error
		out, err = fn(d)
		return err
	})
	return out, err
}

// Evict runs one eviction pass.
func (p *Pool) Evict() {
	p.handles.Evict()
}

// StopEviction stops the background eviction task.
func (p *Pool) StopEviction() {
	p.handles.StopEviction()
}

// Shutdown closes the pool and destroys idle handles.
func (p *Pool) Shutdown() error {
	return p.handles.Shutdown()
}

// Stats returns pool statistics.
func (p *Pool) Stats() pool.Stats {
	return p.handles.Stats()
}

// Factory returns the factory backing the pool.
func (p *Pool) Factory() *Factory {
	return p.factory
}
