package client

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Handle is a pooled unit: exactly one delegate plus the time it was last
// handed back to the pool.
type Handle struct {
	id           uint64
	delegate     Delegate
	createdAt    time.Time
	lastAccessed atomic.Int64
	destroyed    atomic.Bool
}

func newHandle(id uint64, delegate Delegate, now time.Time) *Handle {
	h := &Handle{
		id:        id,
		delegate:  delegate,
		createdAt: now,
	}
	h.lastAccessed.Store(now.UnixNano())
	return h
}

// ID returns the factory-assigned handle number.
func (h *Handle) ID() uint64 {
	return h.id
}

// Delegate returns the wrapped client. Calls pass straight through to it.
func (h *Handle) Delegate() Delegate {
	return h.delegate
}

// CreatedAt returns when the handle was made.
func (h *Handle) CreatedAt() time.Time {
	return h.createdAt
}

// LastAccessed returns when the handle was created or last released.
func (h *Handle) LastAccessed() time.Time {
	return time.Unix(0, h.lastAccessed.Load())
}

// Touch sets the last-accessed time. The pool calls it on release.
func (h *Handle) Touch(at time.Time) {
	h.lastAccessed.Store(at.UnixNano())
}

// Destroyed reports whether the factory closed the delegate.
func (h *Handle) Destroyed() bool {
	return h.destroyed.Load()
}

func (h *Handle) String() string {
	return fmt.Sprintf("handle-%d", h.id)
}
