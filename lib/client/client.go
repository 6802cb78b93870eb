// Package client defines the cache client collaborators consumed by the pool
// and the prober, and the pooled Handle that wraps one connected delegate.
//
// The wire protocol, the hashing node locator and connection tracking live
// behind the Delegate interface. A Connector turns an endpoint list into a
// connected Delegate; Factory uses it to create pooled handles.
package client

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get, Gets, Incr and Decr when the key is absent.
var ErrCacheMiss = errors.New("client: cache miss")

// Node is one backend server as seen by the node locator.
type Node interface {
	// Address is the node's network address, in the same form as the
	// entries returned by Topology.AvailableServers.
	Address() string
}

// NodeLocator maps keys to the node responsible for them.
type NodeLocator interface {
	// All returns every configured node.
	All() []Node
	// Primary returns the node the key routes to.
	Primary(key string) Node
}

// CASResult is the outcome of a compare-and-swap.
type CASResult int

const (
	// CASStored means the value was replaced.
	CASStored CASResult = iota
	// CASExists means the item was modified since the supplied cas id.
	CASExists
	// CASNotFound means the key does not exist.
	CASNotFound
)

func (r CASResult) String() string {
	switch r {
	case CASStored:
		return "stored"
	case CASExists:
		return "exists"
	case CASNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Cache is the subset of cache operations forwarded to the delegate.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Gets(ctx context.Context, key string) (value []byte, casID uint64, err error)
	Set(ctx context.Context, key string, value []byte, exp time.Duration) (bool, error)
	Add(ctx context.Context, key string, value []byte, exp time.Duration) (bool, error)
	Replace(ctx context.Context, key string, value []byte, exp time.Duration) (bool, error)
	CAS(ctx context.Context, key string, value []byte, casID uint64, exp time.Duration) (CASResult, error)
	Touch(ctx context.Context, key string, exp time.Duration) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string, delta uint64) (uint64, error)
	Decr(ctx context.Context, key string, delta uint64) (uint64, error)
}

// Topology exposes the delegate's view of the cluster. Availability is
// maintained by the delegate's own connection tracking.
type Topology interface {
	NodeLocator() NodeLocator
	AvailableServers() []string
	UnavailableServers() []string
}

// Delegate is one connected client instance spanning all endpoints.
type Delegate interface {
	Cache
	Topology
	Close() error
}

// Connector opens a Delegate against the given endpoints.
type Connector func(ctx context.Context, endpoints []string) (Delegate, error)
