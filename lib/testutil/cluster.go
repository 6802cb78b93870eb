// Package testutil provides an in-memory cache cluster for cachepool tests.
//
// A Cluster holds a set of MockNodes. Its Connector returns MockClients that
// implement client.Delegate: keys route to nodes by xxhash modulo the node
// count, availability is controlled per node by the test, and Set failures
// can be injected to exercise the prober's retry loop.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/samber/lo"

	"github.com/go-i2p/cachepool/lib/client"
)

var (
	// ErrNodeDown is returned by operations routed to an unavailable node.
	ErrNodeDown = errors.New("testutil: node unavailable")
	// ErrClientClosed is returned by operations on a closed MockClient.
	ErrClientClosed = errors.New("testutil: client closed")
	// ErrConnectRefused is returned by the connector while connects fail.
	ErrConnectRefused = errors.New("testutil: connection refused")
)

// Cluster is an in-memory set of cache nodes.
type Cluster struct {
	mu          sync.RWMutex
	nodes       []*MockNode
	byAddr      map[string]*MockNode
	unroutable  map[string]bool
	clients     []*MockClient
	failConnect bool
	connects    atomic.Int32
}

// NewCluster creates a cluster with one available node per address.
func NewCluster(addrs ...string) *Cluster {
	c := &Cluster{
		byAddr:     make(map[string]*MockNode),
		unroutable: make(map[string]bool),
	}
	for _, addr := range addrs {
		c.AddNode(addr)
	}
	return c
}

// AddNode adds an available node. Adding an existing address returns the
// existing node.
func (c *Cluster) AddNode(addr string) *MockNode {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.byAddr[addr]; ok {
		return n
	}
	n := &MockNode{
		addr:      addr,
		items:     make(map[string]mockItem),
		available: true,
	}
	c.nodes = append(c.nodes, n)
	c.byAddr[addr] = n
	return n
}

// RemoveNode drops a node from the cluster and from every locator.
func (c *Cluster) RemoveNode(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.byAddr, addr)
	delete(c.unroutable, addr)
	c.nodes = lo.Reject(c.nodes, func(n *MockNode, _ int) bool {
		return n.addr == addr
	})
}

// Node returns the node for an address, or nil.
func (c *Cluster) Node(addr string) *MockNode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byAddr[addr]
}

// Addrs returns every node address in insertion order.
func (c *Cluster) Addrs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lo.Map(c.nodes, func(n *MockNode, _ int) string { return n.addr })
}

// SetAvailable marks a node available or unavailable, as the connection
// tracking of a real client would.
func (c *Cluster) SetAvailable(addr string, available bool) {
	if n := c.Node(addr); n != nil {
		n.setAvailable(available)
	}
}

// SetUnroutable excludes a node from key routing while keeping it in the
// node list, simulating a misconfigured locator.
func (c *Cluster) SetUnroutable(addr string, unroutable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if unroutable {
		c.unroutable[addr] = true
	} else {
		delete(c.unroutable, addr)
	}
}

// FailConnects makes the connector refuse new clients.
func (c *Cluster) FailConnects(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failConnect = fail
}

// Connects returns the number of connector calls.
func (c *Cluster) Connects() int {
	return int(c.connects.Load())
}

// OpenClients returns the number of connected clients not yet closed.
func (c *Cluster) OpenClients() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lo.CountBy(c.clients, func(mc *MockClient) bool { return !mc.closed.Load() })
}

// Connector returns a client.Connector bound to this cluster. Every
// endpoint must name a node in the cluster.
func (c *Cluster) Connector() client.Connector {
	return func(ctx context.Context, endpoints []string) (client.Delegate, error) {
		c.connects.Add(1)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.failConnect {
			return nil, ErrConnectRefused
		}
		for _, e := range endpoints {
			if _, ok := c.byAddr[e]; !ok {
				return nil, fmt.Errorf("testutil: unknown endpoint %q", e)
			}
		}

		mc := &MockClient{
			cluster:   c,
			endpoints: append([]string(nil), endpoints...),
		}
		c.clients = append(c.clients, mc)
		return mc, nil
	}
}

// route returns the node a key maps to among the routable endpoint nodes.
func (c *Cluster) route(endpoints []string, key string) *MockNode {
	c.mu.RLock()
	defer c.mu.RUnlock()

	candidates := lo.FilterMap(endpoints, func(e string, _ int) (*MockNode, bool) {
		n, ok := c.byAddr[e]
		return n, ok && !c.unroutable[e]
	})
	if len(candidates) == 0 {
		return nil
	}
	return candidates[xxhash.Sum64String(key)%uint64(len(candidates))]
}

func (c *Cluster) endpointNodes(endpoints []string) []*MockNode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lo.FilterMap(endpoints, func(e string, _ int) (*MockNode, bool) {
		n, ok := c.byAddr[e]
		return n, ok
	})
}

type mockItem struct {
	value []byte
	cas   uint64
	exp   time.Duration
}

// MockNode is one in-memory cache server.
type MockNode struct {
	mu        sync.Mutex
	addr      string
	items     map[string]mockItem
	casSeq    uint64
	available bool
	failSets  int
	failErr   error
	onSet     func(attempt int)
	setCalls  int
}

// Address implements client.Node.
func (n *MockNode) Address() string {
	return n.addr
}

// Available reports whether the node is in the available set.
func (n *MockNode) Available() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.available
}

func (n *MockNode) setAvailable(available bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.available = available
}

// FailSets makes the next count Set calls fail. A nil err reports a
// not-stored result; a non-nil err is returned as the operation error.
func (n *MockNode) FailSets(count int, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failSets = count
	n.failErr = err
}

// OnSet installs a hook run before every Set with the 1-based attempt
// number. The hook runs without the node lock held.
func (n *MockNode) OnSet(fn func(attempt int)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onSet = fn
}

// SetCalls returns the number of Set calls the node received.
func (n *MockNode) SetCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.setCalls
}

// Value returns the stored value for key.
func (n *MockNode) Value(key string) ([]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	it, ok := n.items[key]
	return it.value, ok
}

// Len returns the number of stored items.
func (n *MockNode) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.items)
}

func (n *MockNode) storeLocked(key string, value []byte, exp time.Duration) {
	n.casSeq++
	n.items[key] = mockItem{value: append([]byte(nil), value...), cas: n.casSeq, exp: exp}
}

// MockClient is a client.Delegate connected to a Cluster.
type MockClient struct {
	cluster   *Cluster
	endpoints []string
	closed    atomic.Bool
}

// nodeFor resolves the node for key and checks it can serve requests.
func (m *MockClient) nodeFor(ctx context.Context, key string) (*MockNode, error) {
	if m.closed.Load() {
		return nil, ErrClientClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := m.cluster.route(m.endpoints, key)
	if n == nil {
		return nil, ErrNodeDown
	}
	if !n.Available() {
		return nil, fmt.Errorf("%w: %s", ErrNodeDown, n.addr)
	}
	return n, nil
}

// Get implements client.Cache.
func (m *MockClient) Get(ctx context.Context, key string) ([]byte, error) {
	v, _, err := m.Gets(ctx, key)
	return v, err
}

// Gets implements client.Cache.
func (m *MockClient) Gets(ctx context.Context, key string) ([]byte, uint64, error) {
	n, err := m.nodeFor(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	it, ok := n.items[key]
	if !ok {
		return nil, 0, client.ErrCacheMiss
	}
	return append([]byte(nil), it.value...), it.cas, nil
}

// Set implements client.Cache. Injected failures apply here only.
func (m *MockClient) Set(ctx context.Context, key string, value []byte, exp time.Duration) (bool, error) {
	n, err := m.nodeFor(ctx, key)
	if err != nil {
		return false, err
	}

	n.mu.Lock()
	n.setCalls++
	attempt := n.setCalls
	hook := n.onSet
	n.mu.Unlock()

	if hook != nil {
		hook(attempt)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failSets > 0 {
		n.failSets--
		return false, n.failErr
	}
	n.storeLocked(key, value, exp)
	return true, nil
}

// Add implements client.Cache.
func (m *MockClient) Add(ctx context.Context, key string, value []byte, exp time.Duration) (bool, error) {
	n, err := m.nodeFor(ctx, key)
	if err != nil {
		return false, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.items[key]; ok {
		return false, nil
	}
	n.storeLocked(key, value, exp)
	return true, nil
}

// Replace implements client.Cache.
func (m *MockClient) Replace(ctx context.Context, key string, value []byte, exp time.Duration) (bool, error) {
	n, err := m.nodeFor(ctx, key)
	if err != nil {
		return false, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.items[key]; !ok {
		return false, nil
	}
	n.storeLocked(key, value, exp)
	return true, nil
}

// CAS implements client.Cache.
func (m *MockClient) CAS(ctx context.Context, key string, value []byte, casID uint64, exp time.Duration) (client.CASResult, error) {
	n, err := m.nodeFor(ctx, key)
	if err != nil {
		return client.CASNotFound, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	it, ok := n.items[key]
	if !ok {
		return client.CASNotFound, nil
	}
	if it.cas != casID {
		return client.CASExists, nil
	}
	n.storeLocked(key, value, exp)
	return client.CASStored, nil
}

// Touch implements client.Cache.
func (m *MockClient) Touch(ctx context.Context, key string, exp time.Duration) (bool, error) {
	n, err := m.nodeFor(ctx, key)
	if err != nil {
		return false, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	it, ok := n.items[key]
	if !ok {
		return false, nil
	}
	it.exp = exp
	n.items[key] = it
	return true, nil
}

// Delete implements client.Cache.
func (m *MockClient) Delete(ctx context.Context, key string) (bool, error) {
	n, err := m.nodeFor(ctx, key)
	if err != nil {
		return false, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.items[key]; !ok {
		return false, nil
	}
	delete(n.items, key)
	return true, nil
}

// Incr implements client.Cache.
func (m *MockClient) Incr(ctx context.Context, key string, delta uint64) (uint64, error) {
	return m.adjust(ctx, key, func(v uint64) uint64 { return v + delta })
}

// Decr implements client.Cache. Values never go below zero.
func (m *MockClient) Decr(ctx context.Context, key string, delta uint64) (uint64, error) {
	return m.adjust(ctx, key, func(v uint64) uint64 {
		if delta > v {
			return 0
		}
		return v - delta
	})
}

func (m *MockClient) adjust(ctx context.Context, key string, fn func(uint64) uint64) (uint64, error) {
	n, err := m.nodeFor(ctx, key)
	if err != nil {
		return 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	it, ok := n.items[key]
	if !ok {
		return 0, client.ErrCacheMiss
	}
	cur, err := strconv.ParseUint(string(it.value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("testutil: non-numeric value for %q: %w", key, err)
	}
	next := fn(cur)
	n.storeLocked(key, []byte(strconv.FormatUint(next, 10)), it.exp)
	return next, nil
}

// NodeLocator implements client.Topology.
func (m *MockClient) NodeLocator() client.NodeLocator {
	return &mockLocator{client: m}
}

// AvailableServers implements client.Topology.
func (m *MockClient) AvailableServers() []string {
	return m.servers(true)
}

// UnavailableServers implements client.Topology.
func (m *MockClient) UnavailableServers() []string {
	return m.servers(false)
}

func (m *MockClient) servers(available bool) []string {
	nodes := m.cluster.endpointNodes(m.endpoints)
	return lo.FilterMap(nodes, func(n *MockNode, _ int) (string, bool) {
		return n.addr, n.Available() == available
	})
}

// Close implements client.Delegate. Closing twice is a no-op.
func (m *MockClient) Close() error {
	m.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (m *MockClient) Closed() bool {
	return m.closed.Load()
}

// mockLocator routes keys for one client.
type mockLocator struct {
	client *MockClient
}

func (l *mockLocator) All() []client.Node {
	nodes := l.client.cluster.endpointNodes(l.client.endpoints)
	return lo.Map(nodes, func(n *MockNode, _ int) client.Node { return n })
}

func (l *mockLocator) Primary(key string) client.Node {
	n := l.client.cluster.route(l.client.endpoints, key)
	if n == nil {
		return nil
	}
	return n
}
