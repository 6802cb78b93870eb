package testutil

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-i2p/cachepool/lib/client"
)

func connect(t *testing.T, c *Cluster, endpoints ...string) client.Delegate {
	t.Helper()
	d, err := c.Connector()(context.Background(), endpoints)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	return d
}

func TestClusterConnector(t *testing.T) {
	t.Run("known endpoints", func(t *testing.T) {
		c := NewCluster("a:11211", "b:11211")
		d := connect(t, c, "a:11211", "b:11211")
		defer d.Close()

		if c.Connects() != 1 {
			t.Errorf("Connects = %d, want 1", c.Connects())
		}
		if c.OpenClients() != 1 {
			t.Errorf("OpenClients = %d, want 1", c.OpenClients())
		}
	})

	t.Run("unknown endpoint", func(t *testing.T) {
		c := NewCluster("a:11211")
		if _, err := c.Connector()(context.Background(), []string{"z:11211"}); err == nil {
			t.Error("expected error for unknown endpoint")
		}
	})

	t.Run("refused", func(t *testing.T) {
		c := NewCluster("a:11211")
		c.FailConnects(true)
		_, err := c.Connector()(context.Background(), []string{"a:11211"})
		if !errors.Is(err, ErrConnectRefused) {
			t.Errorf("expected ErrConnectRefused, got %v", err)
		}
		if c.Connects() != 1 {
			t.Errorf("Connects = %d, want 1", c.Connects())
		}
	})

	t.Run("close", func(t *testing.T) {
		c := NewCluster("a:11211")
		d := connect(t, c, "a:11211")
		d.Close()
		d.Close()

		if c.OpenClients() != 0 {
			t.Errorf("OpenClients = %d, want 0", c.OpenClients())
		}
		if _, err := d.Get(context.Background(), "k"); !errors.Is(err, ErrClientClosed) {
			t.Errorf("expected ErrClientClosed, got %v", err)
		}
	})
}

func TestMockClientOperations(t *testing.T) {
	ctx := context.Background()
	c := NewCluster("a:11211", "b:11211", "c:11211")
	d := connect(t, c, c.Addrs()...)
	defer d.Close()

	if _, err := d.Get(ctx, "missing"); !errors.Is(err, client.ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}

	ok, err := d.Set(ctx, "k", []byte("v1"), 0)
	if err != nil || !ok {
		t.Fatalf("Set = %v, %v", ok, err)
	}
	if ok, _ := d.Add(ctx, "k", []byte("v2"), 0); ok {
		t.Error("Add on existing key should not store")
	}
	if ok, _ := d.Replace(ctx, "absent", []byte("v"), 0); ok {
		t.Error("Replace on absent key should not store")
	}

	v, casID, err := d.Gets(ctx, "k")
	if err != nil {
		t.Fatalf("Gets failed: %v", err)
	}
	if string(v) != "v1" {
		t.Errorf("Gets value = %q, want %q", v, "v1")
	}

	res, _ := d.CAS(ctx, "k", []byte("v3"), casID+100, 0)
	if res != client.CASExists {
		t.Errorf("CAS with stale id = %v, want exists", res)
	}
	res, _ = d.CAS(ctx, "k", []byte("v3"), casID, 0)
	if res != client.CASStored {
		t.Errorf("CAS = %v, want stored", res)
	}
	res, _ = d.CAS(ctx, "absent", []byte("v"), 1, 0)
	if res != client.CASNotFound {
		t.Errorf("CAS on absent key = %v, want not_found", res)
	}

	if ok, _ := d.Touch(ctx, "k", 0); !ok {
		t.Error("Touch on existing key should succeed")
	}
	if ok, _ := d.Delete(ctx, "k"); !ok {
		t.Error("Delete on existing key should succeed")
	}
	if ok, _ := d.Delete(ctx, "k"); ok {
		t.Error("second Delete should report not found")
	}
}

func TestMockClientCounters(t *testing.T) {
	ctx := context.Background()
	c := NewCluster("a:11211")
	d := connect(t, c, "a:11211")
	defer d.Close()

	if _, err := d.Incr(ctx, "n", 1); !errors.Is(err, client.ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}

	d.Set(ctx, "n", []byte("10"), 0)
	if got, _ := d.Incr(ctx, "n", 5); got != 15 {
		t.Errorf("Incr = %d, want 15", got)
	}
	if got, _ := d.Decr(ctx, "n", 20); got != 0 {
		t.Errorf("Decr below zero = %d, want 0", got)
	}

	d.Set(ctx, "s", []byte("abc"), 0)
	if _, err := d.Incr(ctx, "s", 1); err == nil {
		t.Error("expected error incrementing non-numeric value")
	}
}

func TestClusterRouting(t *testing.T) {
	c := NewCluster("a:11211", "b:11211", "c:11211")
	d := connect(t, c, c.Addrs()...)
	defer d.Close()

	locator := d.NodeLocator()
	if len(locator.All()) != 3 {
		t.Fatalf("All = %d nodes, want 3", len(locator.All()))
	}

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key%d", i)
		first := locator.Primary(key).Address()
		if again := locator.Primary(key).Address(); again != first {
			t.Fatalf("routing for %q not stable: %s then %s", key, first, again)
		}
		seen[first] = true
	}
	if len(seen) != 3 {
		t.Errorf("200 keys reached %d nodes, want 3", len(seen))
	}

	c.SetUnroutable("b:11211", true)
	for i := 0; i < 200; i++ {
		if addr := locator.Primary(fmt.Sprintf("key%d", i)).Address(); addr == "b:11211" {
			t.Fatal("unroutable node received a key")
		}
	}

	// the value lands on the routed node
	d.Set(context.Background(), "key1", []byte("x"), 0)
	addr := locator.Primary("key1").Address()
	if _, ok := c.Node(addr).Value("key1"); !ok {
		t.Errorf("value not stored on routed node %s", addr)
	}
}

func TestClusterAvailability(t *testing.T) {
	ctx := context.Background()
	c := NewCluster("a:11211", "b:11211")
	d := connect(t, c, c.Addrs()...)
	defer d.Close()

	if got := d.AvailableServers(); len(got) != 2 {
		t.Errorf("AvailableServers = %v, want 2 entries", got)
	}

	c.SetAvailable("a:11211", false)
	if got := d.AvailableServers(); len(got) != 1 || got[0] != "b:11211" {
		t.Errorf("AvailableServers = %v, want [b:11211]", got)
	}
	if got := d.UnavailableServers(); len(got) != 1 || got[0] != "a:11211" {
		t.Errorf("UnavailableServers = %v, want [a:11211]", got)
	}

	c.SetUnroutable("b:11211", true)
	if _, err := d.Set(ctx, "k", []byte("v"), 0); !errors.Is(err, ErrNodeDown) {
		t.Errorf("expected ErrNodeDown, got %v", err)
	}

	c.RemoveNode("a:11211")
	if got := d.UnavailableServers(); len(got) != 0 {
		t.Errorf("UnavailableServers after remove = %v, want none", got)
	}
}

func TestMockNodeFailSets(t *testing.T) {
	ctx := context.Background()
	c := NewCluster("a:11211")
	d := connect(t, c, "a:11211")
	defer d.Close()
	node := c.Node("a:11211")

	node.FailSets(2, nil)
	for i := 0; i < 2; i++ {
		ok, err := d.Set(ctx, "k", []byte("v"), 0)
		if ok || err != nil {
			t.Errorf("attempt %d: Set = %v, %v, want false, nil", i+1, ok, err)
		}
	}
	if ok, _ := d.Set(ctx, "k", []byte("v"), 0); !ok {
		t.Error("Set should succeed after injected failures")
	}

	boom := errors.New("boom")
	node.FailSets(1, boom)
	if _, err := d.Set(ctx, "k", []byte("v"), 0); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}

	var attempts []int
	node.OnSet(func(attempt int) { attempts = append(attempts, attempt) })
	d.Set(ctx, "k", []byte("v"), 0)
	if len(attempts) != 1 || attempts[0] != 5 {
		t.Errorf("hook attempts = %v, want [5]", attempts)
	}
	if node.SetCalls() != 5 {
		t.Errorf("SetCalls = %d, want 5", node.SetCalls())
	}
}
