package probe

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/go-i2p/cachepool/lib/client"
	apperrors "github.com/go-i2p/cachepool/lib/errors"
)

// keyMap maps node addresses to reserved probe keys. It is never modified
// after construction; the prober swaps whole maps.
type keyMap struct {
	keys  map[string]string
	nodes []string // sorted addresses the map was derived for
}

func (m *keyMap) lookup(addr string) (string, bool) {
	if m == nil {
		return "", false
	}
	key, ok := m.keys[addr]
	return key, ok
}

// matches reports whether the map was derived for exactly these nodes.
func (m *keyMap) matches(nodes []string) bool {
	return m != nil && slices.Equal(m.nodes, nodes)
}

// nodeAddresses returns the sorted unique addresses known to the locator.
func nodeAddresses(locator client.NodeLocator) []string {
	addrs := lo.Uniq(lo.FilterMap(locator.All(), func(n client.Node, _ int) (string, bool) {
		if n == nil {
			return "", false
		}
		return n.Address(), n.Address() != ""
	}))
	slices.Sort(addrs)
	return addrs
}

// deriveKeys reserves one key per node by sampling random keys until the
// locator routes one to that node. Each node gets at most maxAttempts samples.
func deriveKeys(locator client.NodeLocator, prefix string, maxAttempts int) (*keyMap, error) {
	nodes := nodeAddresses(locator)
	if len(nodes) == 0 {
		return nil, apperrors.ErrProbeNoNodes
	}

	keys := make(map[string]string, len(nodes))
	for _, addr := range nodes {
		key, attempts, ok := sampleKey(locator, addr, prefix, maxAttempts)
		if !ok {
			log.WithField("address", addr).WithField("attempts", attempts).Warn("no probe key routes to node")
			return nil, fmt.Errorf("%w: %s after %d attempts", apperrors.ErrProbeKeyNotFound, addr, attempts)
		}
		keys[addr] = key
		log.WithField("address", addr).WithField("key", key).WithField("attempts", attempts).Debug("reserved probe key")
	}
	return &keyMap{keys: keys, nodes: nodes}, nil
}

func sampleKey(locator client.NodeLocator, addr, prefix string, maxAttempts int) (string, int, bool) {
	for i := 1; i <= maxAttempts; i++ {
		key := prefix + uuid.NewString()
		if n := locator.Primary(key); n != nil && n.Address() == addr {
			return key, i, true
		}
	}
	return "", maxAttempts, false
}
