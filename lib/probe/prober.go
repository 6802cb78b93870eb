// Package probe keeps connections to cache nodes warm and surfaces dead
// nodes early.
//
// A Prober reserves one key per node, chosen so the client's node locator
// routes it to that node, and periodically writes each key on every
// available node. Writes to a node are retried until one succeeds or the
// client's connection tracking drops the node from its available set. The
// prober never changes availability itself.
package probe

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/go-i2p/cachepool/lib/client"
	apperrors "github.com/go-i2p/cachepool/lib/errors"
)

// Target is the client a Prober exercises. A client.Delegate satisfies it.
type Target interface {
	NodeLocator() client.NodeLocator
	AvailableServers() []string
	Set(ctx context.Context, key string, value []byte, exp time.Duration) (bool, error)
}

// RunResult describes one probe run.
type RunResult struct {
	Started   time.Time
	Duration  time.Duration
	States    map[string]State
	Attempts  int
	Failures  int
	Rederived bool
	// Err is the context error when the run was aborted.
	Err error `json:"-"`
}

// Stats is a snapshot of prober counters.
type Stats struct {
	Runs     uint64
	Attempts uint64
	Failures uint64
	Skipped  uint64
	Keys     int
	LastRun  time.Time
	Running  bool
}

// Prober probes every available node of a Target.
type Prober struct {
	target  Target
	config  Config
	keys    atomic.Pointer[keyMap]
	limiter *rate.Limiter

	// runMu serializes runs.
	runMu sync.Mutex

	mu         sync.RWMutex
	lastRun    time.Time
	lastResult *RunResult
	running    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	runs     atomic.Uint64
	attempts atomic.Uint64
	failures atomic.Uint64
	skipped  atomic.Uint64
}

// New derives the probe key map for the target's current nodes. It fails
// with ErrProbeKeyNotFound when some node cannot be reached by any sampled
// key within Config.MaxKeyAttempts.
func New(target Target, cfg Config) (*Prober, error) {
	if target == nil {
		return nil, apperrors.ErrInvalidInput
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Prober{
		target:  target,
		config:  cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.RetryInterval), 1),
	}
	if err := p.Rederive(); err != nil {
		return nil, err
	}
	return p, nil
}

// Config returns the effective configuration.
func (p *Prober) Config() Config {
	return p.config
}

// Keys returns a copy of the address to probe key map.
func (p *Prober) Keys() map[string]string {
	m := p.keys.Load()
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m.keys)
}

// Rederive rebuilds the key map from the locator's current nodes. On failure
// the previous map stays in place.
func (p *Prober) Rederive() error {
	m, err := deriveKeys(p.target.NodeLocator(), p.config.KeyPrefix, p.config.MaxKeyAttempts)
	if err != nil {
		return err
	}
	old := p.keys.Swap(m)
	if old != nil {
		for _, addr := range old.nodes {
			if _, ok := m.keys[addr]; !ok {
				ProbeNodeState.Delete(addr)
			}
		}
	}
	log.WithField("nodes", len(m.nodes)).Debug("derived probe keys")
	return nil
}

// refreshTopology re-derives the key map when the node set changed.
func (p *Prober) refreshTopology() bool {
	if p.config.FreezeKeys {
		return false
	}
	if p.keys.Load().matches(nodeAddresses(p.target.NodeLocator())) {
		return false
	}
	log.Debug("node set changed, re-deriving probe keys")
	if err := p.Rederive(); err != nil {
		log.WithError(err).Warn("failed to re-derive probe keys, keeping previous map")
		return false
	}
	return true
}

// Run performs one probe pass over the currently available addresses.
// Probe failures are counted and logged, never returned. A cancelled ctx
// aborts the run and is reported in RunResult.Err.
func (p *Prober) Run(ctx context.Context) RunResult {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	res := RunResult{
		Started: time.Now(),
		States:  make(map[string]State),
	}
	res.Rederived = p.refreshTopology()
	keys := p.keys.Load()

	for _, addr := range p.target.AvailableServers() {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}

		key, ok := keys.lookup(addr)
		if !ok {
			log.WithField("address", addr).Warn("available address has no probe key, skipping")
			res.States[addr] = StateSkipped
			p.recordState(addr, StateSkipped)
			continue
		}

		state, err := p.probeAddress(ctx, addr, key, &res)
		res.States[addr] = state
		p.recordState(addr, state)
		if err != nil {
			res.Err = err
			break
		}
	}

	res.Duration = time.Since(res.Started)
	ProbeRunDuration.Observe(res.Duration.Seconds())
	p.runs.Add(1)
	ProbeRunsTotal.Inc()

	last := res
	last.States = maps.Clone(res.States)
	p.mu.Lock()
	p.lastRun = res.Started
	p.lastResult = &last
	p.mu.Unlock()

	log.WithField("addresses", len(res.States)).
		WithField("attempts", res.Attempts).
		WithField("failures", res.Failures).
		WithField("duration", res.Duration).
		Debug("probe run complete")
	return res
}

// probeAddress retries the probe write for one address until it succeeds or
// the address is no longer available. It returns an error only when ctx is
// done.
func (p *Prober) probeAddress(ctx context.Context, addr, key string, res *RunResult) (State, error) {
	p.recordState(addr, StateProbing)

	for {
		if !p.available(addr) {
			log.WithField("address", addr).Debug("address no longer available, skipping")
			return StateSkipped, nil
		}
		if err := p.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return StateIdle, ctxErr
			}
			return StateIdle, err
		}

		opCtx, cancel := context.WithTimeout(ctx, p.config.OpTimeout)
		ok, err := p.target.Set(opCtx, key, probeValue, p.config.Expiration)
		cancel()

		res.Attempts++
		p.attempts.Add(1)
		ProbeAttemptsTotal.Inc()

		if ok && err == nil {
			return StateSucceeded, nil
		}

		res.Failures++
		p.failures.Add(1)
		ProbeFailuresTotal.Inc()
		if err != nil {
			log.WithField("address", addr).WithField("key", key).WithError(err).Warn("probe failed, retrying")
		} else {
			log.WithField("address", addr).WithField("key", key).Warn("probe not stored, retrying")
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return StateIdle, ctxErr
		}
	}
}

func (p *Prober) available(addr string) bool {
	return lo.Contains(p.target.AvailableServers(), addr)
}

func (p *Prober) recordState(addr string, s State) {
	if s == StateSkipped {
		p.skipped.Add(1)
		ProbeSkippedTotal.Inc()
	}
	ProbeNodeState.Set(addr, int64(s))
}

// Start runs one pass immediately and then one every Config.Interval until
// Stop is called or ctx is cancelled. Starting a running prober is a no-op.
func (p *Prober) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	log.WithField("interval", p.config.Interval).Debug("starting prober")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx)
	}()
	return nil
}

// Stop cancels the periodic loop, aborting any run in progress, and waits
// for it to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	log.Debug("prober stopped")
}

func (p *Prober) loop(ctx context.Context) {
	p.Run(ctx)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Run(ctx)
		}
	}
}

// LastResult returns the most recent completed run, or false before the
// first run.
func (p *Prober) LastResult() (RunResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastResult == nil {
		return RunResult{}, false
	}
	res := *p.lastResult
	res.States = maps.Clone(res.States)
	return res, true
}

// Stats returns prober counters.
func (p *Prober) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Stats{
		Runs:     p.runs.Load(),
		Attempts: p.attempts.Load(),
		Failures: p.failures.Load(),
		Skipped:  p.skipped.Load(),
		LastRun:  p.lastRun,
		Running:  p.running,
	}
	if m := p.keys.Load(); m != nil {
		s.Keys = len(m.keys)
	}
	return s
}
