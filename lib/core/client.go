package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-i2p/cachepool/lib/client"
	apperrors "github.com/go-i2p/cachepool/lib/errors"
	"github.com/go-i2p/cachepool/lib/pool"
	"github.com/go-i2p/cachepool/lib/probe"
	"github.com/go-i2p/cachepool/lib/resilience"
	"github.com/go-i2p/cachepool/lib/web"
)

// ClientState represents the lifecycle state of a Client.
type ClientState int

const (
	// StateRunning means the pool accepts requests.
	StateRunning ClientState = iota
	// StateClosing means Close is in progress.
	StateClosing
	// StateClosed means the pool and prober are shut down.
	StateClosed
)

// MarshalText encodes the state by name.
func (s ClientState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s ClientState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats combines pool and prober statistics.
type Stats struct {
	State        ClientState
	Pool         pool.Stats
	ProbeEnabled bool
	Probe        probe.Stats
	// Breaker is zero when the connection breaker is disabled
	Breaker resilience.Stats
	Uptime  time.Duration
}

// Client is a pooled cache client with an optional background prober.
type Client struct {
	mu        sync.RWMutex
	config    *Config
	state     ClientState
	startedAt time.Time

	pool    *client.Pool
	breaker *resilience.Breaker
	// prober and probeConn are nil when probing is disabled
	prober    *probe.Prober
	probeConn client.Delegate
	admin     *web.Server
}

// New builds the handle pool and, when enabled, connects a dedicated
// delegate for the prober and starts it. The prober runs until Close; ctx
// only bounds setup.
func New(ctx context.Context, cfg *Config, connect client.Connector) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required: %w", apperrors.ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	poolCfg, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}
	var factoryOpts []client.FactoryOption
	var breaker *resilience.Breaker
	if bc, ok := cfg.BreakerConfig(); ok {
		breaker = resilience.New("connect", bc)
		factoryOpts = append(factoryOpts, client.WithBreaker(breaker))
	}
	factory, err := client.NewFactory(cfg.Client.Endpoints, connect, poolCfg.HandleTTL, factoryOpts...)
	if err != nil {
		return nil, err
	}
	handles, err := client.NewPool(factory, poolCfg, pool.WithName("cachepool"))
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:    cfg,
		state:     StateRunning,
		startedAt: time.Now(),
		pool:      handles,
		breaker:   breaker,
	}

	if cfg.Probe.Enabled {
		if err := c.startProber(ctx, factory); err != nil {
			log.WithError(err).Error("failed to start prober")
			if shutdownErr := handles.Shutdown(); shutdownErr != nil {
				log.WithError(shutdownErr).Warn("pool shutdown after failed setup")
			}
			return nil, err
		}
	}

	if wc, ok := cfg.WebConfig(); ok {
		if err := c.startAdmin(wc); err != nil {
			log.WithError(err).Error("failed to start admin server")
			c.Close()
			return nil, err
		}
	}

	log.WithField("endpoints", factory.Endpoints()).
		WithField("maxActive", poolCfg.MaxActive).
		WithField("whenExhausted", poolCfg.WhenExhausted.String()).
		WithField("probe", cfg.Probe.Enabled).
		Debug("cache client started")
	return c, nil
}

func (c *Client) startProber(ctx context.Context, factory *client.Factory) error {
	d, err := factory.Connect(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeConnectionSetup, "connecting prober client", err)
	}

	p, err := probe.New(d, c.config.ProbeConfig())
	if err != nil {
		d.Close()
		return fmt.Errorf("creating prober: %w", err)
	}
	if err := p.Start(context.WithoutCancel(ctx)); err != nil {
		d.Close()
		return fmt.Errorf("starting prober: %w", err)
	}

	c.prober = p
	c.probeConn = d
	return nil
}

func (c *Client) startAdmin(wc web.Config) error {
	srv, err := web.New(wc, c)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting admin server: %w", err)
	}
	c.admin = srv
	return nil
}

// Admin returns the admin server, or nil when it is disabled.
func (c *Client) Admin() *web.Server {
	return c.admin
}

// Ready reports whether the client can serve requests: it must be running
// and, when probing, the last completed probe run must have reached at
// least one node.
func (c *Client) Ready() error {
	if c.State() != StateRunning {
		return apperrors.ErrPoolClosed
	}
	if c.prober == nil {
		return nil
	}
	last, ok := c.prober.LastResult()
	if !ok || len(last.States) == 0 {
		return nil
	}
	for _, st := range last.States {
		if st == probe.StateSucceeded {
			return nil
		}
	}
	return apperrors.Wrap(apperrors.CodeUnavailable, "no node answered the last probe run", apperrors.ErrUnavailable)
}

// Snapshot returns Stats for the admin server.
func (c *Client) Snapshot() any {
	return c.Stats()
}

// Do runs fn with a pooled delegate.
func (c *Client) Do(ctx context.Context, fn func(client.Delegate) error) error {
	return c.pool.Do(ctx, fn)
}

// Pool returns the handle pool.
func (c *Client) Pool() *client.Pool {
	return c.pool
}

// Prober returns the prober, or nil when probing is disabled.
func (c *Client) Prober() *probe.Prober {
	return c.prober
}

// Config returns the client's configuration.
func (c *Client) Config() *Config {
	return c.config
}

// State returns the lifecycle state.
func (c *Client) State() ClientState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Uptime returns how long the client has been running, or zero once closed.
func (c *Client) Uptime() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateRunning {
		return 0
	}
	return time.Since(c.startedAt)
}

// Stats returns pool and prober statistics and refreshes the pool gauges.
func (c *Client) Stats() Stats {
	s := Stats{
		State:  c.State(),
		Pool:   c.pool.Stats(),
		Uptime: c.Uptime(),
	}
	pool.UpdateMetrics(s.Pool)
	if c.prober != nil {
		s.ProbeEnabled = true
		s.Probe = c.prober.Stats()
	}
	if c.breaker != nil {
		s.Breaker = c.breaker.Stats()
	}
	return s
}

// Close stops the admin server, eviction and the prober, then shuts down the
// pool and closes the prober's delegate. Handles still borrowed are destroyed
// when released.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return apperrors.ErrPoolClosed
	}
	c.state = StateClosing
	c.mu.Unlock()

	log.Debug("closing cache client")

	var errs []error
	if c.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.admin.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping admin server: %w", err))
		}
		cancel()
	}
	c.pool.StopEviction()
	if c.prober != nil {
		c.prober.Stop()
	}
	if err := c.pool.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	if c.probeConn != nil {
		if err := c.probeConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing prober client: %w", err))
		}
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	if err := errors.Join(errs...); err != nil {
		log.WithError(err).Warn("errors while closing cache client")
		return err
	}
	log.Debug("cache client closed")
	return nil
}
