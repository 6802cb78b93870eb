// Package pool manages a bounded set of expensive, stateful values for one
// logical key.
//
// The pool supports:
//   - Separate caps on active values (MaxActive) and active plus idle (MaxTotal)
//   - FAIL, BLOCK and GROW exhaustion policies with a bounded wait
//   - Validation on borrow, on return and while idle
//   - A periodic eviction task for values idle too long
//   - Scoped acquisition with Do
//
// # Basic Usage
//
//	cfg, err := config.Resolve(props)
//	if err != nil {
//	    return err
//	}
//
//	p, err := pool.New[*client.Handle](factory, cfg, pool.WithName("sessions"))
//	if err != nil {
//	    return err
//	}
//	defer p.Shutdown()
//
//	err = p.Do(ctx, func(h *client.Handle) error {
//	    _, err := h.Delegate().Get(ctx, "user:42")
//	    return err
//	})
//
// Acquire and Release may also be called directly; Release must be called
// exactly once per successful Acquire.
//
// # Metrics
//
// Pool metrics are registered with the metrics package:
//   - cachepool_pool_handles_max_active: Configured MaxActive
//   - cachepool_pool_handles_active: Handles issued to callers
//   - cachepool_pool_handles_idle: Idle handles
//   - cachepool_pool_acquire_total: Total acquire attempts
//   - cachepool_pool_acquire_success_total: Successful acquires
//   - cachepool_pool_acquire_failed_total: Failed acquires
//   - cachepool_pool_release_total: Total releases
//   - cachepool_pool_created_total: Handles created
//   - cachepool_pool_destroyed_total: Handles destroyed
//   - cachepool_pool_evicted_total: Idle handles evicted
//   - cachepool_pool_validation_fails_total: Validation failures
//   - cachepool_pool_acquire_duration_seconds: Acquire latency
package pool
