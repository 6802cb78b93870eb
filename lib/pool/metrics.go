package pool

import "github.com/go-i2p/cachepool/lib/metrics"

// Pool utilization metrics
var (
	// PoolHandlesMax is the configured MaxActive.
	PoolHandlesMax = metrics.NewGauge(
		"cachepool_pool_handles_max_active",
		"Configured maximum number of active handles",
	)
	// PoolHandlesActive is the number of handles issued to callers.
	PoolHandlesActive = metrics.NewGauge(
		"cachepool_pool_handles_active",
		"Current number of handles issued to callers",
	)
	// PoolHandlesIdle is the number of handles waiting in the pool.
	PoolHandlesIdle = metrics.NewGauge(
		"cachepool_pool_handles_idle",
		"Current number of idle handles in the pool",
	)
	// PoolAcquireTotal is the total number of acquire attempts.
	PoolAcquireTotal = metrics.NewCounter(
		"cachepool_pool_acquire_total",
		"Total number of handle acquire attempts",
	)
	// PoolAcquireSuccessTotal is the number of successful acquires.
	PoolAcquireSuccessTotal = metrics.NewCounter(
		"cachepool_pool_acquire_success_total",
		"Total number of successful handle acquires",
	)
	// PoolAcquireFailedTotal is the number of failed acquires.
	PoolAcquireFailedTotal = metrics.NewCounter(
		"cachepool_pool_acquire_failed_total",
		"Total number of failed handle acquires",
	)
	// PoolReleaseTotal is the number of releases.
	PoolReleaseTotal = metrics.NewCounter(
		"cachepool_pool_release_total",
		"Total number of handle releases",
	)
	// PoolCreatedTotal is the number of handles made by the factory.
	PoolCreatedTotal = metrics.NewCounter(
		"cachepool_pool_created_total",
		"Total number of handles created",
	)
	// PoolDestroyedTotal is the number of handles destroyed.
	PoolDestroyedTotal = metrics.NewCounter(
		"cachepool_pool_destroyed_total",
		"Total number of handles destroyed",
	)
	// PoolEvictedTotal is the number of idle handles removed by eviction runs.
	PoolEvictedTotal = metrics.NewCounter(
		"cachepool_pool_evicted_total",
		"Total number of idle handles evicted",
	)
	// PoolValidationFailsTotal is the number of validation failures.
	PoolValidationFailsTotal = metrics.NewCounter(
		"cachepool_pool_validation_fails_total",
		"Total number of handles that failed validation",
	)
	// PoolAcquireLatency tracks time spent acquiring handles.
	PoolAcquireLatency = metrics.NewHistogram(
		"cachepool_pool_acquire_duration_seconds",
		"Time spent acquiring a handle from the pool",
		metrics.DefaultLatencyBuckets,
	)
)

// UpdateMetrics updates the pool gauges from Stats.
func UpdateMetrics(stats Stats) {
	PoolHandlesMax.Set(int64(stats.MaxActive))
	PoolHandlesActive.Set(int64(stats.NumActive))
	PoolHandlesIdle.Set(int64(stats.NumIdle))
}
