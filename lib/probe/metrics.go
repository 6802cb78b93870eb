package probe

import "github.com/go-i2p/cachepool/lib/metrics"

var (
	// ProbeRunsTotal is the number of completed probe runs.
	ProbeRunsTotal = metrics.NewCounter(
		"cachepool_probe_runs_total",
		"Total number of probe runs",
	)
	// ProbeAttemptsTotal is the number of probe operations issued.
	ProbeAttemptsTotal = metrics.NewCounter(
		"cachepool_probe_attempts_total",
		"Total number of probe operations issued",
	)
	// ProbeFailuresTotal is the number of probe operations that failed.
	ProbeFailuresTotal = metrics.NewCounter(
		"cachepool_probe_failures_total",
		"Total number of failed probe operations",
	)
	// ProbeSkippedTotal is the number of addresses skipped during runs.
	ProbeSkippedTotal = metrics.NewCounter(
		"cachepool_probe_skipped_total",
		"Total number of addresses skipped during probe runs",
	)
	// ProbeRunDuration tracks how long a probe run takes.
	ProbeRunDuration = metrics.NewHistogram(
		"cachepool_probe_run_duration_seconds",
		"Duration of probe runs",
		metrics.DefaultLatencyBuckets,
	)
	// ProbeNodeState is the last probe State per address.
	ProbeNodeState = metrics.NewGaugeVec(
		"cachepool_probe_node_state",
		"Last probe state per address (0=idle, 1=probing, 2=succeeded, 3=skipped)",
		"address",
	)
)
