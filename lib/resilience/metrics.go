package resilience

import (
	"github.com/go-i2p/cachepool/lib/metrics"
)

var (
	// BreakerState tracks the state of the connection breaker.
	// 0 = closed, 1 = open, 2 = half-open
	BreakerState = metrics.NewGauge(
		"cachepool_connect_breaker_state",
		"Current state of the connection breaker (0=closed, 1=open, 2=half-open)",
	)

	// BreakerTrips counts how often the breaker opened.
	BreakerTrips = metrics.NewCounter(
		"cachepool_connect_breaker_trips_total",
		"Total number of times the connection breaker opened",
	)

	// BreakerRejections counts calls rejected while open.
	BreakerRejections = metrics.NewCounter(
		"cachepool_connect_breaker_rejections_total",
		"Total connection attempts rejected by the open breaker",
	)
)
