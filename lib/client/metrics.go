package client

import "github.com/go-i2p/cachepool/lib/metrics"

var (
	// ClientConnectTotal is the number of delegate connection attempts.
	ClientConnectTotal = metrics.NewCounter(
		"cachepool_client_connect_total",
		"Total number of cache client connection attempts",
	)
	// ClientConnectFailedTotal is the number of failed connection attempts.
	ClientConnectFailedTotal = metrics.NewCounter(
		"cachepool_client_connect_failed_total",
		"Total number of failed cache client connection attempts",
	)
	// ClientConnectLatency tracks time spent establishing delegates.
	ClientConnectLatency = metrics.NewHistogram(
		"cachepool_client_connect_duration_seconds",
		"Time spent connecting a cache client",
		metrics.DefaultLatencyBuckets,
	)
)
