package constants

import "time"

const (
	// DefaultSendInterval is the telemetry dispatch period.
	DefaultSendInterval = 5 * time.Second

	// DefaultStartupDelay gives the host's wireless hardware time to come up
	// before any subsystem starts.
	DefaultStartupDelay = 5 * time.Second

	// DefaultBrokerRetryInterval drives broker reconnect attempts.
	DefaultBrokerRetryInterval = 3 * time.Second

	// DefaultDiscoveryStagger spaces out per-identity discovery requests so
	// the scan subsystem is not hit with concurrent filtered scans.
	DefaultDiscoveryStagger = 3 * time.Second

	// DefaultDiscoveryRestart is the period of the discovery restart cycle.
	DefaultDiscoveryRestart = 6 * time.Second

	// DefaultDiscoveryCooldown lets the transport settle between stopping
	// discovery and re-issuing requests.
	DefaultDiscoveryCooldown = 5 * time.Second

	// DefaultConnectTimeout bounds a single connect+setup attempt.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultShutdownTimeout bounds best-effort teardown calls so a stuck
	// transport cannot hang the shutdown path.
	DefaultShutdownTimeout = 5 * time.Second

	// DefaultMetricsInterval is the gateway metrics collection period.
	DefaultMetricsInterval = 60 * time.Second

	// DefaultMetricsTimeout bounds one metrics collection pass.
	DefaultMetricsTimeout = 10 * time.Second
)
