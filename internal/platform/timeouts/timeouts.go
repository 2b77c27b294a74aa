// Package timeouts defines shared timeout constants used across castsync
// processes.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing the daemon.
const GRPCDial = 2 * time.Second

// HealthCheck caps a single gRPC health probe.
const HealthCheck = time.Second

// Shutdown limits how long a process waits for in-flight work and span flushes
// during graceful shutdown.
const Shutdown = 5 * time.Second
