// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long a server waits for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second

// PushAttempt caps a single delivery attempt to one channel. A slower
// channel must never delay fan-out to its siblings beyond this bound.
const PushAttempt = 3 * time.Second

// DirectoryLookup caps one account-directory resolution call.
const DirectoryLookup = 3 * time.Second

// Dispatch caps one full fan-out, covering every per-channel attempt.
const Dispatch = 10 * time.Second
