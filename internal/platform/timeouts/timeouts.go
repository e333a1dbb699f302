// Package timeouts defines shared timeout constants used across the
// territory service binaries. Centralizing them keeps the durations from
// drifting between the runtime and the operator tooling.
package timeouts

import "time"

// Settlement caps the time allowed for settling a single challenge,
// including the ledger payouts that follow the settlement transaction.
const Settlement = 30 * time.Second

// Sweep caps one full sweeper pass across due challenges and lapsed
// controls.
const Sweep = 5 * time.Minute

// Maintenance bounds a maintenance tool invocation end to end.
const Maintenance = 10 * time.Minute

// Shutdown limits how long the runtime waits for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second
