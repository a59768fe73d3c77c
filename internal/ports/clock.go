// Package ports holds the interfaces the engine uses to reach the outside
// world: time, randomness, files, the network and the SSH session itself.
package ports

import "time"

// Clock is the only source of time for backoff waits, health-check ticks
// and timestamps, so tests can drive all three from a fake.
type Clock interface {
	Now() time.Time
	// After fires once, d after the call.
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of *time.Ticker the health loop needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}
