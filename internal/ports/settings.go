package ports

import "time"

// ReconnectSettings is the read-only configuration source for reconnection
// defaults. Implementations fall back to documented defaults for unset values.
type ReconnectSettings interface {
	ReconnectAttempts() int
	ReconnectBackoffFactor() float64
	ReconnectInitialDelay() time.Duration
	ReconnectMaxDelay() time.Duration
}
