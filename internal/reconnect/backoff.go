package reconnect

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/acolita/sshkeeper/internal/ports"
)

// Fallbacks used when neither the connection nor the settings source supply
// a positive value.
const (
	DefaultMaxAttempts   = 5
	DefaultBackoffFactor = 2.0
	DefaultInitialDelay  = time.Second
	DefaultMaxDelay      = 60 * time.Second
	DefaultTimeout       = 30 * time.Second
)

// CalculateBackoffDelay returns the wait before the next attempt.
//
//	base   = initial * factor^attempt
//	jitter = base * 0.5 * jitter01
//	delay  = min(base + jitter, maxDelay)
//
// jitter01 must be in [0, 1). Values outside that range are clamped.
func CalculateBackoffDelay(attempt int, initial time.Duration, factor float64, maxDelay time.Duration, jitter01 float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if jitter01 < 0 {
		jitter01 = 0
	} else if jitter01 >= 1 {
		jitter01 = math.Nextafter(1, 0)
	}

	base := float64(initial) * math.Pow(factor, float64(attempt))
	delay := base + base*0.5*jitter01
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay >= float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(delay)
}

// jitterFraction draws a uniform value in [0, 1) from r. A read failure
// yields 0, i.e. no jitter.
func jitterFraction(r ports.Random) float64 {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0
	}
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
}
