package reconnect

import (
	"context"
	"sync"
	"time"

	"github.com/acolita/sshkeeper/internal/ports"
)

// Delay is a clearable wait handle. One Delay belongs to one reconnection
// loop; cancelling it is sticky.
type Delay struct {
	clock     ports.Clock
	once      sync.Once
	cancelled chan struct{}
}

// NewDelay returns a Delay driven by clock.
func NewDelay(clock ports.Clock) *Delay {
	return &Delay{
		clock:     clock,
		cancelled: make(chan struct{}),
	}
}

// Wait blocks until d has elapsed on the clock, the delay is cancelled, or
// ctx is done. It returns nil, ErrReconnectCancelled or ctx.Err() accordingly.
func (d *Delay) Wait(ctx context.Context, dur time.Duration) error {
	select {
	case <-d.cancelled:
		return ErrReconnectCancelled
	default:
	}

	timer := d.clock.After(dur)
	select {
	case <-timer:
		return nil
	case <-d.cancelled:
		return ErrReconnectCancelled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel wakes any pending Wait. Safe to call more than once.
func (d *Delay) Cancel() {
	d.once.Do(func() { close(d.cancelled) })
}

// Cancelled reports whether Cancel has been called.
func (d *Delay) Cancelled() bool {
	select {
	case <-d.cancelled:
		return true
	default:
		return false
	}
}
