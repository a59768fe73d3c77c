package reconnect

import (
	"errors"
	"fmt"
	"time"

	"github.com/acolita/sshkeeper/internal/recovery"
)

var (
	// ErrReconnectCancelled is returned when a reconnection loop is cancelled
	// before it succeeds.
	ErrReconnectCancelled = errors.New("reconnection cancelled")

	// ErrReconnectTimeout is matched by TimeoutError.
	ErrReconnectTimeout = errors.New("reconnection timed out")
)

// TimeoutError reports that a time-bounded reconnection gave up. Classified
// holds the NetworkTimeout classification that was persisted.
type TimeoutError struct {
	ConnectionID string
	Timeout      time.Duration
	Classified   *recovery.ConnectionError
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: reconnection timed out after %s", e.ConnectionID, e.Timeout)
}

// Is makes errors.Is(err, ErrReconnectTimeout) hold.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrReconnectTimeout
}

// Unwrap exposes the classification.
func (e *TimeoutError) Unwrap() error {
	if e.Classified == nil {
		return nil
	}
	return e.Classified
}
