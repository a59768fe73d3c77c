package connection

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a connection.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
	Reconnecting
	Error
)

// String returns the lower-case name used in snapshots and tool output.
func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// ParseStatus is the inverse of String.
func ParseStatus(s string) (Status, bool) {
	for st := Disconnected; st <= Error; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return Disconnected, false
}

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrClosed is returned when a status change targets a closed connection.
var ErrClosed = errors.New("connection closed")

var allowed = map[Status][]Status{
	Disconnected: {Connecting, Reconnecting},
	Connecting:   {Connected, Error, Disconnected},
	Connected:    {Disconnected, Reconnecting, Error},
	Reconnecting: {Connected, Error, Disconnected},
	Error:        {Reconnecting, Connecting, Disconnected},
}

// CanTransition reports whether from → to is permitted. Same-state is
// always permitted.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

const transitionBufferSize = 50

// Transition records one status change.
type Transition struct {
	From   Status
	To     Status
	At     time.Time
	Reason string
}

// history is a fixed-size ring of transitions.
type history struct {
	entries [transitionBufferSize]Transition
	head    int
	count   int
}

func (h *history) record(t Transition) {
	h.entries[h.head] = t
	h.head = (h.head + 1) % transitionBufferSize
	if h.count < transitionBufferSize {
		h.count++
	}
}

// list returns the transitions oldest first.
func (h *history) list() []Transition {
	if h.count == 0 {
		return nil
	}
	out := make([]Transition, h.count)
	if h.count < transitionBufferSize {
		copy(out, h.entries[:h.count])
	} else {
		n := copy(out, h.entries[h.head:])
		copy(out[n:], h.entries[:h.head])
	}
	return out
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(b []byte) error {
	st, ok := ParseStatus(string(b))
	if !ok {
		return fmt.Errorf("unknown connection status %q", string(b))
	}
	*s = st
	return nil
}
