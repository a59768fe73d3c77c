// Package fakenotifier provides a recording ports.Notifier for testing.
package fakenotifier

import (
	"context"
	"sync"
	"time"

	"github.com/acolita/sshkeeper/internal/ports"
)

// Notifier records every notification and answers with a scripted action.
type Notifier struct {
	mu       sync.Mutex
	received []ports.Notification
	respond  func(n ports.Notification) string
	err      error
}

// New returns a notifier that answers "" to everything.
func New() *Notifier {
	return &Notifier{}
}

// SetResponder sets a function that picks the action for each notification.
func (n *Notifier) SetResponder(fn func(ports.Notification) string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.respond = fn
}

// SetError makes Notify fail with err.
func (n *Notifier) SetError(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Notify implements ports.Notifier.
func (n *Notifier) Notify(ctx context.Context, note ports.Notification) (string, error) {
	n.mu.Lock()
	n.received = append(n.received, note)
	respond, err := n.respond, n.err
	n.mu.Unlock()

	if err != nil {
		return "", err
	}
	if respond == nil {
		return "", nil
	}
	return respond(note), nil
}

// Notifications returns what was received so far.
func (n *Notifier) Notifications() []ports.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ports.Notification(nil), n.received...)
}

// Count returns how many notifications were received.
func (n *Notifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.received)
}

// WaitFor polls (in real time, up to timeout) until pred matches a received
// notification. Notifications are delivered asynchronously by the engine.
func (n *Notifier) WaitFor(pred func(ports.Notification) bool, timeout time.Duration) (ports.Notification, bool) {
	deadline := time.Now().Add(timeout)
	for {
		for _, note := range n.Notifications() {
			if pred(note) {
				return note, true
			}
		}
		if time.Now().After(deadline) {
			return ports.Notification{}, false
		}
		time.Sleep(time.Millisecond)
	}
}

// Ensure Notifier implements ports.Notifier.
var _ ports.Notifier = (*Notifier)(nil)
