package security

import (
	"fmt"
	"sync"
	"time"

	"github.com/acolita/sshkeeper/internal/ports"
)

// Auth lockout defaults.
const (
	DefaultMaxAuthFailures     = 3
	DefaultAuthLockoutDuration = 5 * time.Minute
)

// AuthRateLimiter locks out user@host after repeated authentication
// failures so a wrong credential is not hammered against a server.
type AuthRateLimiter struct {
	mu              sync.Mutex
	clock           ports.Clock
	failures        map[string]*authFailure
	maxFailures     int
	lockoutDuration time.Duration
}

type authFailure struct {
	count     int
	firstFail time.Time
	lockedAt  time.Time
}

// NewAuthRateLimiter creates a limiter. Non-positive values use the defaults.
func NewAuthRateLimiter(clock ports.Clock, maxFailures int, lockoutDuration time.Duration) *AuthRateLimiter {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxAuthFailures
	}
	if lockoutDuration <= 0 {
		lockoutDuration = DefaultAuthLockoutDuration
	}
	return &AuthRateLimiter{
		clock:           clock,
		failures:        make(map[string]*authFailure),
		maxFailures:     maxFailures,
		lockoutDuration: lockoutDuration,
	}
}

func key(host, user string) string {
	return fmt.Sprintf("%s@%s", user, host)
}

// IsLocked reports whether user@host is locked and for how much longer.
func (r *AuthRateLimiter) IsLocked(host, user string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.failures[key(host, user)]
	if !ok || f.lockedAt.IsZero() {
		return false, 0
	}
	elapsed := r.clock.Now().Sub(f.lockedAt)
	if elapsed >= r.lockoutDuration {
		return false, 0
	}
	return true, r.lockoutDuration - elapsed
}

// RecordFailure counts an authentication failure for user@host.
func (r *AuthRateLimiter) RecordFailure(host, user string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	k := key(host, user)
	f, ok := r.failures[k]
	if !ok {
		f = &authFailure{firstFail: now}
		r.failures[k] = f
	}

	if !f.lockedAt.IsZero() && now.Sub(f.lockedAt) >= r.lockoutDuration {
		*f = authFailure{firstFail: now}
	}

	f.count++
	if f.count >= r.maxFailures && f.lockedAt.IsZero() {
		f.lockedAt = now
	}
}

// RecordSuccess clears the failure history for user@host.
func (r *AuthRateLimiter) RecordSuccess(host, user string) {
	r.mu.Lock()
	delete(r.failures, key(host, user))
	r.mu.Unlock()
}

// Cleanup drops expired lockouts and stale failure counts.
func (r *AuthRateLimiter) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	for k, f := range r.failures {
		if !f.lockedAt.IsZero() && now.Sub(f.lockedAt) >= r.lockoutDuration {
			delete(r.failures, k)
			continue
		}
		if now.Sub(f.firstFail) >= 2*r.lockoutDuration {
			delete(r.failures, k)
		}
	}
}
