// Package miclease serializes access to the capture device. The
// microphone is exclusively owned by at most one capture flow at a
// time; a second acquire fails fast instead of sharing the device.
package miclease

import (
	"errors"
	"sync"
)

var ErrHeld = errors.New("microphone is already in use")

// Lease is a non-blocking single-owner lock with an owner label for
// error reporting.
type Lease struct {
	mu    sync.Mutex
	held  bool
	owner string
}

func New() *Lease { return &Lease{} }

// Acquire takes the lease for owner or fails fast if it is held.
func (l *Lease) Acquire(owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return ErrHeld
	}
	l.held = true
	l.owner = owner
	return nil
}

// Release frees the lease if owner still holds it. A release by a
// former owner must never free a lease someone else has since taken.
func (l *Lease) Release(owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held || l.owner != owner {
		return
	}
	l.held = false
	l.owner = ""
}

// Owner returns the current holder, or "" when free.
func (l *Lease) Owner() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}
