package miclease

import (
	"errors"
	"testing"
)

func TestAcquireIsExclusive(t *testing.T) {
	l := New()
	if err := l.Acquire("capture"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l.Acquire("live"); !errors.Is(err, ErrHeld) {
		t.Fatalf("second Acquire() error = %v, want ErrHeld", err)
	}
	if l.Owner() != "capture" {
		t.Errorf("Owner() = %q, want capture", l.Owner())
	}

	l.Release("capture")
	if err := l.Acquire("live"); err != nil {
		t.Fatalf("Acquire() after Release error = %v", err)
	}
	if l.Owner() != "live" {
		t.Errorf("Owner() = %q, want live", l.Owner())
	}
}

func TestReleaseIsOwnerChecked(t *testing.T) {
	l := New()
	if err := l.Acquire("live"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// A stale release from a previous holder must not free the lease.
	l.Release("capture")
	if l.Owner() != "live" {
		t.Fatalf("Owner() = %q, stale release must not free the lease", l.Owner())
	}

	// Double release by the real owner after handover is a no-op too.
	l.Release("live")
	if err := l.Acquire("capture"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	l.Release("live")
	if l.Owner() != "capture" {
		t.Fatalf("Owner() = %q, want capture to keep the lease", l.Owner())
	}
}
