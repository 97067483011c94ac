package common

import (
	"errors"
	"testing"
)

func TestGuardNilView(t *testing.T) {
	if err := Guard(nil, "lending"); err != nil {
		t.Fatalf("expected nil view to allow, got %v", err)
	}
	var set *PauseSet
	if set.IsPaused("lending") {
		t.Fatalf("nil pause set reported paused")
	}
}

func TestPauseSetScopes(t *testing.T) {
	set := NewPauseSet("lending/ETH/borrow")

	if err := GuardAny(set, "lending", "lending/ETH", "lending/ETH/supply"); err != nil {
		t.Fatalf("supply should be allowed: %v", err)
	}
	if err := GuardAny(set, "lending", "lending/ETH", "lending/ETH/borrow"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}

	set.Set("/lending/", true)
	if err := Guard(set, "lending"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected module-wide pause, got %v", err)
	}
	if got := set.Paused(); len(got) != 2 || got[0] != "lending" {
		t.Fatalf("unexpected paused scopes %v", got)
	}

	set.Set("lending", false)
	set.Set("lending/ETH/borrow", false)
	if len(set.Paused()) != 0 {
		t.Fatalf("expected no paused scopes, got %v", set.Paused())
	}
}
