package testutil

import (
	"strings"
	"testing"
	"time"
)

func TestFakeClock_AdvanceFiresDueTimers(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	short := clock.NewTimer(time.Second)
	long := clock.NewTimer(time.Minute)

	clock.Advance(2 * time.Second)

	select {
	case at := <-short.C():
		if !at.Equal(start.Add(time.Second)) {
			t.Errorf("fired at %v, want deadline", at)
		}
	default:
		t.Fatal("short timer should have fired")
	}

	select {
	case <-long.C():
		t.Fatal("long timer fired early")
	default:
	}

	if got := clock.PendingTimers(); got != 1 {
		t.Errorf("PendingTimers = %d, want 1", got)
	}
}

func TestFakeClock_StopPreventsFire(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	timer := clock.NewTimer(time.Second)

	if !timer.Stop() {
		t.Fatal("Stop on an armed timer should report true")
	}
	if timer.Stop() {
		t.Fatal("second Stop should report false")
	}

	clock.Advance(time.Hour)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestFakeClock_ZeroDurationFiresImmediately(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	timer := clock.NewTimer(0)
	select {
	case <-timer.C():
	default:
		t.Fatal("zero-duration timer should fire immediately")
	}
}

func TestScrubAll(t *testing.T) {
	in := `{"pid": 4242, "run_id": "0b7c1c55-4f0e-4a3c-9f55-1a2b3c4d5e6f", "at": "2026-01-01T10:00:00Z"}`
	out := ScrubAll(in, "/tmp/x")
	for _, want := range []string{`"pid": [PID]`, "[UUID]", "[TIMESTAMP]"} {
		if !strings.Contains(out, want) {
			t.Errorf("ScrubAll(...) = %q, missing %q", out, want)
		}
	}
}
