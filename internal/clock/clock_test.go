package clock_test

import (
	"testing"
	"time"

	"pkt.systems/guestbookd/internal/clock"
)

func TestRealNowUsesUTC(t *testing.T) {
	t.Parallel()

	now := clock.Real{}.Now()
	if loc := now.Location(); loc != time.UTC {
		t.Fatalf("expected UTC location, got %v", loc)
	}
	if delta := time.Since(now); delta < 0 || delta > time.Second {
		t.Fatalf("unexpected Now delta: %v", delta)
	}
}

func TestRealAfterDeliversOnce(t *testing.T) {
	t.Parallel()

	ch := clock.Real{}.After(10 * time.Millisecond)
	select {
	case <-ch:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("After did not trigger within timeout")
	}
}

func TestRealSleepSleepsAtLeastDuration(t *testing.T) {
	t.Parallel()

	start := time.Now()
	clock.Real{}.Sleep(5 * time.Millisecond)
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Fatalf("sleep duration too short: %v", elapsed)
	}
}

func TestManualNowIsFixedUntilAdvanced(t *testing.T) {
	t.Parallel()

	start := time.UnixMilli(1_000_000).UTC()
	clk := clock.NewManual(start)
	if got := clk.Now(); !got.Equal(start) {
		t.Fatalf("Now = %v, want %v", got, start)
	}
	if got := clk.Now(); !got.Equal(start) {
		t.Fatalf("Now drifted without Advance: %v", got)
	}
	after := clk.Advance(3 * time.Second)
	if want := start.Add(3 * time.Second); !after.Equal(want) {
		t.Fatalf("Advance returned %v, want %v", after, want)
	}
	if got := clk.Now(); !got.Equal(start.Add(3 * time.Second)) {
		t.Fatalf("Now after Advance = %v", got)
	}
}

func TestManualAfterFiresOnAdvance(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.UnixMilli(0))
	ch := clk.After(10 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired before Advance")
	default:
	}
	if got := clk.Pending(); got != 1 {
		t.Fatalf("Pending = %d, want 1", got)
	}
	clk.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired before due time")
	default:
	}
	clk.Advance(time.Second)
	select {
	case at := <-ch:
		if want := time.UnixMilli(0).UTC().Add(10 * time.Second); !at.Equal(want) {
			t.Fatalf("fired at %v, want %v", at, want)
		}
	default:
		t.Fatal("timer did not fire at due time")
	}
	if got := clk.Pending(); got != 0 {
		t.Fatalf("Pending after fire = %d, want 0", got)
	}
}

func TestManualAfterNonPositiveFiresImmediately(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(time.UnixMilli(0))
	select {
	case <-clk.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}
