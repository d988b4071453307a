package peer

import (
	"testing"
	"time"
)

// TestLoadTrackerReportsBusyFraction matches spec.md §4.6's per-worker
// load metric: a tracker that spends 40ms of a roughly 140ms tick window
// inside Track should report a per-mille figure in that ballpark, not zero
// and not saturated.
func TestLoadTrackerReportsBusyFraction(t *testing.T) {
	lt := newLoadTracker(nil)
	lt.lastTick = time.Now().Add(-100 * time.Millisecond)

	lt.Track(func() { time.Sleep(40 * time.Millisecond) })
	lt.tick()

	frac := lt.statusPermille()
	if frac <= 0 || frac >= 1000 {
		t.Fatalf("statusPermille() = %d, want a value in (0, 1000)", frac)
	}
}

func TestLoadTrackerClampsAtFull(t *testing.T) {
	lt := newLoadTracker(nil)

	// The window starts after the work, so 50ms of busy time lands in a
	// window of about 10ms.
	lt.Track(func() { time.Sleep(50 * time.Millisecond) })
	lt.lastTick = time.Now().Add(-10 * time.Millisecond)
	lt.tick()

	if got := lt.statusPermille(); got != 1000 {
		t.Fatalf("statusPermille() = %d, want 1000 (clamped)", got)
	}
}
