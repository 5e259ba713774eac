package traffic

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestTracker_Snapshot(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(clock.Now)

	tr.RecordN(OutcomeSuccess, 3)
	tr.Record(OutcomeError)
	tr.Record(OutcomeDenied)

	got := tr.Snapshot(time.Minute)
	want := Counts{Success: 3, Errors: 1, Denied: 1}
	if got != want {
		t.Fatalf("Snapshot() = %+v, want %+v", got, want)
	}
	if got.Total() != 5 {
		t.Errorf("Total() = %d, want 5", got.Total())
	}
	if pct := got.ErrorPct(); pct != 25 {
		t.Errorf("ErrorPct() = %v, want 25", pct)
	}
}

// TestTracker_WindowExcludesOldEvents verifies that outcomes older than the window
// are not counted and that retention pruning drops them entirely.
func TestTracker_WindowExcludesOldEvents(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(clock.Now)

	tr.Record(OutcomeError)
	clock.Advance(2 * time.Minute)
	tr.Record(OutcomeSuccess)

	if got := tr.Snapshot(time.Minute); got.Errors != 0 || got.Success != 1 {
		t.Errorf("Snapshot(1m) = %+v, want only the recent success", got)
	}
	if got := tr.Snapshot(5 * time.Minute); got.Errors != 1 {
		t.Errorf("Snapshot(5m).Errors = %d, want 1", got.Errors)
	}

	clock.Advance(retention + time.Minute)
	if got := tr.Snapshot(24 * time.Hour); got.Total() != 0 {
		t.Errorf("Snapshot after retention = %+v, want empty", got)
	}
}

func TestCounts_ErrorPct_NoTraffic(t *testing.T) {
	if pct := (Counts{Denied: 10}).ErrorPct(); pct != 0 {
		t.Errorf("ErrorPct() with only denials = %v, want 0", pct)
	}
}

func TestTracker_ConcurrentRecord(t *testing.T) {
	tr := NewTracker(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record(OutcomeSuccess)
		}()
	}
	wg.Wait()
	if got := tr.Snapshot(time.Minute).Success; got != 20 {
		t.Errorf("Success = %d, want 20", got)
	}
	tr.Reset()
	if got := tr.Snapshot(time.Minute).Total(); got != 0 {
		t.Errorf("Total after Reset = %d, want 0", got)
	}
}
