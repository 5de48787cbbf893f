package diagnostics

import (
	"testing"
	"time"
)

func TestTakeSnapshot(t *testing.T) {
	m := NewResourceMonitor(time.Second, 80, 1000, 512, 10, nil)

	s := m.TakeSnapshot()
	if s.Goroutines <= 0 {
		t.Errorf("goroutines = %d, want > 0", s.Goroutines)
	}
	if s.HeapAllocMB <= 0 {
		t.Errorf("heap alloc = %f MB, want > 0", s.HeapAllocMB)
	}
	if s.Timestamp.IsZero() {
		t.Error("snapshot timestamp is zero")
	}
}

func TestRunCounters(t *testing.T) {
	m := NewResourceMonitor(time.Second, 0, 0, 0, 10, nil)

	m.RunStarted()
	m.RunStarted()
	m.RunFinished()

	s := m.TakeSnapshot()
	if s.RunsStarted != 2 {
		t.Errorf("runs started = %d, want 2", s.RunsStarted)
	}
	if s.RunsActive != 1 {
		t.Errorf("runs active = %d, want 1", s.RunsActive)
	}
}

func TestHistoryTrimsToSize(t *testing.T) {
	m := NewResourceMonitor(time.Second, 0, 0, 0, 3, nil)

	for i := 0; i < 5; i++ {
		m.recordSnapshot(m.TakeSnapshot())
	}

	if got := len(m.GetHistory()); got != 3 {
		t.Errorf("history length = %d, want 3", got)
	}
}

func TestGetLatest(t *testing.T) {
	m := NewResourceMonitor(time.Second, 0, 0, 0, 10, nil)

	if _, ok := m.GetLatest(); ok {
		t.Error("empty monitor should report no latest snapshot")
	}

	m.recordSnapshot(m.TakeSnapshot())
	if _, ok := m.GetLatest(); !ok {
		t.Error("latest snapshot missing after record")
	}
}

func TestCheckHealth_GoroutineThreshold(t *testing.T) {
	// Threshold of 1 is always exceeded by a running test binary.
	m := NewResourceMonitor(time.Second, 0, 1, 0, 10, nil)
	m.recordSnapshot(m.TakeSnapshot())

	warnings := m.CheckHealth()
	found := false
	for _, w := range warnings {
		if w.Type == "goroutine" {
			found = true
			if w.Level != "warning" && w.Level != "critical" {
				t.Errorf("unexpected level %q", w.Level)
			}
		}
	}
	if !found {
		t.Error("expected a goroutine warning")
	}
}

func TestCheckHealth_NoThresholds(t *testing.T) {
	m := NewResourceMonitor(time.Second, 0, 0, 0, 10, nil)
	m.recordSnapshot(m.TakeSnapshot())

	if warnings := m.CheckHealth(); len(warnings) != 0 {
		t.Errorf("got %d warnings with thresholds disabled", len(warnings))
	}
}

func TestGetTrend_ShortHistoryIsHealthy(t *testing.T) {
	m := NewResourceMonitor(time.Second, 0, 0, 0, 10, nil)

	trend := m.GetTrend()
	if !trend.IsHealthy {
		t.Error("trend with no history should be healthy")
	}

	m.recordSnapshot(m.TakeSnapshot())
	m.recordSnapshot(m.TakeSnapshot())
	// Two snapshots a few microseconds apart are below the trend window.
	if trend := m.GetTrend(); !trend.IsHealthy {
		t.Error("trend inside minimum window should be healthy")
	}
}

func TestStop_Idempotent(t *testing.T) {
	m := NewResourceMonitor(time.Second, 0, 0, 0, 10, nil)
	m.Stop()
	m.Stop() // must not panic on second call
}
