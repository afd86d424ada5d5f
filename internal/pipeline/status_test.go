package pipeline

import (
	"errors"
	"testing"
	"time"
)

func TestTrackerLifecycle(t *testing.T) {
	clock := time.Date(2025, 11, 30, 9, 0, 0, 0, time.UTC)
	tr := NewTracker(func() time.Time { return clock })

	if got := tr.Snapshot().State(); got != "idle" {
		t.Fatalf("initial state = %q", got)
	}
	if !tr.TryStart("2025-11-30") {
		t.Fatalf("first start rejected")
	}
	if tr.TryStart("2025-11-30") {
		t.Fatalf("second start accepted while running")
	}
	st := tr.Snapshot()
	if !st.IsRunning || st.State() != "running" || st.LastStartTime == nil || st.LastEndTime != nil {
		t.Fatalf("unexpected running status: %+v", st)
	}

	clock = clock.Add(time.Minute)
	tr.Finish("", errors.New("navigate: timeout"))
	st = tr.Snapshot()
	if st.IsRunning || st.State() != "failed" {
		t.Fatalf("expected failed, got %+v", st)
	}
	if st.LastError == nil || *st.LastError != "navigate: timeout" || st.LastFilePath != nil {
		t.Fatalf("failure not recorded: %+v", st)
	}
	if !st.LastEndTime.Equal(clock) {
		t.Fatalf("end time = %v", st.LastEndTime)
	}

	if !tr.TryStart("2025-11-30") {
		t.Fatalf("start after terminal state rejected")
	}
	tr.Finish("/data/2025-11-30/original_chart.png", nil)
	st = tr.Snapshot()
	if st.State() != "succeeded" || st.LastError != nil || *st.LastFilePath != "/data/2025-11-30/original_chart.png" {
		t.Fatalf("success not recorded: %+v", st)
	}
}

func TestTrackerSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(nil)
	tr.TryStart("2025-11-30")
	tr.Finish("a.png", nil)

	st := tr.Snapshot()
	*st.LastFilePath = "mutated"
	if got := *tr.Snapshot().LastFilePath; got != "a.png" {
		t.Fatalf("snapshot aliases tracker state: %q", got)
	}
}
