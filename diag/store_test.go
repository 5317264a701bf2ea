package diag

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/velalang/vela/vm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "diag.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndQueryCycleChecks(t *testing.T) {
	s := openTestStore(t)

	recs := []CycleCheckRecord{
		{LiveObjects: 100, CyclesDetected: 0, ObjectsFreed: 0, Duration: 40 * time.Microsecond},
		{LiveObjects: 90, CyclesDetected: 2, ObjectsFreed: 10, Duration: 120 * time.Microsecond},
	}
	for _, rec := range recs {
		if err := s.RecordCycleCheck(rec); err != nil {
			t.Fatalf("RecordCycleCheck: %v", err)
		}
	}

	got, err := s.RecentCycleChecks(10)
	if err != nil {
		t.Fatalf("RecentCycleChecks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// Newest first.
	if got[0].ObjectsFreed != 10 || got[1].ObjectsFreed != 0 {
		t.Errorf("rows out of order: %+v", got)
	}
	if got[0].Duration != 120*time.Microsecond {
		t.Errorf("Duration = %v, want 120µs", got[0].Duration)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp should be set on insert")
	}
}

func TestRecentCycleChecksHonorsLimit(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		s.RecordCycleCheck(CycleCheckRecord{LiveObjects: i})
	}
	got, err := s.RecentCycleChecks(3)
	if err != nil {
		t.Fatalf("RecentCycleChecks: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
	if got[0].LiveObjects != 4 {
		t.Errorf("newest row LiveObjects = %d, want 4", got[0].LiveObjects)
	}
}

func TestRecordLeakReport(t *testing.T) {
	s := openTestStore(t)

	report := &vm.LeakReport{
		Total:  3,
		ByKind: map[string]int{"String": 2, "List": 1},
	}
	if err := s.RecordLeakReport(report); err != nil {
		t.Fatalf("RecordLeakReport: %v", err)
	}
	if err := s.RecordLeakReport(&vm.LeakReport{ByKind: map[string]int{}}); err != nil {
		t.Fatalf("RecordLeakReport(empty): %v", err)
	}

	n, err := s.LeakReportCount()
	if err != nil {
		t.Fatalf("LeakReportCount: %v", err)
	}
	if n != 2 {
		t.Errorf("LeakReportCount = %d, want 2", n)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diag.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.RecordCycleCheck(CycleCheckRecord{LiveObjects: 42})
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.RecentCycleChecks(1)
	if err != nil {
		t.Fatalf("RecentCycleChecks: %v", err)
	}
	if len(got) != 1 || got[0].LiveObjects != 42 {
		t.Errorf("history did not persist across reopen: %+v", got)
	}
}
