package vm

import (
	"sort"

	"github.com/tliron/commonlog"
)

var heapLog = commonlog.GetLogger("vela.heap")

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

// ARCStats is a point-in-time snapshot of the memory subsystem's counters.
type ARCStats struct {
	TotalRetains     uint64
	TotalReleases    uint64
	TotalFrees       uint64
	TotalAllocations uint64

	LiveObjects     int
	PeakLiveObjects int
	BytesLive       int64
	BytesAllocated  int64
	BytesFreed      int64

	CycleCheckCount uint64
	CyclesDetected  uint64
	CycleFrees      uint64

	// LeakedObjects is populated by FindLeaks, never by the hot path.
	LeakedObjects int
}

// ---------------------------------------------------------------------------
// Leak diagnostics
// ---------------------------------------------------------------------------

// LeakRecord describes one leaked object.
type LeakRecord struct {
	Ref      Ref
	Kind     Kind
	RefCount int
	Size     int
}

// LeakReport is a census of objects still alive with refCount > 0 but
// unreachable from any supplied root — e.g. at shutdown, when the detector
// never got to run. Leaks are diagnostic only: they are reported through
// statistics and logging, never as errors.
type LeakReport struct {
	Total   int
	ByKind  map[string]int
	Objects []LeakRecord
}

// FindLeaks marks from roots and returns a census of live objects the mark
// never reached. Weak sentinels are skipped: they are not owned by anyone
// by construction. The report is also recorded in the stats snapshot.
func (m *Memory) FindLeaks(roots []Value) *LeakReport {
	m.Cycles.mark(roots)

	report := &LeakReport{ByKind: make(map[string]int)}
	m.Heap.ForEachLive(func(info ObjectInfo) {
		s := m.Heap.slot(info.Ref)
		if s.marked || s.isWeak || s.refCount <= 0 {
			return
		}
		report.Total++
		report.ByKind[info.Kind.String()]++
		report.Objects = append(report.Objects, LeakRecord{
			Ref:      info.Ref,
			Kind:     info.Kind,
			RefCount: info.RefCount,
			Size:     info.Size,
		})
	})

	m.leakedObjects = report.Total

	if report.Total > 0 && m.opts.LogLeaks {
		kinds := make([]string, 0, len(report.ByKind))
		for k := range report.ByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			heapLog.Warningf("leak: %d %s object(s) still alive with no root", report.ByKind[k], k)
		}
		heapLog.Warningf("leak census: %d object(s) total", report.Total)
	}
	return report
}
