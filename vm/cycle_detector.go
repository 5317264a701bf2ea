package vm

import (
	"errors"
	"time"

	"github.com/tliron/commonlog"
)

var gcLog = commonlog.GetLogger("vela.gc")

// ---------------------------------------------------------------------------
// CycleDetector: mark-and-sweep over the live graph
// ---------------------------------------------------------------------------

// CycleStats are the detector's cumulative statistics.
type CycleStats struct {
	CycleCheckCount uint64
	CyclesDetected  uint64 // unreachable objects found in sweeps
	ObjectsFreed    uint64 // objects reclaimed, including cascade frees
}

// CycleDetector reclaims reference cycles that pure ARC cannot free because
// every member keeps the others alive. It marks everything reachable from
// caller-supplied roots, then force-frees any live object the mark never
// reached.
//
// Detection is synchronous and stop-the-interpreter: the VM triggers it
// between bytecode instructions, never from inside a release cascade. A
// reentrant invocation fails with ErrCollectorBusy.
type CycleDetector struct {
	heap *Heap
	arc  *ARCManager

	threshold   int
	allocations int
	due         bool
	collecting  bool

	stats CycleStats
}

// DefaultCycleCheckThreshold is the allocation count between cycle-check
// signals when no tuning config overrides it.
const DefaultCycleCheckThreshold = 256

// NewCycleDetector creates a detector over heap and arc that signals a
// check every threshold allocations. A threshold <= 0 uses the default.
func NewCycleDetector(heap *Heap, arc *ARCManager, threshold int) *CycleDetector {
	if threshold <= 0 {
		threshold = DefaultCycleCheckThreshold
	}
	return &CycleDetector{
		heap:      heap,
		arc:       arc,
		threshold: threshold,
	}
}

// RecordAllocation counts one allocation toward the threshold. When the
// counter reaches the threshold it resets and the check-due flag is raised;
// the VM decides when to actually run DetectCycles at a safe point.
func (d *CycleDetector) RecordAllocation() {
	d.allocations++
	if d.allocations >= d.threshold {
		d.allocations = 0
		d.due = true
	}
}

// CheckDue reports whether enough allocations have happened since the last
// check. The flag stays raised until DetectCycles runs.
func (d *CycleDetector) CheckDue() bool {
	return d.due
}

// Threshold returns the allocation-count trigger.
func (d *CycleDetector) Threshold() int { return d.threshold }

// Stats returns the cumulative detector statistics.
func (d *CycleDetector) Stats() CycleStats { return d.stats }

// ---------------------------------------------------------------------------
// Detection
// ---------------------------------------------------------------------------

// DetectCycles marks every object reachable from roots (stack values,
// globals, local slots of active frames), then force-frees any live object
// the mark did not reach: such an object has refCount > 0 from intra-cycle
// references alone. Returns the number of objects freed.
//
// Marked-reachable objects are never collected. Self-references and mutual
// references are ordinary edges; the pass is O(V+E) for mark plus O(N) for
// sweep over live objects.
func (d *CycleDetector) DetectCycles(roots []Value) (int, error) {
	if d.collecting {
		return 0, ErrCollectorBusy
	}
	d.collecting = true
	defer func() { d.collecting = false }()

	start := time.Now()
	d.stats.CycleCheckCount++
	d.due = false
	d.allocations = 0

	d.mark(roots)

	// Sweep: any live, unmarked object is reachable only through a cycle
	// with no external root.
	var unreachable []Ref
	for _, ref := range d.heap.liveRefs() {
		if !d.heap.slot(ref).marked {
			unreachable = append(unreachable, ref)
		}
	}

	liveBefore := d.heap.LiveObjects()

	var err error
	if len(unreachable) > 0 {
		d.arc.beginCycleTeardown()
		for _, ref := range unreachable {
			if fErr := d.arc.forceFree(ref); fErr != nil {
				err = errors.Join(err, fErr)
			}
		}
		d.arc.endCycleTeardown()
	}

	freed := liveBefore - d.heap.LiveObjects()
	d.stats.CyclesDetected += uint64(len(unreachable))
	d.stats.ObjectsFreed += uint64(freed)

	if freed > 0 {
		gcLog.Infof("cycle check #%d: freed %d of %d unreachable objects in %s (%d live)",
			d.stats.CycleCheckCount, freed, len(unreachable),
			time.Since(start), d.heap.LiveObjects())
	}
	return freed, err
}

// mark walks the reachable graph from roots, following the same
// child-enumeration rules the free path uses. The worklist is explicit so
// arbitrarily deep ownership chains cannot overflow the Go stack.
func (d *CycleDetector) mark(roots []Value) {
	d.heap.clearMarks()

	var work []Ref
	for _, v := range roots {
		if v.IsObject() {
			work = append(work, v.Ref())
		}
	}

	for len(work) > 0 {
		ref := work[len(work)-1]
		work = work[:len(work)-1]

		s := d.heap.slot(ref)
		if s == nil || s.marked {
			continue
		}
		s.marked = true

		s.payload.eachChild(func(v Value) {
			if v.IsObject() {
				work = append(work, v.Ref())
			}
		})
	}
}
