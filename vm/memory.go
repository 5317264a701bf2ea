package vm

// ---------------------------------------------------------------------------
// Memory: the assembled memory subsystem
// ---------------------------------------------------------------------------

// Options tune a Memory instance. The zero value of each field selects the
// documented default.
type Options struct {
	// CycleCheckThreshold is the allocation count between cycle-check
	// signals. <= 0 selects DefaultCycleCheckThreshold.
	CycleCheckThreshold int

	// MaxObjects caps the live set. 0 means unlimited.
	MaxObjects int

	// MaxHeapBytes caps the live byte footprint. 0 means unlimited.
	MaxHeapBytes int64

	// LogLeaks enables logging of shutdown leak censuses.
	LogLeaks bool
}

// DefaultOptions returns the default tuning.
func DefaultOptions() Options {
	return Options{
		CycleCheckThreshold: DefaultCycleCheckThreshold,
		LogLeaks:            true,
	}
}

// Memory wires together the heap, the ARC manager, the weak-ref tracker,
// and the cycle detector for one interpreter. It is an explicit handle:
// multiple isolated VM instances can each own a Memory in the same process,
// and nothing in this package keeps ambient global state.
//
// A Memory assumes a single logical execution context. None of its
// operations are internally synchronized; concurrent mutation from multiple
// goroutines is a caller bug.
type Memory struct {
	Heap   *Heap
	ARC    *ARCManager
	Weak   *WeakRefTracker
	Cycles *CycleDetector

	opts          Options
	leakedObjects int
}

// NewMemory assembles a memory subsystem from the given options.
func NewMemory(opts Options) *Memory {
	heap := NewHeap(opts.MaxObjects, opts.MaxHeapBytes)
	weak := NewWeakRefTracker()
	arc := NewARCManager(heap, weak)
	cycles := NewCycleDetector(heap, arc, opts.CycleCheckThreshold)

	heap.SetAllocationHook(cycles.RecordAllocation)

	return &Memory{
		Heap:   heap,
		ARC:    arc,
		Weak:   weak,
		Cycles: cycles,
		opts:   opts,
	}
}

// ---------------------------------------------------------------------------
// VM-facing operations
// ---------------------------------------------------------------------------

// Retain increments the strong count of ref; no-op on weak sentinels.
func (m *Memory) Retain(ref Ref) error { return m.ARC.Retain(ref) }

// Release decrements the strong count of ref, freeing on the zero crossing.
func (m *Memory) Release(ref Ref) error { return m.ARC.Release(ref) }

// Autorelease defers the release of ref to the current pool drain.
func (m *Memory) Autorelease(ref Ref) error { return m.ARC.Autorelease(ref) }

// PushPool opens an autorelease pool; the VM pushes one per call frame.
func (m *Memory) PushPool() { m.ARC.PushPool() }

// DrainAutoreleasePool drains the current pool; must run at frame exit.
func (m *Memory) DrainAutoreleasePool() error { return m.ARC.DrainPool() }

// CreateWeakRef constructs a non-owning observer of ref.
func (m *Memory) CreateWeakRef(ref Ref) (*WeakRef, error) {
	return m.ARC.CreateWeakRef(ref)
}

// LockWeakRef transiently upgrades a weak ref; the caller must release the
// returned ref exactly once.
func (m *Memory) LockWeakRef(w *WeakRef) (Ref, bool) {
	return m.ARC.LockWeakRef(w)
}

// BoxWeakRef allocates a weak-sentinel heap object wrapping w, so a weak
// reference can travel the value stack. The sentinel never participates in
// refcount arithmetic and is reclaimed by cycle sweeps once unreachable.
func (m *Memory) BoxWeakRef(w *WeakRef) (Ref, error) {
	return m.Heap.allocate(&WeakHandleObject{Ref: w}, objectHeaderSize, true)
}

// DetectCycles runs a synchronous mark-and-sweep from the supplied roots.
func (m *Memory) DetectCycles(roots []Value) (int, error) {
	return m.Cycles.DetectCycles(roots)
}

// CycleCheckDue reports whether the allocation threshold has been hit since
// the last check.
func (m *Memory) CycleCheckDue() bool { return m.Cycles.CheckDue() }

// Stats assembles a snapshot of all counters.
func (m *Memory) Stats() ARCStats {
	cs := m.Cycles.Stats()
	return ARCStats{
		TotalRetains:     m.ARC.counters.totalRetains,
		TotalReleases:    m.ARC.counters.totalReleases,
		TotalFrees:       m.ARC.counters.totalFrees,
		TotalAllocations: m.Heap.TotalAllocations(),
		LiveObjects:      m.Heap.LiveObjects(),
		PeakLiveObjects:  m.Heap.PeakLiveObjects(),
		BytesLive:        m.Heap.BytesLive(),
		BytesAllocated:   m.Heap.BytesAllocated(),
		BytesFreed:       m.Heap.BytesFreed(),
		CycleCheckCount:  cs.CycleCheckCount,
		CyclesDetected:   cs.CyclesDetected,
		CycleFrees:       cs.ObjectsFreed,
		LeakedObjects:    m.leakedObjects,
	}
}
