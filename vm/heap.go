package vm

// ---------------------------------------------------------------------------
// Heap: arena-backed storage for refcounted objects
// ---------------------------------------------------------------------------

// heapSlot is one arena cell. A slot is reused after deallocation; its
// generation is bumped on reuse so stale handles are detectable.
type heapSlot struct {
	payload  Payload
	size     int
	refCount int
	gen      uint16
	live     bool
	isWeak   bool // weak sentinel: never participates in refcount arithmetic
	freeing  bool // teardown in progress; releases against it are no-ops
	marked   bool // cycle-detector mark bit
}

// Heap owns allocation and deallocation of tagged heap objects. Objects are
// kept in an arena of slots with a free list of reusable indices; the live
// set is slot occupancy, so frees never require compaction. The heap also
// owns string interning.
//
// The heap never mutates refcounts except through the ARCManager's
// retain/release/free paths (interning's cache hit is a retain performed on
// the caller's behalf).
type Heap struct {
	slots    []heapSlot
	free     []uint32
	interned map[string]Ref

	maxObjects   int
	maxHeapBytes int64

	liveObjects      int
	peakLiveObjects  int
	bytesLive        int64
	bytesAllocated   int64
	bytesFreed       int64
	totalAllocations uint64

	// onAllocate is invoked once per successful allocation. The cycle
	// detector hooks this to count allocations toward its threshold; the
	// hook must not force a collection.
	onAllocate func()
}

// Approximate per-variant byte footprints, used for allocation statistics
// only.
const (
	wordSize         = 8
	objectHeaderSize = 24
)

// NewHeap creates an empty heap. Zero ceilings mean unlimited.
func NewHeap(maxObjects int, maxHeapBytes int64) *Heap {
	return &Heap{
		interned:     make(map[string]Ref),
		maxObjects:   maxObjects,
		maxHeapBytes: maxHeapBytes,
	}
}

// SetAllocationHook installs the per-allocation callback. Passing nil
// removes the hook.
func (h *Heap) SetAllocationHook(fn func()) {
	h.onAllocate = fn
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// Allocate creates a new object with refcount 1 owned by the caller.
// Returns ErrOutOfMemory if a configured ceiling would be exceeded; the
// caller may run a cycle check and retry once.
func (h *Heap) Allocate(p Payload, size int) (Ref, error) {
	return h.allocate(p, size, false)
}

func (h *Heap) allocate(p Payload, size int, weak bool) (Ref, error) {
	if h.maxObjects > 0 && h.liveObjects >= h.maxObjects {
		return Ref{}, memErr(ErrOutOfMemory, "allocate", Ref{}, p.Kind(), 0)
	}
	if h.maxHeapBytes > 0 && h.bytesLive+int64(size) > h.maxHeapBytes {
		return Ref{}, memErr(ErrOutOfMemory, "allocate", Ref{}, p.Kind(), 0)
	}

	var idx uint32
	if n := len(h.free); n > 0 {
		idx = h.free[n-1]
		h.free = h.free[:n-1]
	} else {
		h.slots = append(h.slots, heapSlot{})
		idx = uint32(len(h.slots) - 1)
	}

	s := &h.slots[idx]
	s.payload = p
	s.size = size
	s.refCount = 1
	s.live = true
	s.isWeak = weak
	s.freeing = false
	s.marked = false

	h.liveObjects++
	if h.liveObjects > h.peakLiveObjects {
		h.peakLiveObjects = h.liveObjects
	}
	h.bytesLive += int64(size)
	h.bytesAllocated += int64(size)
	h.totalAllocations++

	if h.onAllocate != nil {
		h.onAllocate()
	}
	return Ref{Index: idx, Gen: s.gen}, nil
}

// InternString returns the canonical ref for text, allocating one if the
// string is not yet interned. On a cache hit the canonical object is
// retained on the caller's behalf, so the caller owns +1 either way and
// releases it like any other ref.
func (h *Heap) InternString(text string) (Ref, error) {
	if ref, ok := h.interned[text]; ok {
		if s := h.slot(ref); s != nil {
			s.refCount++
			return ref, nil
		}
		// Entry points at a freed slot; should have been removed in
		// Deallocate. Fall through and re-intern.
		delete(h.interned, text)
	}

	ref, err := h.Allocate(&StringObject{Text: text}, len(text)+objectHeaderSize)
	if err != nil {
		return Ref{}, err
	}
	h.interned[text] = ref
	return ref, nil
}

// ---------------------------------------------------------------------------
// Deallocation
// ---------------------------------------------------------------------------

// Deallocate unlinks ref from the live set and updates freed-byte counters.
// Strings are removed from the intern table first. Fails with
// ErrDanglingDeallocate if the live set does not contain ref.
func (h *Heap) Deallocate(ref Ref) error {
	if int(ref.Index) >= len(h.slots) {
		return memErr(ErrDanglingDeallocate, "deallocate", ref, 0, -1)
	}
	s := &h.slots[ref.Index]
	if !s.live || s.gen != ref.Gen {
		return memErr(ErrDanglingDeallocate, "deallocate", ref, 0, -1)
	}

	if so, ok := s.payload.(*StringObject); ok {
		if canonical, found := h.interned[so.Text]; found && canonical == ref {
			delete(h.interned, so.Text)
		}
	}

	h.liveObjects--
	h.bytesLive -= int64(s.size)
	h.bytesFreed += int64(s.size)

	s.payload = nil
	s.refCount = 0
	s.live = false
	s.isWeak = false
	s.freeing = false
	s.marked = false
	s.gen++
	h.free = append(h.free, ref.Index)
	return nil
}

// ---------------------------------------------------------------------------
// Lookup
// ---------------------------------------------------------------------------

// slot returns the live slot for ref, or nil if the handle is stale.
func (h *Heap) slot(ref Ref) *heapSlot {
	if int(ref.Index) >= len(h.slots) {
		return nil
	}
	s := &h.slots[ref.Index]
	if !s.live || s.gen != ref.Gen {
		return nil
	}
	return s
}

// Contains returns true if ref identifies a live object.
func (h *Heap) Contains(ref Ref) bool {
	return h.slot(ref) != nil
}

// RefCount returns the current refcount of ref, or false for a stale handle.
func (h *Heap) RefCount(ref Ref) (int, bool) {
	s := h.slot(ref)
	if s == nil {
		return 0, false
	}
	return s.refCount, true
}

// Payload returns the payload of a live object, or nil for a stale handle.
func (h *Heap) Payload(ref Ref) Payload {
	s := h.slot(ref)
	if s == nil {
		return nil
	}
	return s.payload
}

// ---------------------------------------------------------------------------
// Counters
// ---------------------------------------------------------------------------

// LiveObjects returns the number of objects currently in the live set.
func (h *Heap) LiveObjects() int { return h.liveObjects }

// PeakLiveObjects returns the high-water mark of the live set.
func (h *Heap) PeakLiveObjects() int { return h.peakLiveObjects }

// BytesLive returns the byte footprint of the live set.
func (h *Heap) BytesLive() int64 { return h.bytesLive }

// BytesAllocated returns cumulative bytes handed out over the heap's life.
func (h *Heap) BytesAllocated() int64 { return h.bytesAllocated }

// BytesFreed returns cumulative bytes reclaimed.
func (h *Heap) BytesFreed() int64 { return h.bytesFreed }

// TotalAllocations returns the number of successful allocations.
func (h *Heap) TotalAllocations() uint64 { return h.totalAllocations }

// InternedStrings returns the number of entries in the intern table.
func (h *Heap) InternedStrings() int { return len(h.interned) }

// ---------------------------------------------------------------------------
// Iteration
// ---------------------------------------------------------------------------

// ObjectInfo is a read-only description of one live object, used by
// diagnostics and snapshots.
type ObjectInfo struct {
	Ref      Ref
	Kind     Kind
	RefCount int
	Size     int
	IsWeak   bool
	Children []Ref
}

// Describe returns the ObjectInfo for a live ref.
func (h *Heap) Describe(ref Ref) (ObjectInfo, bool) {
	s := h.slot(ref)
	if s == nil {
		return ObjectInfo{}, false
	}
	info := ObjectInfo{
		Ref:      ref,
		Kind:     s.payload.Kind(),
		RefCount: s.refCount,
		Size:     s.size,
		IsWeak:   s.isWeak,
	}
	s.payload.eachChild(func(v Value) {
		if v.IsObject() {
			info.Children = append(info.Children, v.Ref())
		}
	})
	return info, true
}

// ForEachLive visits every live object in arena order.
func (h *Heap) ForEachLive(fn func(ObjectInfo)) {
	for i := range h.slots {
		s := &h.slots[i]
		if !s.live {
			continue
		}
		info, _ := h.Describe(Ref{Index: uint32(i), Gen: s.gen})
		fn(info)
	}
}

// liveRefs returns the handles of every live object in arena order.
func (h *Heap) liveRefs() []Ref {
	refs := make([]Ref, 0, h.liveObjects)
	for i := range h.slots {
		if h.slots[i].live {
			refs = append(refs, Ref{Index: uint32(i), Gen: h.slots[i].gen})
		}
	}
	return refs
}

// clearMarks resets the mark bit on every live slot before a mark phase.
func (h *Heap) clearMarks() {
	for i := range h.slots {
		h.slots[i].marked = false
	}
}

// ---------------------------------------------------------------------------
// Variant constructors
// ---------------------------------------------------------------------------

// AllocateList allocates a list owning the given elements. The caller is
// responsible for having retained each element before handing it over.
func (h *Heap) AllocateList(elements []Value) (Ref, error) {
	return h.Allocate(&ListObject{Elements: elements},
		objectHeaderSize+wordSize*len(elements))
}

// AllocateMap allocates a map owning the given entry values.
func (h *Heap) AllocateMap(entries map[string]Value) (Ref, error) {
	if entries == nil {
		entries = make(map[string]Value)
	}
	return h.Allocate(&MapObject{Entries: entries},
		objectHeaderSize+2*wordSize*len(entries))
}

// AllocateInstance allocates an instance of class owning the given fields.
func (h *Heap) AllocateInstance(class Value, fields map[string]Value) (Ref, error) {
	if fields == nil {
		fields = make(map[string]Value)
	}
	return h.Allocate(&InstanceObject{Class: class, Fields: fields},
		objectHeaderSize+2*wordSize*len(fields))
}

// AllocateClass allocates a class object.
func (h *Heap) AllocateClass(name string) (Ref, error) {
	return h.Allocate(&ClassObject{Name: name, Methods: make(map[string]Value)},
		objectHeaderSize+len(name))
}

// AllocateClosure allocates a closure owning the given upvalue handles.
func (h *Heap) AllocateClosure(name string, arity int, upvalues []Value) (Ref, error) {
	return h.Allocate(&ClosureObject{Name: name, Arity: arity, Upvalues: upvalues},
		objectHeaderSize+wordSize*len(upvalues))
}

// AllocateBoundMethod allocates a bound method owning receiver and method.
func (h *Heap) AllocateBoundMethod(receiver, method Value) (Ref, error) {
	return h.Allocate(&BoundMethodObject{Receiver: receiver, Method: method},
		objectHeaderSize+2*wordSize)
}

// AllocateUpvalue allocates an open upvalue capturing a stack slot.
func (h *Heap) AllocateUpvalue(stackSlot int) (Ref, error) {
	return h.Allocate(NewOpenUpvalue(stackSlot), objectHeaderSize+wordSize)
}
