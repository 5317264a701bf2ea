package vm

import (
	"errors"
)

// ---------------------------------------------------------------------------
// ARCManager: reference-counting engine
// ---------------------------------------------------------------------------

// arcCounters are the hot-path statistics. They are plain integers: the
// design assumes a single logical execution context (see Memory), so no
// operation here is synchronized.
type arcCounters struct {
	totalRetains  uint64
	totalReleases uint64
	totalFrees    uint64
}

// ARCManager enforces reference-counting discipline: retain, release,
// recursive free, and the autorelease pool stack. Refcounts change only
// through Retain, Release, and the forced zeroing done by cycle collection;
// no other code path mutates them.
type ARCManager struct {
	heap *Heap
	weak *WeakRefTracker

	// pools is the process-wide stack of autorelease pools, pushed and
	// popped at frame boundaries.
	pools [][]Ref

	counters arcCounters

	// freeDepth tracks free-cascade nesting so errors raised deep inside a
	// recursive teardown are reported once, by the outermost free.
	freeDepth  int
	cascadeErr error

	// tearingDown is set while the cycle detector force-frees an
	// unreachable group. Within a condemned group every owner is itself
	// condemned, so releases that land on already-reclaimed members are
	// expected and ignored instead of reported as double frees.
	tearingDown bool
}

// NewARCManager creates an ARC manager over the given heap and weak-ref
// tracker.
func NewARCManager(heap *Heap, weak *WeakRefTracker) *ARCManager {
	return &ARCManager{
		heap: heap,
		weak: weak,
	}
}

// ---------------------------------------------------------------------------
// Retain / Release
// ---------------------------------------------------------------------------

// Retain increments the strong count of ref. Weak sentinels are ignored.
// Retaining a stale handle is a VM integration bug and fails with
// ErrStaleRef.
func (a *ARCManager) Retain(ref Ref) error {
	s := a.heap.slot(ref)
	if s == nil {
		return memErr(ErrStaleRef, "retain", ref, 0, -1)
	}
	if s.isWeak {
		return nil
	}
	s.refCount++
	a.counters.totalRetains++
	return nil
}

// Release decrements the strong count of ref and frees the object on the
// zero crossing. Weak sentinels are ignored. Releasing an object whose
// count is already zero, or a handle whose object was already freed, is a
// double free and fails with ErrInvalidRelease.
func (a *ARCManager) Release(ref Ref) error {
	s := a.heap.slot(ref)
	if s == nil {
		if a.tearingDown {
			// The target was part of a condemned cycle and has already
			// been reclaimed by the cascade.
			return nil
		}
		return memErr(ErrInvalidRelease, "release", ref, 0, -1)
	}
	if s.isWeak {
		return nil
	}
	if s.freeing {
		// Teardown of this object is in progress further up the stack;
		// the cascade will reclaim it exactly once.
		return nil
	}
	if s.refCount <= 0 {
		return memErr(ErrInvalidRelease, "release", ref, s.payload.Kind(), s.refCount)
	}
	s.refCount--
	a.counters.totalReleases++
	if s.refCount == 0 {
		return a.free(ref)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Autorelease pools
// ---------------------------------------------------------------------------

// PushPool opens a new autorelease pool. The VM pushes one per call frame.
func (a *ARCManager) PushPool() {
	a.pools = append(a.pools, nil)
}

// Autorelease transfers the caller's +1 ownership of ref into the current
// pool; the matching release happens when the pool is drained. A pool is
// created implicitly if none is open.
func (a *ARCManager) Autorelease(ref Ref) error {
	if a.heap.slot(ref) == nil {
		return memErr(ErrStaleRef, "autorelease", ref, 0, -1)
	}
	if len(a.pools) == 0 {
		a.PushPool()
	}
	top := len(a.pools) - 1
	a.pools[top] = append(a.pools[top], ref)
	return nil
}

// DrainPool releases every ref in the current pool in insertion order, then
// discards the pool. The VM must drain at every frame exit (normal return
// or error unwind). All refs are drained even if one release fails; the
// errors are joined.
func (a *ARCManager) DrainPool() error {
	if len(a.pools) == 0 {
		return nil
	}
	top := len(a.pools) - 1
	pool := a.pools[top]
	a.pools = a.pools[:top]

	var err error
	for _, ref := range pool {
		if rErr := a.Release(ref); rErr != nil {
			err = errors.Join(err, rErr)
		}
	}
	return err
}

// DrainAllPools drains every open pool, innermost first. Used at shutdown.
func (a *ARCManager) DrainAllPools() error {
	var err error
	for len(a.pools) > 0 {
		err = errors.Join(err, a.DrainPool())
	}
	return err
}

// PoolDepth returns the number of open autorelease pools.
func (a *ARCManager) PoolDepth() int { return len(a.pools) }

// ---------------------------------------------------------------------------
// Free
// ---------------------------------------------------------------------------

// free performs recursive, type-dispatched destruction of ref:
//
//  1. invalidate every weak ref observing the object, so no observer can
//     transiently resurrect it once teardown has begun;
//  2. release each owned child (variant dispatch), which may cascade into
//     nested frees;
//  3. unlink the object's storage from the heap;
//  4. record the free.
//
// The cascade terminates because, excluding cycles, ownership forms a DAG
// at the moment of release; cycles are condemned as a group by the cycle
// detector before entering here.
func (a *ARCManager) free(ref Ref) error {
	s := a.heap.slot(ref)
	if s == nil {
		return memErr(ErrDanglingDeallocate, "free", ref, 0, -1)
	}

	a.freeDepth++
	s.freeing = true
	payload := s.payload

	a.weak.InvalidateAll(ref)
	payload.releaseChildren(a)

	if dErr := a.heap.Deallocate(ref); dErr != nil {
		a.cascadeErr = errors.Join(a.cascadeErr, dErr)
	}
	a.counters.totalFrees++

	a.freeDepth--
	if a.freeDepth == 0 {
		err := a.cascadeErr
		a.cascadeErr = nil
		return err
	}
	return nil
}

// releaseOwned is the release path used by releaseChildren implementations.
// Non-object values are ignored. Errors raised mid-cascade are accumulated
// and reported by the outermost free.
func (a *ARCManager) releaseOwned(v Value) {
	if !v.IsObject() {
		return
	}
	if err := a.Release(v.Ref()); err != nil {
		a.cascadeErr = errors.Join(a.cascadeErr, err)
	}
}

// forceFree is the cycle collector's entry point: it zeroes the strong
// count (the only forced zeroing in the system) and reclaims the object
// through the normal recursive-free path.
func (a *ARCManager) forceFree(ref Ref) error {
	s := a.heap.slot(ref)
	if s == nil {
		// Already reclaimed by an earlier member's cascade.
		return nil
	}
	s.refCount = 0
	return a.free(ref)
}

// beginCycleTeardown and endCycleTeardown bracket the collector's forced
// frees; see tearingDown.
func (a *ARCManager) beginCycleTeardown() { a.tearingDown = true }
func (a *ARCManager) endCycleTeardown()   { a.tearingDown = false }

// ---------------------------------------------------------------------------
// Weak references
// ---------------------------------------------------------------------------

// CreateWeakRef constructs a weak observer of a live target and registers
// it with the tracker. The target's strong count is not touched.
func (a *ARCManager) CreateWeakRef(target Ref) (*WeakRef, error) {
	if a.heap.slot(target) == nil {
		return nil, memErr(ErrStaleRef, "create weak ref", target, 0, -1)
	}
	w := &WeakRef{target: target, valid: true}
	a.weak.Register(target, w)
	return w, nil
}

// LockWeakRef upgrades a weak ref to a strong one if the target is still
// alive, incrementing its count. The caller must release exactly once when
// done. Returns false if the weak ref was invalidated or the target is gone.
func (a *ARCManager) LockWeakRef(w *WeakRef) (Ref, bool) {
	if w == nil || !w.valid {
		return Ref{}, false
	}
	s := a.heap.slot(w.target)
	if s == nil || s.refCount <= 0 || s.freeing {
		return Ref{}, false
	}
	s.refCount++
	a.counters.totalRetains++
	return w.target, true
}
