package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Memory error kinds
// ---------------------------------------------------------------------------

// Sentinel errors for the memory subsystem. Use errors.Is to classify a
// returned error; use errors.As with *MemoryError to recover diagnostic
// context (object kind, refcount at the time of failure).
var (
	// ErrInvalidRelease indicates a release on an object whose refcount is
	// already zero, or on a handle whose object has been freed. Both cases
	// are double frees: the calling interpreter violated the retain/release
	// balance. Not recoverable.
	ErrInvalidRelease = errors.New("invalid release (double free)")

	// ErrDanglingDeallocate indicates a deallocation request for an object
	// not present in the live set. Indicates heap corruption or an upstream
	// logic error. Not recoverable.
	ErrDanglingDeallocate = errors.New("deallocate of object not in live set")

	// ErrOutOfMemory indicates the heap cannot satisfy an allocation within
	// its configured ceilings. The caller may trigger a cycle check and
	// retry once.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrStaleRef indicates an operation (retain, autorelease, weak-ref
	// creation) on a handle whose object has been freed or never existed.
	ErrStaleRef = errors.New("stale object reference")

	// ErrCollectorBusy indicates a reentrant cycle-detection request.
	// Detection and free cascades never interleave; the VM must trigger
	// detection only between bytecode instructions.
	ErrCollectorBusy = errors.New("cycle detection already in progress")
)

// MemoryError wraps one of the sentinel kinds with the context needed to
// diagnose a broken invariant in the calling interpreter.
type MemoryError struct {
	Kind     error // one of the sentinels above
	Op       string
	Ref      Ref
	Object   Kind // zero value (KindString) is meaningless when Ref is dead
	RefCount int
}

func (e *MemoryError) Error() string {
	return fmt.Sprintf("%s: %v (object=%s slot=%d gen=%d refcount=%d)",
		e.Op, e.Kind, e.Object, e.Ref.Index, e.Ref.Gen, e.RefCount)
}

func (e *MemoryError) Unwrap() error {
	return e.Kind
}

// memErr builds a MemoryError. Callers pass the refcount observed at the
// time of failure; -1 means the slot was empty.
func memErr(kind error, op string, ref Ref, objKind Kind, refCount int) error {
	return &MemoryError{
		Kind:     kind,
		Op:       op,
		Ref:      ref,
		Object:   objKind,
		RefCount: refCount,
	}
}
