package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// VM integration helpers
// ---------------------------------------------------------------------------
//
// The interpreter calls into these at value-lifetime transitions: a value
// duplicated onto the stack or stored into a slot is retained; a value
// popped and discarded or overwritten is released; every local slot of a
// frame is released on return, followed by a pool drain. Non-object values
// (floats, small ints, nil/true/false) pass through untouched.

// RetainValue retains v if it is a heap object.
func (m *Memory) RetainValue(v Value) error {
	if !v.IsObject() {
		return nil
	}
	return m.ARC.Retain(v.Ref())
}

// ReleaseValue releases v if it is a heap object.
func (m *Memory) ReleaseValue(v Value) error {
	if !v.IsObject() {
		return nil
	}
	return m.ARC.Release(v.Ref())
}

// AutoreleaseValue pools v's release if it is a heap object.
func (m *Memory) AutoreleaseValue(v Value) error {
	if !v.IsObject() {
		return nil
	}
	return m.ARC.Autorelease(v.Ref())
}

// StoreValue overwrites *slot with v, retaining the new value before
// releasing the old one so a value shared by both sides is never
// transiently under-counted.
func (m *Memory) StoreValue(slot *Value, v Value) error {
	if err := m.RetainValue(v); err != nil {
		return err
	}
	old := *slot
	*slot = v
	return m.ReleaseValue(old)
}

// ExitFrame implements the frame-return contract: release every local slot
// in reverse order, then drain the current autorelease pool so values
// produced by the frame survive exactly long enough for the caller to
// retain them. Slots are cleared to Nil as they are released.
func (m *Memory) ExitFrame(locals []Value) error {
	var err error
	for i := len(locals) - 1; i >= 0; i-- {
		if rErr := m.ReleaseValue(locals[i]); rErr != nil {
			err = errors.Join(err, rErr)
		}
		locals[i] = Nil
	}
	return errors.Join(err, m.ARC.DrainPool())
}

// CloseUpvalue transitions an open upvalue to closed when its stack frame
// returns. The captured value is copied out of the stack slot and, if it is
// a heap value, retained: the upvalue becomes an owner before the frame's
// slots are released.
func (m *Memory) CloseUpvalue(ref Ref, stack []Value) error {
	s := m.Heap.slot(ref)
	if s == nil {
		return memErr(ErrStaleRef, "close upvalue", ref, 0, -1)
	}
	uv, ok := s.payload.(*UpvalueObject)
	if !ok {
		return fmt.Errorf("close upvalue: object is a %s, not an upvalue", s.payload.Kind())
	}
	if !uv.IsOpen() {
		return nil
	}
	v := stack[uv.Location]
	if err := m.RetainValue(v); err != nil {
		return err
	}
	uv.close(v)
	return nil
}

// CollectRoots flattens the interpreter's root groups (value stack,
// globals, local slots of every active frame) into a single root list for
// DetectCycles and FindLeaks. Non-object values are filtered out.
func CollectRoots(groups ...[]Value) []Value {
	var roots []Value
	for _, group := range groups {
		for _, v := range group {
			if v.IsObject() {
				roots = append(roots, v)
			}
		}
	}
	return roots
}

// AllocateAndRetryOnOOM wraps an allocation with the recoverable-OOM
// policy: on ErrOutOfMemory the VM-supplied roots are cycle-checked once
// and the allocation retried before the failure is treated as fatal.
func (m *Memory) AllocateAndRetryOnOOM(alloc func() (Ref, error), roots []Value) (Ref, error) {
	ref, err := alloc()
	if err == nil || !errors.Is(err, ErrOutOfMemory) {
		return ref, err
	}
	if _, cErr := m.DetectCycles(roots); cErr != nil {
		return Ref{}, errors.Join(err, cErr)
	}
	return alloc()
}
