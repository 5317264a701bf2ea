package vm

// ---------------------------------------------------------------------------
// Upvalues
// ---------------------------------------------------------------------------

// UpvalueObject is a captured variable slot used by closures.
//
// An upvalue is open while the captured variable still lives on the
// interpreter's value stack (Location holds the stack slot index), and
// closed once the owning frame returns (the value is copied into Closed).
// The transition is one-way. A heap value referenced by an upvalue is owned
// by the upvalue once closed; while open, the stack slot owns it and the
// stack is enumerated as a root.
type UpvalueObject struct {
	Location int // stack slot index; -1 once closed
	Closed   Value
}

// NewOpenUpvalue returns an upvalue payload capturing the given stack slot.
func NewOpenUpvalue(stackSlot int) *UpvalueObject {
	return &UpvalueObject{Location: stackSlot, Closed: Nil}
}

// IsOpen returns true while the upvalue still points at a stack slot.
func (u *UpvalueObject) IsOpen() bool {
	return u.Location >= 0
}

// Get reads the captured variable. Open upvalues read through the stack;
// closed upvalues read the stored value.
func (u *UpvalueObject) Get(stack []Value) Value {
	if u.IsOpen() {
		return stack[u.Location]
	}
	return u.Closed
}

// Set writes the captured variable. Open upvalues write through the stack;
// closed upvalues overwrite the stored value. Ownership of heap values
// written here is the caller's to manage (the VM retains on store).
func (u *UpvalueObject) Set(stack []Value, v Value) {
	if u.IsOpen() {
		stack[u.Location] = v
		return
	}
	u.Closed = v
}

// close moves the captured value off the stack. Ownership transfer (the
// retain that makes the upvalue an owner) is handled by the integration
// layer before the frame's slots are released; see Memory.CloseUpvalue.
func (u *UpvalueObject) close(v Value) {
	u.Closed = v
	u.Location = -1
}

func (u *UpvalueObject) Kind() Kind { return KindUpvalue }

func (u *UpvalueObject) releaseChildren(arc *ARCManager) {
	if !u.IsOpen() {
		arc.releaseOwned(u.Closed)
		u.Closed = Nil
	}
}

func (u *UpvalueObject) eachChild(fn func(Value)) {
	// Open upvalues have no owned children: the value lives in a stack
	// slot, which the VM supplies as a root.
	if !u.IsOpen() {
		fn(u.Closed)
	}
}
