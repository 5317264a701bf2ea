package vm

// ---------------------------------------------------------------------------
// Heap object payloads
// ---------------------------------------------------------------------------

// Kind identifies a heap object variant.
type Kind uint8

const (
	KindString Kind = iota
	KindList
	KindMap
	KindInstance
	KindClass
	KindClosure
	KindBoundMethod
	KindUpvalue
	KindWeakHandle
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindList:
		return "List"
	case KindMap:
		return "Map"
	case KindInstance:
		return "Instance"
	case KindClass:
		return "Class"
	case KindClosure:
		return "Closure"
	case KindBoundMethod:
		return "BoundMethod"
	case KindUpvalue:
		return "Upvalue"
	case KindWeakHandle:
		return "WeakHandle"
	default:
		return "?"
	}
}

// Payload is the variant-specific part of a heap object.
//
// Each variant knows how to release the values it owns and how to enumerate
// them; adding a new heap object kind means implementing this interface,
// not editing a central switch. eachChild must visit exactly the values
// releaseChildren releases, since the cycle detector's mark phase follows
// the same edges the free path tears down.
type Payload interface {
	Kind() Kind

	// releaseChildren releases every value this object owns. Called exactly
	// once per object, by the free path, after weak refs to the object have
	// been invalidated and before the object's storage is reclaimed.
	releaseChildren(arc *ARCManager)

	// eachChild visits every owned child value.
	eachChild(fn func(Value))
}

// ---------------------------------------------------------------------------
// String
// ---------------------------------------------------------------------------

// StringObject is an interned string. Strings own no children.
type StringObject struct {
	Text string
}

func (s *StringObject) Kind() Kind                     { return KindString }
func (s *StringObject) releaseChildren(arc *ARCManager) {}
func (s *StringObject) eachChild(fn func(Value))        {}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

// ListObject is an ordered collection. A list owns every element.
type ListObject struct {
	Elements []Value
}

func (l *ListObject) Kind() Kind { return KindList }

func (l *ListObject) releaseChildren(arc *ARCManager) {
	for _, v := range l.Elements {
		arc.releaseOwned(v)
	}
	l.Elements = nil
}

func (l *ListObject) eachChild(fn func(Value)) {
	for _, v := range l.Elements {
		fn(v)
	}
}

// ---------------------------------------------------------------------------
// Map
// ---------------------------------------------------------------------------

// MapObject maps primitive string keys to values. The map owns every value;
// keys are plain Go strings and need no release.
type MapObject struct {
	Entries map[string]Value
}

func (m *MapObject) Kind() Kind { return KindMap }

func (m *MapObject) releaseChildren(arc *ARCManager) {
	for _, v := range m.Entries {
		arc.releaseOwned(v)
	}
	m.Entries = nil
}

func (m *MapObject) eachChild(fn func(Value)) {
	for _, v := range m.Entries {
		fn(v)
	}
}

// ---------------------------------------------------------------------------
// Instance
// ---------------------------------------------------------------------------

// InstanceObject is a user-defined object. An instance owns its field
// values. The class edge is not owned: classes are registered as globals by
// the VM and stay rooted for the life of the program.
type InstanceObject struct {
	Class  Value
	Fields map[string]Value
}

func (i *InstanceObject) Kind() Kind { return KindInstance }

func (i *InstanceObject) releaseChildren(arc *ARCManager) {
	for _, v := range i.Fields {
		arc.releaseOwned(v)
	}
	i.Fields = nil
}

func (i *InstanceObject) eachChild(fn func(Value)) {
	for _, v := range i.Fields {
		fn(v)
	}
}

// ---------------------------------------------------------------------------
// Class
// ---------------------------------------------------------------------------

// ClassObject describes a user-defined class. A class owns its method
// closures.
type ClassObject struct {
	Name    string
	Methods map[string]Value
}

func (c *ClassObject) Kind() Kind { return KindClass }

func (c *ClassObject) releaseChildren(arc *ARCManager) {
	for _, v := range c.Methods {
		arc.releaseOwned(v)
	}
	c.Methods = nil
}

func (c *ClassObject) eachChild(fn func(Value)) {
	for _, v := range c.Methods {
		fn(v)
	}
}

// ---------------------------------------------------------------------------
// Closure
// ---------------------------------------------------------------------------

// ClosureObject is a function plus its captured upvalues. The closure owns
// each captured upvalue object; the bytecode chunk itself lives in the
// compiler's constant tables and is not heap-managed here.
type ClosureObject struct {
	Name     string
	Arity    int
	Upvalues []Value
}

func (c *ClosureObject) Kind() Kind { return KindClosure }

func (c *ClosureObject) releaseChildren(arc *ARCManager) {
	for _, uv := range c.Upvalues {
		arc.releaseOwned(uv)
	}
	c.Upvalues = nil
}

func (c *ClosureObject) eachChild(fn func(Value)) {
	for _, uv := range c.Upvalues {
		fn(uv)
	}
}

// ---------------------------------------------------------------------------
// BoundMethod
// ---------------------------------------------------------------------------

// BoundMethodObject pairs a receiver with a method closure. It owns both.
type BoundMethodObject struct {
	Receiver Value
	Method   Value
}

func (b *BoundMethodObject) Kind() Kind { return KindBoundMethod }

func (b *BoundMethodObject) releaseChildren(arc *ARCManager) {
	arc.releaseOwned(b.Receiver)
	arc.releaseOwned(b.Method)
	b.Receiver = Nil
	b.Method = Nil
}

func (b *BoundMethodObject) eachChild(fn func(Value)) {
	fn(b.Receiver)
	fn(b.Method)
}

// ---------------------------------------------------------------------------
// WeakHandle
// ---------------------------------------------------------------------------

// WeakHandleObject boxes a WeakRef so weak references can live on the value
// stack. Weak handles own nothing and never participate in refcount
// arithmetic (the heap allocates them with the weak sentinel set).
type WeakHandleObject struct {
	Ref *WeakRef
}

func (w *WeakHandleObject) Kind() Kind                     { return KindWeakHandle }
func (w *WeakHandleObject) releaseChildren(arc *ARCManager) {}
func (w *WeakHandleObject) eachChild(fn func(Value))        {}
