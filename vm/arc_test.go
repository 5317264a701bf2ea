package vm

import (
	"errors"
	"testing"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	return NewMemory(DefaultOptions())
}

func mustIntern(t *testing.T, m *Memory, text string) Ref {
	t.Helper()
	ref, err := m.Heap.InternString(text)
	if err != nil {
		t.Fatalf("InternString(%q): %v", text, err)
	}
	return ref
}

// ---------------------------------------------------------------------------
// Retain / Release balance
// ---------------------------------------------------------------------------

func TestRetainReleaseBalance(t *testing.T) {
	m := newTestMemory(t)
	ref := mustIntern(t, m, "balanced")

	// refCount after the sequence is 1 + #retain - #release
	for i := 0; i < 5; i++ {
		if err := m.Retain(ref); err != nil {
			t.Fatalf("Retain: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := m.Release(ref); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}

	rc, _ := m.Heap.RefCount(ref)
	if rc != 3 {
		t.Errorf("refCount = %d, want 1 + 5 - 3 = 3", rc)
	}
}

func TestZeroCrossingFreesExactlyOnce(t *testing.T) {
	m := newTestMemory(t)
	baseline := m.Heap.LiveObjects()
	ref := mustIntern(t, m, "ephemeral")

	if err := m.Release(ref); err != nil {
		t.Fatalf("Release to zero: %v", err)
	}
	if m.Heap.LiveObjects() != baseline {
		t.Errorf("LiveObjects = %d, want baseline %d", m.Heap.LiveObjects(), baseline)
	}
	if got := m.Stats().TotalFrees; got != 1 {
		t.Errorf("TotalFrees = %d, want 1", got)
	}
}

func TestReleaseAfterFreeIsDoubleFree(t *testing.T) {
	m := newTestMemory(t)
	ref := mustIntern(t, m, "once")
	m.Release(ref)

	err := m.Release(ref)
	if !errors.Is(err, ErrInvalidRelease) {
		t.Errorf("err = %v, want ErrInvalidRelease", err)
	}
	var mErr *MemoryError
	if !errors.As(err, &mErr) {
		t.Fatal("error should carry MemoryError context")
	}
	if mErr.Op != "release" {
		t.Errorf("Op = %q, want release", mErr.Op)
	}
}

func TestRetainStaleRefFails(t *testing.T) {
	m := newTestMemory(t)
	ref := mustIntern(t, m, "stale")
	m.Release(ref)

	if err := m.Retain(ref); !errors.Is(err, ErrStaleRef) {
		t.Errorf("err = %v, want ErrStaleRef", err)
	}
}

// ---------------------------------------------------------------------------
// Recursive free
// ---------------------------------------------------------------------------

func TestFreeListReachesAllElements(t *testing.T) {
	m := newTestMemory(t)
	baseline := m.Heap.LiveObjects()

	const n = 10
	elems := make([]Value, n)
	for i := 0; i < n; i++ {
		ref := mustIntern(t, m, string(rune('a'+i)))
		elems[i] = FromRef(ref)
	}
	list, err := m.Heap.AllocateList(elems)
	if err != nil {
		t.Fatalf("AllocateList: %v", err)
	}
	if m.Heap.LiveObjects() != baseline+n+1 {
		t.Fatalf("LiveObjects = %d, want %d", m.Heap.LiveObjects(), baseline+n+1)
	}

	if err := m.Release(list); err != nil {
		t.Fatalf("Release(list): %v", err)
	}
	if m.Heap.LiveObjects() != baseline {
		t.Errorf("LiveObjects = %d, want baseline %d after recursive free",
			m.Heap.LiveObjects(), baseline)
	}
}

func TestFreeMapReleasesValuesOnly(t *testing.T) {
	m := newTestMemory(t)
	v := mustIntern(t, m, "value")
	mp, _ := m.Heap.AllocateMap(map[string]Value{"key": FromRef(v)})

	if err := m.Release(mp); err != nil {
		t.Fatalf("Release(map): %v", err)
	}
	if m.Heap.Contains(v) {
		t.Error("map value should be freed with the map")
	}
}

func TestFreeBoundMethodReleasesBoth(t *testing.T) {
	m := newTestMemory(t)
	recv, _ := m.Heap.AllocateInstance(Nil, nil)
	closure, _ := m.Heap.AllocateClosure("m", 0, nil)
	bm, _ := m.Heap.AllocateBoundMethod(FromRef(recv), FromRef(closure))

	if err := m.Release(bm); err != nil {
		t.Fatalf("Release(bound method): %v", err)
	}
	if m.Heap.Contains(recv) || m.Heap.Contains(closure) {
		t.Error("bound method should release receiver and method")
	}
}

func TestFreeNestedStructures(t *testing.T) {
	m := newTestMemory(t)
	baseline := m.Heap.LiveObjects()

	inner, _ := m.Heap.AllocateList([]Value{FromRef(mustIntern(t, m, "deep"))})
	outer, _ := m.Heap.AllocateList([]Value{FromRef(inner)})

	if err := m.Release(outer); err != nil {
		t.Fatalf("Release(outer): %v", err)
	}
	if m.Heap.LiveObjects() != baseline {
		t.Errorf("LiveObjects = %d, want %d", m.Heap.LiveObjects(), baseline)
	}
}

// ---------------------------------------------------------------------------
// Autorelease pools
// ---------------------------------------------------------------------------

func TestAutoreleaseDefersToDrain(t *testing.T) {
	m := newTestMemory(t)
	ref := mustIntern(t, m, "pooled")

	m.PushPool()
	if err := m.Autorelease(ref); err != nil {
		t.Fatalf("Autorelease: %v", err)
	}
	if !m.Heap.Contains(ref) {
		t.Fatal("autorelease must not release immediately")
	}

	if err := m.DrainAutoreleasePool(); err != nil {
		t.Fatalf("DrainAutoreleasePool: %v", err)
	}
	if m.Heap.Contains(ref) {
		t.Error("pool drain should have released the only reference")
	}
}

func TestPoolNesting(t *testing.T) {
	m := newTestMemory(t)
	outerRef := mustIntern(t, m, "outer")
	innerRef := mustIntern(t, m, "inner")

	m.PushPool()
	m.Autorelease(outerRef)
	m.PushPool()
	m.Autorelease(innerRef)

	if m.ARC.PoolDepth() != 2 {
		t.Fatalf("PoolDepth = %d, want 2", m.ARC.PoolDepth())
	}

	m.DrainAutoreleasePool()
	if m.Heap.Contains(innerRef) {
		t.Error("inner pool drain should release the inner ref")
	}
	if !m.Heap.Contains(outerRef) {
		t.Error("inner pool drain must not touch the outer pool")
	}

	m.DrainAutoreleasePool()
	if m.Heap.Contains(outerRef) {
		t.Error("outer pool drain should release the outer ref")
	}
}

func TestDrainSurvivesCallerRetain(t *testing.T) {
	// A callee autoreleases its return value; the caller retains it before
	// the pool drains. The value must survive the drain.
	m := newTestMemory(t)

	m.PushPool()
	ret := mustIntern(t, m, "returned")
	m.Autorelease(ret)

	// Caller takes ownership.
	m.Retain(ret)

	m.DrainAutoreleasePool()
	if !m.Heap.Contains(ret) {
		t.Fatal("retained return value must survive the drain")
	}
	rc, _ := m.Heap.RefCount(ret)
	if rc != 1 {
		t.Errorf("refCount = %d, want 1", rc)
	}
	m.Release(ret)
}

func TestDrainAllPools(t *testing.T) {
	m := newTestMemory(t)
	a := mustIntern(t, m, "a")
	b := mustIntern(t, m, "b")

	m.PushPool()
	m.Autorelease(a)
	m.PushPool()
	m.Autorelease(b)

	if err := m.ARC.DrainAllPools(); err != nil {
		t.Fatalf("DrainAllPools: %v", err)
	}
	if m.ARC.PoolDepth() != 0 {
		t.Errorf("PoolDepth = %d, want 0", m.ARC.PoolDepth())
	}
	if m.Heap.Contains(a) || m.Heap.Contains(b) {
		t.Error("all pooled refs should be released")
	}
}

// ---------------------------------------------------------------------------
// Statistics
// ---------------------------------------------------------------------------

func TestStatsCountOperations(t *testing.T) {
	m := newTestMemory(t)
	ref := mustIntern(t, m, "counted")
	m.Retain(ref)
	m.Release(ref)
	m.Release(ref) // zero crossing, frees

	stats := m.Stats()
	if stats.TotalRetains != 1 {
		t.Errorf("TotalRetains = %d, want 1", stats.TotalRetains)
	}
	if stats.TotalReleases != 2 {
		t.Errorf("TotalReleases = %d, want 2", stats.TotalReleases)
	}
	if stats.TotalFrees != 1 {
		t.Errorf("TotalFrees = %d, want 1", stats.TotalFrees)
	}
	if stats.TotalAllocations != 1 {
		t.Errorf("TotalAllocations = %d, want 1", stats.TotalAllocations)
	}
}

// ---------------------------------------------------------------------------
// Benchmarks
// ---------------------------------------------------------------------------

func BenchmarkRetainRelease(b *testing.B) {
	m := NewMemory(DefaultOptions())
	ref, _ := m.Heap.InternString("bench")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Retain(ref)
		m.Release(ref)
	}
}

func BenchmarkAllocateFree(b *testing.B) {
	m := NewMemory(DefaultOptions())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ref, _ := m.Heap.AllocateList(nil)
		m.Release(ref)
	}
}
