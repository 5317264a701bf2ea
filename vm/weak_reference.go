package vm

// ---------------------------------------------------------------------------
// WeakRef: a non-owning observer of a heap object
// ---------------------------------------------------------------------------

// WeakRef observes a heap object without keeping it alive. It is valid
// until the target is freed, at which point the free path invalidates it
// synchronously — before the target's children are released and before its
// storage is reclaimed — so no observer can ever see a half-destroyed
// object as alive. The target handle's generation check is a second line
// of defense against VM bugs; invalidation is the authoritative signal.
type WeakRef struct {
	target Ref
	valid  bool
}

// IsValid returns true until the target has been freed.
func (w *WeakRef) IsValid() bool {
	return w.valid
}

// Target returns the observed handle while the ref is valid.
func (w *WeakRef) Target() (Ref, bool) {
	if !w.valid {
		return Ref{}, false
	}
	return w.target, true
}

// Invalidate clears the weak ref. Idempotent.
func (w *WeakRef) Invalidate() {
	w.valid = false
	w.target = Ref{}
}

// ---------------------------------------------------------------------------
// WeakRefTracker: target -> observers bookkeeping
// ---------------------------------------------------------------------------

// WeakRefTracker maps a heap object to the weak handles observing it. An
// entry is created on the first weak ref against a target and removed —
// with every handle invalidated exactly once — inside the free path.
type WeakRefTracker struct {
	byTarget map[Ref][]*WeakRef
}

// NewWeakRefTracker creates an empty tracker.
func NewWeakRefTracker() *WeakRefTracker {
	return &WeakRefTracker{
		byTarget: make(map[Ref][]*WeakRef),
	}
}

// Register adds a weak ref to the target's observer list.
func (t *WeakRefTracker) Register(target Ref, w *WeakRef) {
	t.byTarget[target] = append(t.byTarget[target], w)
}

// InvalidateAll invalidates every weak ref registered against target and
// removes the tracking entry. Called once per object, by the free path,
// before the object's children are released. Returns the number of handles
// invalidated.
func (t *WeakRefTracker) InvalidateAll(target Ref) int {
	handles, ok := t.byTarget[target]
	if !ok {
		return 0
	}
	for _, w := range handles {
		w.Invalidate()
	}
	delete(t.byTarget, target)
	return len(handles)
}

// TrackedTargets returns the number of targets with registered observers.
func (t *WeakRefTracker) TrackedTargets() int {
	return len(t.byTarget)
}

// ObserverCount returns the number of weak refs registered against target.
func (t *WeakRefTracker) ObserverCount(target Ref) int {
	return len(t.byTarget[target])
}
