// Package snapshot captures a point-in-time picture of a live heap —
// object records plus memory statistics — and serializes it to canonical
// CBOR for offline leak diagnosis.
package snapshot

import (
	"time"

	"github.com/velalang/vela/vm"
)

// Handle is a packed (index, generation) heap handle, stable across
// serialization.
type Handle uint64

// PackHandle converts a vm.Ref to its wire form.
func PackHandle(r vm.Ref) Handle {
	return Handle(uint64(r.Index)<<16 | uint64(r.Gen))
}

// Unpack converts the wire form back to a vm.Ref.
func (h Handle) Unpack() vm.Ref {
	return vm.Ref{Index: uint32(h >> 16), Gen: uint16(h & 0xFFFF)}
}

// ObjectRecord describes one live object at capture time.
type ObjectRecord struct {
	Handle   Handle   `cbor:"handle"`
	Kind     string   `cbor:"kind"`
	RefCount int      `cbor:"refcount"`
	Size     int      `cbor:"size"`
	IsWeak   bool     `cbor:"weak,omitempty"`
	Children []Handle `cbor:"children,omitempty"`
}

// StatsRecord mirrors vm.ARCStats on the wire.
type StatsRecord struct {
	TotalRetains     uint64 `cbor:"retains"`
	TotalReleases    uint64 `cbor:"releases"`
	TotalFrees       uint64 `cbor:"frees"`
	TotalAllocations uint64 `cbor:"allocations"`
	LiveObjects      int    `cbor:"live"`
	PeakLiveObjects  int    `cbor:"peak"`
	BytesLive        int64  `cbor:"bytes-live"`
	BytesAllocated   int64  `cbor:"bytes-allocated"`
	BytesFreed       int64  `cbor:"bytes-freed"`
	CycleCheckCount  uint64 `cbor:"cycle-checks"`
	CyclesDetected   uint64 `cbor:"cycles-detected"`
	CycleFrees       uint64 `cbor:"cycle-frees"`
}

// Snapshot is one captured heap picture.
type Snapshot struct {
	CapturedAt time.Time      `cbor:"captured-at"`
	Stats      StatsRecord    `cbor:"stats"`
	Objects    []ObjectRecord `cbor:"objects"`
}

// Capture walks the live set of m's heap. Like cycle detection, capture is
// a safe-point operation: the VM triggers it between instructions, never
// from inside a release cascade.
func Capture(m *vm.Memory) *Snapshot {
	stats := m.Stats()
	snap := &Snapshot{
		CapturedAt: time.Now().UTC(),
		Stats: StatsRecord{
			TotalRetains:     stats.TotalRetains,
			TotalReleases:    stats.TotalReleases,
			TotalFrees:       stats.TotalFrees,
			TotalAllocations: stats.TotalAllocations,
			LiveObjects:      stats.LiveObjects,
			PeakLiveObjects:  stats.PeakLiveObjects,
			BytesLive:        stats.BytesLive,
			BytesAllocated:   stats.BytesAllocated,
			BytesFreed:       stats.BytesFreed,
			CycleCheckCount:  stats.CycleCheckCount,
			CyclesDetected:   stats.CyclesDetected,
			CycleFrees:       stats.CycleFrees,
		},
	}

	m.Heap.ForEachLive(func(info vm.ObjectInfo) {
		rec := ObjectRecord{
			Handle:   PackHandle(info.Ref),
			Kind:     info.Kind.String(),
			RefCount: info.RefCount,
			Size:     info.Size,
			IsWeak:   info.IsWeak,
		}
		for _, child := range info.Children {
			rec.Children = append(rec.Children, PackHandle(child))
		}
		snap.Objects = append(snap.Objects, rec)
	})
	return snap
}

// Object returns the record for a handle, or false.
func (s *Snapshot) Object(h Handle) (ObjectRecord, bool) {
	for _, rec := range s.Objects {
		if rec.Handle == h {
			return rec, true
		}
	}
	return ObjectRecord{}, false
}

// Referrers returns the handles of every object holding a child edge to h.
func (s *Snapshot) Referrers(h Handle) []Handle {
	var owners []Handle
	for _, rec := range s.Objects {
		for _, child := range rec.Children {
			if child == h {
				owners = append(owners, rec.Handle)
				break
			}
		}
	}
	return owners
}

// CountByKind returns a per-kind census of the captured objects.
func (s *Snapshot) CountByKind() map[string]int {
	counts := make(map[string]int)
	for _, rec := range s.Objects {
		counts[rec.Kind]++
	}
	return counts
}
