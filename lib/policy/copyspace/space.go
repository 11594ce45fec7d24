// Package copyspace implements the nursery: a contiguous region with lock-free
// bump allocation whose survivors are evacuated into another space.
//
// Objects never stay in the nursery across a collection. Every object reached
// during a cycle is copied exactly once; the forwarding table records the new
// address so that all other references to the original resolve to the same
// copy. Release then resets the region as a whole.
package copyspace

import (
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/genms/lib/heap"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("space")

// CopyFunc copies an object and returns the address of the copy
type CopyFunc func() (heap.Address, error)

// Space is a bump-allocated nursery with a forwarding table
type Space struct {
	name   string
	extent heap.Range

	// cursor is the next free address
	cursor atomic.Uint64

	forwarding *xsync.MapOf[heap.Address, heap.Address]

	// per-cycle counters
	forwarded     atomic.Uint64
	forwardedByte atomic.Uint64
}

// New creates a nursery covering extent
func New(name string, extent heap.Range) *Space {
	s := &Space{
		name:       name,
		extent:     extent,
		forwarding: xsync.NewMapOf[heap.Address, heap.Address](),
	}
	s.cursor.Store(uint64(extent.Start))
	return s
}

// Name returns the name of the space
func (s *Space) Name() string {
	return s.name
}

// Extent returns the address range of the space
func (s *Space) Extent() heap.Range {
	return s.extent
}

// Contains reports whether addr lies inside the nursery
func (s *Space) Contains(addr heap.Address) bool {
	return s.extent.Contains(addr)
}

// --------------------------------------------------------------------------
// Allocation
// --------------------------------------------------------------------------

// Alloc reserves size bytes (rounded up to the object alignment).
// It returns heap.ErrSpaceExhausted if the nursery is full.
//
// Thread-safety: This method is safe for concurrent use
func (s *Space) Alloc(size uint64) (heap.Address, error) {
	size = heap.AlignUp(size, heap.MinObjectAlignment)
	for {
		old := s.cursor.Load()
		end := old + size
		if end > uint64(s.extent.End) || end < old {
			return heap.Null, fmt.Errorf("%w: %s cannot fit %d bytes", heap.ErrSpaceExhausted, s.name, size)
		}
		if s.cursor.CompareAndSwap(old, end) {
			return heap.Address(old), nil
		}
	}
}

// UsedBytes returns the number of allocated bytes
func (s *Space) UsedBytes() uint64 {
	return s.cursor.Load() - uint64(s.extent.Start)
}

// ReservedPages returns the number of pages touched by allocation
func (s *Space) ReservedPages() uint64 {
	return heap.BytesToPages(s.UsedBytes())
}

// CapacityPages returns the size of the nursery in pages
func (s *Space) CapacityPages() uint64 {
	return s.extent.Bytes() >> heap.LogPageSize
}

// IsFull reports whether every page of the nursery is reserved
func (s *Space) IsFull() bool {
	return s.ReservedPages() >= s.CapacityPages()
}

// --------------------------------------------------------------------------
// Forwarding
// --------------------------------------------------------------------------

// Forward returns the copy of obj, creating it with copyFn if obj has not been
// forwarded in this cycle. created is true for exactly one caller per object,
// no matter how many workers race on it. If copyFn fails, obj stays
// unforwarded and the error is returned.
//
// Thread-safety: This method is safe for concurrent use
func (s *Space) Forward(obj heap.Address, copyFn CopyFunc) (newObj heap.Address, created bool, err error) {
	newObj, _ = s.forwarding.Compute(obj, func(old heap.Address, loaded bool) (heap.Address, bool) {
		if loaded {
			return old, false
		}
		to, copyErr := copyFn()
		if copyErr != nil {
			err = copyErr
			return heap.Null, true
		}
		created = true
		return to, false
	})
	if err != nil {
		return heap.Null, false, err
	}
	return newObj, created, nil
}

// ForwardingOf returns the copy of obj if it was forwarded in this cycle
func (s *Space) ForwardingOf(obj heap.Address) (heap.Address, bool) {
	return s.forwarding.Load(obj)
}

// RecordForwarded adds a created copy to the per-cycle counters
func (s *Space) RecordForwarded(bytes uint64) {
	s.forwarded.Add(1)
	s.forwardedByte.Add(bytes)
}

// Forwarded returns the number of objects and bytes evacuated in this cycle
func (s *Space) Forwarded() (objects, bytes uint64) {
	return s.forwarded.Load(), s.forwardedByte.Load()
}

// --------------------------------------------------------------------------
// Phases
// --------------------------------------------------------------------------

// Prepare resets the per-cycle counters before tracing starts
func (s *Space) Prepare() {
	s.forwarded.Store(0)
	s.forwardedByte.Store(0)
}

// Release drops all objects of the nursery. Every survivor has been evacuated
// at this point, so the whole region becomes free.
func (s *Space) Release() {
	used := s.UsedBytes()
	s.forwarding.Clear()
	s.cursor.Store(uint64(s.extent.Start))

	objects, bytes := s.Forwarded()
	Logger.Debugf("%s released %d bytes, %d objects (%d bytes) survived", s.name, used, objects, bytes)
}
