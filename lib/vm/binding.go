package vm

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/genms/lib/heap"
)

// ErrNotImplemented is returned by a binding that does not provide a required
// capability. The collector treats it as a fatal contract violation: skipping a
// scan silently would let live objects be reclaimed.
var ErrNotImplemented = errors.New("binding capability not implemented")

// Unimplemented returns ErrNotImplemented annotated with the operation name
func Unimplemented(op string) error {
	return fmt.Errorf("%w: %s", ErrNotImplemented, op)
}

// ThreadContext identifies the thread (mutator or GC worker) on whose behalf
// the binding is called. Its meaning is owned by the binding.
type ThreadContext uint64

// --------------------------------------------------------------------------
// Slots
// --------------------------------------------------------------------------

// Slot is a location that holds an object reference: a field of an object, a
// static variable, a stack slot. The binding owns its layout.
type Slot interface {
	// Load returns the reference currently stored in the slot
	Load() heap.Address
	// Store replaces the reference in the slot
	Store(ref heap.Address)
}

// SlotVisitor receives the slots enumerated by the binding
type SlotVisitor interface {
	VisitSlot(slot Slot)
}

// SlotVisitorFunc adapts a function to the SlotVisitor interface
type SlotVisitorFunc func(slot Slot)

// VisitSlot calls f(slot)
func (f SlotVisitorFunc) VisitSlot(slot Slot) {
	f(slot)
}

// --------------------------------------------------------------------------
// Capabilities consumed by the collector
// --------------------------------------------------------------------------

// Scanning enumerates references held by objects and by the runtime's roots.
// Every method may be called concurrently by several GC workers.
type Scanning interface {
	// ScanObject reports every reference slot of obj to v
	ScanObject(v SlotVisitor, obj heap.Address, tls ThreadContext) error

	// ComputeStaticRoots reports the slots of static variables
	ComputeStaticRoots(v SlotVisitor, tls ThreadContext) error
	// ComputeGlobalRoots reports runtime-global slots (handles, interned tables, ...)
	ComputeGlobalRoots(v SlotVisitor, tls ThreadContext) error
	// ComputeThreadRoots reports the stack and register slots of all mutator threads
	ComputeThreadRoots(v SlotVisitor, tls ThreadContext) error
	// ComputeNewThreadRoots reports only the frames created since the last
	// collection; used for partial stack scans when a return barrier is installed
	ComputeNewThreadRoots(v SlotVisitor, tls ThreadContext) error
	// ComputeBootImageRoots reports the heap references held by the boot image
	ComputeBootImageRoots(v SlotVisitor, tls ThreadContext) error

	// ResetThreadCounter resets the binding's count of scanned threads
	ResetThreadCounter()
	// NotifyInitialThreadScanComplete tells the binding that the thread roots
	// of this cycle have been enumerated
	NotifyInitialThreadScanComplete(partialScan bool, tls ThreadContext) error
	// SupportsReturnBarrier reports whether partial stack scanning is available
	SupportsReturnBarrier() (bool, error)
}

// ObjectModel gives the collector the object layout facts it needs to copy objects
type ObjectModel interface {
	// GetCurrentSize returns the size of obj in bytes
	GetCurrentSize(obj heap.Address) (uint64, error)
	// CopyObject copies the object at from to the already allocated cell at to
	CopyObject(from, to heap.Address, tls ThreadContext) error
}

// Binding is everything the embedding runtime must provide
type Binding interface {
	Scanning
	ObjectModel
}
