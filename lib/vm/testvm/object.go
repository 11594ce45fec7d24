package testvm

import (
	"sync/atomic"

	"github.com/ValentinKolb/genms/lib/heap"
)

const (
	// HeaderBytes is the size of the object header (id and field count)
	HeaderBytes = 16
	// FieldBytes is the size of one reference field
	FieldBytes = 8
)

// ObjectSize returns the aligned size of an object with numFields reference
// fields and payload bytes of non-reference data
func ObjectSize(numFields int, payload uint64) uint64 {
	return heap.AlignUp(HeaderBytes+uint64(numFields)*FieldBytes+payload, heap.MinObjectAlignment)
}

// Object is the record of one object of the test heap.
// The record is stored out of band, keyed by the object's address.
type Object struct {
	// ID identifies the object across copies
	ID      uint64
	Size    uint64
	Payload uint64
	Fields  []atomic.Uint64
}

// NumFields returns the number of reference fields
func (o *Object) NumFields() int {
	return len(o.Fields)
}

// Field returns the reference stored in field i
func (o *Object) Field(i int) heap.Address {
	return heap.Address(o.Fields[i].Load())
}

// clone returns a copy of the object record
func (o *Object) clone() *Object {
	c := &Object{
		ID:      o.ID,
		Size:    o.Size,
		Payload: o.Payload,
		Fields:  make([]atomic.Uint64, len(o.Fields)),
	}
	for i := range o.Fields {
		c.Fields[i].Store(o.Fields[i].Load())
	}
	return c
}

// --------------------------------------------------------------------------
// Slots
// --------------------------------------------------------------------------

// fieldSlot is a reference field of an object
type fieldSlot struct {
	obj   *Object
	index int
}

func (s fieldSlot) Load() heap.Address {
	return heap.Address(s.obj.Fields[s.index].Load())
}

func (s fieldSlot) Store(ref heap.Address) {
	s.obj.Fields[s.index].Store(uint64(ref))
}

// RootSlot is a slot outside the heap: a static variable, a global handle,
// a stack slot or a boot image field
type RootSlot struct {
	value   atomic.Uint64
	onStore func()
}

// Load returns the reference held by the root
func (r *RootSlot) Load() heap.Address {
	return heap.Address(r.value.Load())
}

// Store replaces the reference held by the root
func (r *RootSlot) Store(ref heap.Address) {
	r.value.Store(uint64(ref))
}

// Set stores ref like a mutator would. For stack slots this also tells the
// return barrier that the frame has been modified.
func (r *RootSlot) Set(ref heap.Address) {
	r.Store(ref)
	if r.onStore != nil {
		r.onStore()
	}
}
