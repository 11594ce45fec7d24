package plan

import (
	"fmt"

	"github.com/ValentinKolb/genms/lib/heap"
)

// AllocationSemantics is the allocation site semantic a mutator asks for
type AllocationSemantics int

const (
	// Default allocates a young object
	Default AllocationSemantics = iota
	// Mature allocates directly into the mature space (pretenuring)
	Mature
)

func (a AllocationSemantics) String() string {
	switch a {
	case Default:
		return "default"
	case Mature:
		return "mature"
	default:
		return fmt.Sprintf("semantics(%d)", int(a))
	}
}

// AllocatorKind is the kind of allocator a selector refers to
type AllocatorKind int

const (
	BumpPointer AllocatorKind = iota
	FreeList
)

func (k AllocatorKind) String() string {
	switch k {
	case BumpPointer:
		return "bump-pointer"
	case FreeList:
		return "free-list"
	default:
		return fmt.Sprintf("allocator(%d)", int(k))
	}
}

// AllocatorSelector identifies one allocator of a plan
type AllocatorSelector struct {
	Kind  AllocatorKind
	Index int
}

func (s AllocatorSelector) String() string {
	return fmt.Sprintf("%s#%d", s.Kind, s.Index)
}

// Allocator allocates mutator objects in one space
type Allocator interface {
	// Alloc returns size bytes or an error wrapping heap.ErrSpaceExhausted
	Alloc(size uint64) (heap.Address, error)
	// SpaceName names the space the allocator serves
	SpaceName() string
}

// AllocatorMapping maps allocation semantics to allocator selectors.
// It is built once by the plan and never changes afterwards.
type AllocatorMapping struct {
	selectors map[AllocationSemantics]AllocatorSelector
}

// NewAllocatorMapping creates an immutable mapping from a copy of selectors
func NewAllocatorMapping(selectors map[AllocationSemantics]AllocatorSelector) *AllocatorMapping {
	m := &AllocatorMapping{selectors: make(map[AllocationSemantics]AllocatorSelector, len(selectors))}
	for sem, sel := range selectors {
		m.selectors[sem] = sel
	}
	return m
}

// Selector returns the selector of sem
func (m *AllocatorMapping) Selector(sem AllocationSemantics) (AllocatorSelector, bool) {
	sel, ok := m.selectors[sem]
	return sel, ok
}

// Len returns the number of mapped semantics
func (m *AllocatorMapping) Len() int {
	return len(m.selectors)
}
