package collector

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/genms/lib/heap"
	"github.com/ValentinKolb/genms/lib/plan"
	"github.com/ValentinKolb/genms/lib/vm"
)

// Mutator is the collector-side state of one mutator thread. A Mutator must
// not be used by more than one goroutine at a time.
type Mutator struct {
	TLS vm.ThreadContext

	c          *Collector
	allocators map[plan.AllocationSemantics]plan.Allocator
	// space the last allocation moved into a fresh page of, polled before
	// the next allocation
	pollSpace string
}

// BindMutator creates the state of a new mutator thread. Its allocators are
// resolved once from the plan's allocator mapping.
func (c *Collector) BindMutator() *Mutator {
	m := &Mutator{
		TLS:        vm.ThreadContext(c.mutators.Add(1)),
		c:          c,
		allocators: make(map[plan.AllocationSemantics]plan.Allocator),
	}
	mapping := c.plan.AllocatorMapping()
	for _, sem := range []plan.AllocationSemantics{plan.Default, plan.Mature} {
		if sel, ok := mapping.Selector(sem); ok {
			m.allocators[sem] = c.plan.Allocator(sel)
		}
	}
	return m
}

// Alloc allocates size bytes with the given semantics. Default allocations
// larger than the plan's nursery limit go straight to the mature space.
//
// Once an allocation moved into a fresh page, the next allocation first asks
// the plan whether a collection is required and runs it. When the space is
// exhausted the mutator triggers a collection and retries. If the allocation
// still fails after a full-heap collection ErrOutOfMemory is returned.
func (m *Mutator) Alloc(size uint64, sem plan.AllocationSemantics) (heap.Address, error) {
	if sem == plan.Default && size > m.c.plan.Constraints().MaxNonLOSDefaultAllocBytes {
		sem = plan.Mature
	}
	alloc, ok := m.allocators[sem]
	if !ok {
		panic(fmt.Sprintf("no allocator for %s", sem))
	}

	if m.pollSpace != "" {
		space := m.pollSpace
		m.pollSpace = ""
		if err := m.c.poll(m.TLS, space); err != nil {
			return heap.Null, err
		}
	}

	for {
		addr, seen, stats, err := m.tryAlloc(alloc, size)
		if err == nil {
			return addr, nil
		}
		if !errors.Is(err, heap.ErrSpaceExhausted) {
			return heap.Null, err
		}

		// the mature space only grows back through a sweep
		fullHeap := sem == plan.Mature
		wasFullHeap, err := m.c.collectAfter(m.TLS, seen, fullHeap)
		if err != nil {
			return heap.Null, err
		}

		addr, _, _, err = m.tryAlloc(alloc, size)
		if err == nil {
			return addr, nil
		}
		if !errors.Is(err, heap.ErrSpaceExhausted) {
			return heap.Null, err
		}
		if wasFullHeap {
			Logger.Warningf("mutator %d: %d byte %s allocation failed after a full-heap collection (%s %d/%d pages)",
				m.TLS, size, sem, stats.Name, stats.ReservedPages, stats.LimitPages)
			return heap.Null, fmt.Errorf("%w: %d bytes (%s): %w", ErrOutOfMemory, size, sem, err)
		}
		// a nursery cycle did not help, the next round escalates
		m.c.world.Lock()
		m.c.plan.ForceFullHeapCollection()
		m.c.world.Unlock()
	}
}

// tryAlloc runs the allocation fast path with the world lock held shared. On
// exhaustion it returns the cycle count it observed and the statistics of the
// failing space.
func (m *Mutator) tryAlloc(alloc plan.Allocator, size uint64) (heap.Address, uint64, *plan.SpaceStats, error) {
	c := m.c
	c.world.RLock()
	defer c.world.RUnlock()

	if c.poisoned != nil {
		return heap.Null, 0, nil, c.poisonedErr()
	}

	addr, err := alloc.Alloc(size)
	if err == nil {
		if entersFreshPage(addr, size) {
			m.pollSpace = alloc.SpaceName()
		}
		return addr, 0, nil, nil
	}

	stats := c.spaceStats(alloc.SpaceName())
	if errors.Is(err, heap.ErrSpaceExhausted) {
		Logger.Debugf("mutator %d: %s exhausted at %d/%d pages", m.TLS, stats.Name, stats.ReservedPages, stats.LimitPages)
	}
	return heap.Null, c.cycles.Load(), stats, err
}

// entersFreshPage reports whether the object at addr ends in a later page
// than the byte before it
func entersFreshPage(addr heap.Address, size uint64) bool {
	if size == 0 {
		size = 1
	}
	return (uint64(addr)-1)>>heap.LogPageSize != (uint64(addr)+size-1)>>heap.LogPageSize
}

// AllocDefault allocates size bytes with default semantics. Its signature
// matches an allocation callback of the binding.
func (m *Mutator) AllocDefault(size uint64) (heap.Address, error) {
	return m.Alloc(size, plan.Default)
}

// AllocMature allocates size bytes directly in the mature space
func (m *Mutator) AllocMature(size uint64) (heap.Address, error) {
	return m.Alloc(size, plan.Mature)
}

// WriteReference stores target into slot, a reference field of src, through
// the plan's write barrier
func (m *Mutator) WriteReference(src heap.Address, slot vm.Slot, target heap.Address) {
	m.c.world.RLock()
	defer m.c.world.RUnlock()
	m.c.plan.ObjectReferenceWrite(src, slot, target)
}

// spaceStats returns the occupancy of the named space
func (c *Collector) spaceStats(name string) *plan.SpaceStats {
	if name == c.plan.Nursery.Name() {
		return &plan.SpaceStats{
			Name:          name,
			ReservedPages: c.plan.Nursery.ReservedPages(),
			LimitPages:    c.plan.Nursery.CapacityPages(),
		}
	}
	ms := c.plan.MatureSpace()
	return &plan.SpaceStats{
		Name:          name,
		ReservedPages: ms.ReservedPages(),
		LimitPages:    ms.BudgetPages(),
	}
}
