package plan

import (
	"github.com/ValentinKolb/genms/lib/common"
	"github.com/ValentinKolb/genms/lib/heap"
	"github.com/ValentinKolb/genms/lib/scheduler"
	"github.com/ValentinKolb/genms/lib/vm"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("plan")

// CreateGeneralPlanArgs are the global arguments every plan is created from
type CreateGeneralPlanArgs struct {
	Options *common.Options
	Binding vm.Binding
}

// SpaceStats is the statistic of one space that can demand a collection
// independently of the plan's own triggers
type SpaceStats struct {
	Name          string
	ReservedPages uint64
	LimitPages    uint64
}

// --------------------------------------------------------------------------
// Capability sets
// --------------------------------------------------------------------------

// Plan is the lifecycle contract every collection plan offers to the
// collector and the scheduler.
//
// The phase methods (ScheduleCollection, Prepare, Release, EndOfGC) are
// called once per cycle, in that order, by a single coordinating goroutine
// or a single work packet. They never run concurrently with each other.
type Plan interface {
	scheduler.PhasePlan

	Constraints() *PlanConstraints

	// ScheduleCollection decides the scope of the cycle and adds its work
	// packets to the scheduler
	ScheduleCollection(s *scheduler.GCWorkScheduler)
	// EndOfGC runs after the cycle's release
	EndOfGC(tls vm.ThreadContext)

	// CollectionRequired is called by the allocation slow path
	CollectionRequired(spaceFull bool, stats *SpaceStats) bool

	PageAccounting

	// AllocatorMapping returns the immutable semantics to allocator table
	AllocatorMapping() *AllocatorMapping
	// Allocator returns the allocator a selector refers to
	Allocator(sel AllocatorSelector) Allocator
}

// GenerationalPlan adds the generational queries to Plan
type GenerationalPlan interface {
	Plan

	IsCurrentGCNursery() bool
	IsObjectInNursery(obj heap.Address) bool
	IsAddressInNursery(addr heap.Address) bool

	MaturePhysicalPagesAvailable() uint64
	PromotionReservePages() uint64
	MatureReservedPages() uint64

	LastCollectionFullHeap() bool
	ForceFullHeapCollection()
}

// GenerationalPlanExt adds nursery tracing to GenerationalPlan
type GenerationalPlanExt interface {
	GenerationalPlan

	TraceObjectNursery(queue scheduler.ObjectQueue, obj heap.Address, w *scheduler.Worker) (heap.Address, error)
}

// --------------------------------------------------------------------------
// Accounting helpers
// --------------------------------------------------------------------------

// PageAccounting is the page accounting of a plan
type PageAccounting interface {
	// UsedPages returns the pages held by objects
	UsedPages() uint64
	// CollectionReservedPages returns the pages that must stay free for the
	// collection itself (copy reserve)
	CollectionReservedPages() uint64
	// TotalPages returns the heap budget in pages
	TotalPages() uint64
}

// ReservedPages returns the pages in use plus the pages reserved for collection
func ReservedPages(p PageAccounting) uint64 {
	return p.UsedPages() + p.CollectionReservedPages()
}

// AvailablePages returns the pages left before the heap is full
func AvailablePages(p PageAccounting) uint64 {
	reserved := ReservedPages(p)
	total := p.TotalPages()
	if reserved >= total {
		return 0
	}
	return total - reserved
}

// IsHeapFull reports whether the reserved pages exceed the heap budget
func IsHeapFull(p PageAccounting) bool {
	return ReservedPages(p) > p.TotalPages()
}
