package marksweep

import (
	"fmt"

	"github.com/ValentinKolb/genms/lib/common"
	"github.com/ValentinKolb/genms/lib/heap"
	"github.com/ValentinKolb/genms/lib/plan"
	"github.com/ValentinKolb/genms/lib/plan/generational"
	"github.com/ValentinKolb/genms/lib/policy/copyspace"
	"github.com/ValentinKolb/genms/lib/policy/marksweepspace"
	"github.com/ValentinKolb/genms/lib/scheduler"
	"github.com/ValentinKolb/genms/lib/vm"
)

var Logger = generational.Logger

// GenMarkSweep is the generational mark-sweep plan: a bump-allocated nursery
// whose survivors are promoted into a free-list mark-sweep mature space.
//
// Each cycle is either nursery-only or full heap. The scope is fixed when the
// cycle is scheduled. A nursery cycle promotes every reachable nursery object
// and leaves the mature space untouched; a full-heap cycle additionally
// prepares, marks and sweeps the mature space.
type GenMarkSweep struct {
	*generational.CommonGenPlan

	opts        common.Options
	binding     vm.Binding
	constraints plan.PlanConstraints
	heapExtent  heap.Range

	ms *marksweepspace.Space
	// everything allocated in the nursery since its last release
	nurseryDemand *marksweepspace.Demand

	mapping    *plan.AllocatorMapping
	allocators map[plan.AllocatorSelector]plan.Allocator
	copyConfig *plan.CopyConfig

	// set at schedule time, read by the workers of the cycle
	copyContext *plan.CopyContext
	workContext *scheduler.WorkContext
	lastSweep   marksweepspace.SweepResult
}

var _ plan.GenerationalPlanExt = (*GenMarkSweep)(nil)

// Layout returns the address ranges of the nursery and the mature space for
// the given options. The mature space gets twice its budget as virtual range.
func Layout(opts *common.Options) (nursery, mature heap.Range) {
	nursery = heap.Range{
		Start: heap.HeapStart,
		End:   heap.HeapStart.Add(opts.NurserySize),
	}
	matureStart := nursery.End.AlignUp(marksweepspace.BlockBytes)
	mature = heap.Range{
		Start: matureStart,
		End:   matureStart.Add(2 * heap.AlignUp(opts.MatureSize(), marksweepspace.BlockBytes)),
	}
	return nursery, mature
}

// NewGenMarkSweep creates the plan. Invalid options and an inconsistent side
// metadata layout are configuration errors and are returned.
func NewGenMarkSweep(args plan.CreateGeneralPlanArgs) (*GenMarkSweep, error) {
	opts := args.Options
	if opts == nil {
		opts = common.DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if args.Binding == nil {
		return nil, fmt.Errorf("%w: no binding", common.ErrInvalidOptions)
	}

	nurseryExtent, matureExtent := Layout(opts)
	heapExtent := heap.Range{Start: nurseryExtent.Start, End: matureExtent.End}

	p := &GenMarkSweep{
		CommonGenPlan: generational.NewCommonGenPlan(opts, nurseryExtent, heapExtent),
		opts:          *opts,
		binding:       args.Binding,
		constraints:   plan.GenConstraints(opts.NurserySize),
		heapExtent:    heapExtent,
		ms:            marksweepspace.New("ms", matureExtent, heap.BytesToPages(opts.MatureSize())),
		nurseryDemand: marksweepspace.NewDemand(),
	}

	p.copyConfig = plan.NewCopyConfig(map[plan.CopySemantics]plan.CopyAllocator{
		plan.PromoteToMature: p.ms,
	})

	nurserySel := plan.AllocatorSelector{Kind: plan.BumpPointer, Index: 0}
	matureSel := plan.AllocatorSelector{Kind: plan.FreeList, Index: 0}
	p.mapping = plan.NewAllocatorMapping(map[plan.AllocationSemantics]plan.AllocatorSelector{
		plan.Default: nurserySel,
		plan.Mature:  matureSel,
	})
	p.allocators = map[plan.AllocatorSelector]plan.Allocator{
		nurserySel: &nurseryAllocator{space: p.Nursery, demand: p.nurseryDemand},
		matureSel:  &matureAllocator{space: p.ms, gen: p.CommonGenPlan},
	}

	if err := p.VerifySideMetadataSanity(); err != nil {
		return nil, err
	}

	Logger.Infof("created generational mark-sweep plan: nursery %s, mature %s (%d pages)",
		nurseryExtent, matureExtent, p.ms.BudgetPages())
	return p, nil
}

// VerifySideMetadataSanity checks the global specs of the coordinator, laid
// out over the whole heap, and the local specs of the mature space, laid out
// over its own extent
func (p *GenMarkSweep) VerifySideMetadataSanity() error {
	return heap.VerifySideMetadataSanity(p.heapExtent.Bytes(), heap.SideMetadataContext{
		Global:       p.CommonGenPlan.MetadataSpecs(),
		Local:        p.ms.MetadataContext(),
		LocalCovered: p.ms.Extent().Bytes(),
	})
}

// MatureSpace returns the mature mark-sweep space
func (p *GenMarkSweep) MatureSpace() *marksweepspace.Space {
	return p.ms
}

// Options returns the options the plan was created with
func (p *GenMarkSweep) Options() common.Options {
	return p.opts
}

// Constraints returns the static constraints of the plan
func (p *GenMarkSweep) Constraints() *plan.PlanConstraints {
	return &p.constraints
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// RequiresFullHeapCollection applies the coordinator's heuristic to this plan
func (p *GenMarkSweep) RequiresFullHeapCollection() bool {
	return p.CommonGenPlan.RequiresFullHeapCollection(p)
}

// ScheduleCollection fixes the scope of the cycle and adds the work of the
// matching tracing configuration to the scheduler
func (p *GenMarkSweep) ScheduleCollection(s *scheduler.GCWorkScheduler) {
	fullHeap := p.RequiresFullHeapCollection()
	p.CommonGenPlan.BeginCycle(fullHeap)

	p.copyContext = plan.NewCopyContext(p.copyConfig, p.binding, fullHeap)
	if fullHeap {
		p.workContext = NewFullHeapWorkContext(p)
	} else {
		p.workContext = NewNurseryWorkContext(p)
	}

	scheduler.ScheduleCommonWork(s, p.workContext, p)
	s.AddWork(scheduler.Closure, &generational.ProcessModBuf{Gen: p.CommonGenPlan, Context: p.workContext})

	Logger.Debugf("scheduled %s collection: nursery %d pages, mature %d of %d pages",
		p.workContext.Name, p.Nursery.ReservedPages(), p.ms.ReservedPages(), p.ms.BudgetPages())
}

// WorkContext returns the tracing configuration of the current (or last) cycle
func (p *GenMarkSweep) WorkContext() *scheduler.WorkContext {
	return p.workContext
}

// Prepare prepares the nursery and, in full-heap cycles, the mature space
func (p *GenMarkSweep) Prepare(tls vm.ThreadContext) {
	p.CommonGenPlan.Prepare(tls)
	if !p.IsCurrentGCNursery() {
		p.ms.Prepare()
	}
}

// Release releases the nursery and, in full-heap cycles, sweeps the mature space
func (p *GenMarkSweep) Release(tls vm.ThreadContext) {
	p.CommonGenPlan.Release(tls)
	p.nurseryDemand.Reset()
	if !p.IsCurrentGCNursery() {
		p.lastSweep = p.ms.Release()
	} else {
		p.lastSweep = marksweepspace.SweepResult{}
	}
}

// LastSweep returns the result of the last cycle's sweep (zero after a
// nursery cycle)
func (p *GenMarkSweep) LastSweep() marksweepspace.SweepResult {
	return p.lastSweep
}

// EndOfGC decides the default scope of the next cycle
func (p *GenMarkSweep) EndOfGC(vm.ThreadContext) {
	p.CommonGenPlan.EndOfGC(p)
}

// CollectionRequired is called by the allocation slow path
func (p *GenMarkSweep) CollectionRequired(spaceFull bool, stats *plan.SpaceStats) bool {
	return p.CommonGenPlan.CollectionRequired(p, spaceFull, stats)
}

// --------------------------------------------------------------------------
// Accounting
// --------------------------------------------------------------------------

// UsedPages returns the nursery pages plus the pages of the mature space
func (p *GenMarkSweep) UsedPages() uint64 {
	return p.CommonGenPlan.UsedPages() + p.ms.ReservedPages()
}

// CollectionReservedPages returns the copy reserve of the nursery
func (p *GenMarkSweep) CollectionReservedPages() uint64 {
	return p.CommonGenPlan.CollectionReservedPages()
}

// TotalPages returns the heap budget in pages
func (p *GenMarkSweep) TotalPages() uint64 {
	return heap.BytesToPages(p.opts.HeapSize)
}

// MaturePhysicalPagesAvailable returns the pages the mature space may still reserve
func (p *GenMarkSweep) MaturePhysicalPagesAvailable() uint64 {
	return p.ms.AvailablePhysicalPages()
}

// PromotionReservePages returns how many pages more than the nursery holds
// promoting all of it may take: every size class in use may need a fresh
// block, and large objects take whole pages.
func (p *GenMarkSweep) PromotionReservePages() uint64 {
	worst := p.nurseryDemand.Pages()
	nursery := p.Nursery.ReservedPages()
	if worst <= nursery {
		return 0
	}
	return worst - nursery
}

// MatureReservedPages returns the pages reserved by the mature space
func (p *GenMarkSweep) MatureReservedPages() uint64 {
	return p.ms.ReservedPages()
}

// --------------------------------------------------------------------------
// Allocation
// --------------------------------------------------------------------------

// AllocatorMapping returns the immutable semantics to allocator table
func (p *GenMarkSweep) AllocatorMapping() *plan.AllocatorMapping {
	return p.mapping
}

// Allocator returns the allocator of sel, nil if the plan has none
func (p *GenMarkSweep) Allocator(sel plan.AllocatorSelector) plan.Allocator {
	return p.allocators[sel]
}

// TraceObjectNursery promotes a nursery object with the copy context of the
// current cycle
func (p *GenMarkSweep) TraceObjectNursery(queue scheduler.ObjectQueue, obj heap.Address, w *scheduler.Worker) (heap.Address, error) {
	return p.CommonGenPlan.TraceObjectNursery(queue, obj, w, p.copyContext)
}

type nurseryAllocator struct {
	space  *copyspace.Space
	demand *marksweepspace.Demand
}

func (a *nurseryAllocator) Alloc(size uint64) (heap.Address, error) {
	addr, err := a.space.Alloc(size)
	if err != nil {
		return heap.Null, err
	}
	a.demand.Add(size)
	return addr, nil
}

func (a *nurseryAllocator) SpaceName() string {
	return a.space.Name()
}

// matureAllocator pretenures objects; they are mature from the start and
// need an armed write barrier
type matureAllocator struct {
	space *marksweepspace.Space
	gen   *generational.CommonGenPlan
}

func (a *matureAllocator) Alloc(size uint64) (heap.Address, error) {
	addr, err := a.space.Alloc(size)
	if err != nil {
		return heap.Null, err
	}
	a.gen.SetLogBit(addr)
	return addr, nil
}

func (a *matureAllocator) SpaceName() string {
	return a.space.Name()
}
