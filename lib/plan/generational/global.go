package generational

import (
	"sync/atomic"

	"github.com/ValentinKolb/genms/lib/common"
	"github.com/ValentinKolb/genms/lib/heap"
	"github.com/ValentinKolb/genms/lib/plan"
	"github.com/ValentinKolb/genms/lib/policy/copyspace"
	"github.com/ValentinKolb/genms/lib/scheduler"
	"github.com/ValentinKolb/genms/lib/util"
	"github.com/ValentinKolb/genms/lib/vm"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("plan")

// LogBitSpec is the global side metadata of generational plans: one bit per
// granule, set for mature objects whose writes have not been recorded yet
var LogBitSpec = heap.SideMetadataSpec{
	Name:             "LogBit",
	IsGlobal:         true,
	LogNumOfBits:     0,
	LogBytesInRegion: heap.LogMinObjectAlignment,
}

// GlobalMetadataSpecs returns the global side metadata specs of a
// generational plan covering covered bytes of heap
func GlobalMetadataSpecs(covered uint64) []heap.SideMetadataSpec {
	return heap.LayoutSpecs(covered, LogBitSpec)
}

// MatureSpaceQuery is what the full-heap heuristic needs to know about the
// mature space
type MatureSpaceQuery interface {
	MaturePhysicalPagesAvailable() uint64
	// PromotionReservePages returns the pages promoting the current nursery
	// may take beyond its own page count (size class rounding, partly
	// filled blocks)
	PromotionReservePages() uint64
}

// CommonGenPlan is the generation coordinator shared by generational plans.
// It owns the nursery, decides the scope of each cycle, traces nursery
// objects (promoting survivors) and runs the object-remembering barrier.
//
// The cycle-state flags are written only by the coordinating goroutine at
// phase boundaries. Workers may read them.
type CommonGenPlan struct {
	Nursery *copyspace.Space

	heapExtent heap.Range
	headroom   float64
	logBit     *heap.SideMetadata
	modBuf     *modBuffer

	gcFullHeap             atomic.Bool
	nextGCFullHeap         atomic.Bool
	lastCollectionFullHeap atomic.Bool

	promotedObjects *xsync.Counter
	promotedBytes   *xsync.Counter
	promotedSizes   *util.SizeHistogram
}

// NewCommonGenPlan creates a coordinator with a nursery covering nursery.
// heapExtent is the range the global log bit has to describe.
func NewCommonGenPlan(opts *common.Options, nursery heap.Range, heapExtent heap.Range) *CommonGenPlan {
	specs := GlobalMetadataSpecs(heapExtent.Bytes())
	return &CommonGenPlan{
		Nursery:         copyspace.New("nursery", nursery),
		heapExtent:      heapExtent,
		headroom:        opts.PromotionHeadroom,
		logBit:          heap.NewSideMetadata(specs[0], heapExtent),
		modBuf:          newModBuffer(),
		promotedObjects: xsync.NewCounter(),
		promotedBytes:   xsync.NewCounter(),
		promotedSizes:   util.NewSizeHistogram(),
	}
}

// MetadataSpecs returns the global side metadata specs in use
func (g *CommonGenPlan) MetadataSpecs() []heap.SideMetadataSpec {
	return []heap.SideMetadataSpec{g.logBit.Spec()}
}

// --------------------------------------------------------------------------
// Heuristic and cycle state
// --------------------------------------------------------------------------

// RequiresFullHeapCollection decides the scope of the cycle about to be
// scheduled: full heap if one was requested, or if promoting the whole
// nursery (scaled by the promotion headroom, plus the mature space's
// promotion reserve) would not fit into the pages the mature space has left.
func (g *CommonGenPlan) RequiresFullHeapCollection(p MatureSpaceQuery) bool {
	if g.nextGCFullHeap.Load() {
		return true
	}
	return g.promotionExceeds(g.Nursery.ReservedPages(), p.PromotionReservePages(), p)
}

// ShouldNextGCBeFullHeap re-applies the heuristic after a release. The
// nursery is empty then, so its capacity stands in for the next cycle's
// promotion volume.
func (g *CommonGenPlan) ShouldNextGCBeFullHeap(p MatureSpaceQuery) bool {
	return g.promotionExceeds(g.Nursery.CapacityPages(), p.PromotionReservePages(), p)
}

func (g *CommonGenPlan) promotionExceeds(nurseryPages, reservePages uint64, p MatureSpaceQuery) bool {
	projected := float64(nurseryPages)*g.headroom + float64(reservePages)
	return projected > float64(p.MaturePhysicalPagesAvailable())
}

// BeginCycle fixes the scope of the cycle and consumes a pending full-heap
// request
func (g *CommonGenPlan) BeginCycle(fullHeap bool) {
	g.gcFullHeap.Store(fullHeap)
	g.nextGCFullHeap.Store(false)
}

// IsCurrentGCNursery reports whether the current (or last) cycle is nursery-only
func (g *CommonGenPlan) IsCurrentGCNursery() bool {
	return !g.gcFullHeap.Load()
}

// IsObjectInNursery reports whether obj lives in the nursery
func (g *CommonGenPlan) IsObjectInNursery(obj heap.Address) bool {
	return g.Nursery.Contains(obj)
}

// IsAddressInNursery reports whether addr lies inside the nursery range
func (g *CommonGenPlan) IsAddressInNursery(addr heap.Address) bool {
	return g.Nursery.Contains(addr)
}

// SetNextGCFullHeap sets or clears the full-heap request for the next cycle
func (g *CommonGenPlan) SetNextGCFullHeap(next bool) {
	g.nextGCFullHeap.Store(next)
}

// NextGCFullHeap reports whether the next cycle has to be full heap
func (g *CommonGenPlan) NextGCFullHeap() bool {
	return g.nextGCFullHeap.Load()
}

// ForceFullHeapCollection makes the next cycle a full-heap cycle.
// Forcing again while a request is pending changes nothing.
func (g *CommonGenPlan) ForceFullHeapCollection() {
	g.nextGCFullHeap.Store(true)
}

// LastCollectionFullHeap reports whether the last released cycle was full heap
func (g *CommonGenPlan) LastCollectionFullHeap() bool {
	return g.lastCollectionFullHeap.Load()
}

// --------------------------------------------------------------------------
// Phases
// --------------------------------------------------------------------------

// Prepare resets the nursery bookkeeping
func (g *CommonGenPlan) Prepare(vm.ThreadContext) {
	g.Nursery.Prepare()
}

// Release empties the nursery and records the scope of the finished cycle
func (g *CommonGenPlan) Release(vm.ThreadContext) {
	g.Nursery.Release()
	g.lastCollectionFullHeap.Store(g.gcFullHeap.Load())
}

// EndOfGC decides the default scope of the next cycle. A pending request
// stays pending.
func (g *CommonGenPlan) EndOfGC(p MatureSpaceQuery) {
	next := g.nextGCFullHeap.Load() || g.ShouldNextGCBeFullHeap(p)
	g.nextGCFullHeap.Store(next)
	Logger.Debugf("next cycle full heap: %v", next)
}

// --------------------------------------------------------------------------
// Triggers and accounting
// --------------------------------------------------------------------------

// CollectionRequired is true if the nursery is full, the failing space says
// so, the supplied space statistic reached its limit, or the heap is full
func (g *CommonGenPlan) CollectionRequired(p plan.PageAccounting, spaceFull bool, stats *plan.SpaceStats) bool {
	if g.Nursery.IsFull() || spaceFull {
		return true
	}
	if stats != nil && stats.LimitPages > 0 && stats.ReservedPages >= stats.LimitPages {
		return true
	}
	return plan.IsHeapFull(p)
}

// UsedPages returns the pages used by the nursery
func (g *CommonGenPlan) UsedPages() uint64 {
	return g.Nursery.ReservedPages()
}

// CollectionReservedPages returns the copy reserve: every nursery page may
// have to be promoted
func (g *CommonGenPlan) CollectionReservedPages() uint64 {
	return g.Nursery.ReservedPages()
}

// --------------------------------------------------------------------------
// Nursery tracing
// --------------------------------------------------------------------------

// TraceObjectNursery promotes a nursery object into the mature space exactly
// once per cycle and enqueues the copy for scanning. Objects outside the
// nursery are returned unchanged.
func (g *CommonGenPlan) TraceObjectNursery(queue scheduler.ObjectQueue, obj heap.Address, w *scheduler.Worker, copyCtx *plan.CopyContext) (heap.Address, error) {
	if !g.Nursery.Contains(obj) {
		return obj, nil
	}

	var size uint64
	newObj, created, err := g.Nursery.Forward(obj, func() (heap.Address, error) {
		to, copied, err := copyCtx.Copy(obj, plan.PromoteToMature, w.TLS)
		size = copied
		return to, err
	})
	if err != nil {
		return heap.Null, err
	}

	if created {
		// the copy is mature: writes into it must be remembered
		g.logBit.TrySet(newObj)
		g.Nursery.RecordForwarded(size)
		g.promotedObjects.Inc()
		g.promotedBytes.Add(int64(size))
		g.promotedSizes.AddSample(size)
		queue.Enqueue(newObj)
	}
	return newObj, nil
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// PromotionStats summarizes promotions
type PromotionStats struct {
	Objects     int64  `yaml:"objects"`
	Bytes       int64  `yaml:"bytes"`
	AverageSize uint64 `yaml:"average_size"`
	MedianSize  uint64 `yaml:"median_size"`
	P99Size     uint64 `yaml:"p99_size"`
}

// Promotions returns the promotions since the plan was created
func (g *CommonGenPlan) Promotions() PromotionStats {
	return PromotionStats{
		Objects:     g.promotedObjects.Value(),
		Bytes:       g.promotedBytes.Value(),
		AverageSize: g.promotedSizes.AverageSize(),
		MedianSize:  g.promotedSizes.MedianEstimate(),
		P99Size:     g.promotedSizes.GetPercentileEstimate(99),
	}
}

// CyclePromotions returns the objects and bytes promoted in the current (or last) cycle
func (g *CommonGenPlan) CyclePromotions() (objects, bytes uint64) {
	return g.Nursery.Forwarded()
}
