package marksweepspace

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/genms/lib/heap"
	"github.com/ValentinKolb/genms/lib/scheduler"
	"github.com/ValentinKolb/genms/lib/util"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("space")

// MarkBitSpec and AllocBitSpec are the local side metadata of the space:
// one bit per 16 byte granule
var (
	MarkBitSpec = heap.SideMetadataSpec{
		Name:             "MarkBit",
		LogNumOfBits:     0,
		LogBytesInRegion: heap.LogMinObjectAlignment,
	}
	AllocBitSpec = heap.SideMetadataSpec{
		Name:             "AllocBit",
		LogNumOfBits:     0,
		LogBytesInRegion: heap.LogMinObjectAlignment,
	}
)

// LocalMetadataSpecs returns the local side metadata specs of a space covering
// covered bytes, laid out back to back
func LocalMetadataSpecs(covered uint64) []heap.SideMetadataSpec {
	return heap.LayoutSpecs(covered, MarkBitSpec, AllocBitSpec)
}

// block is a run of pages holding cells of one size
type block struct {
	start    heap.Address
	pages    uint64
	cellSize uint64
	class    int // -1 for a dedicated large object block
}

func (b *block) end() heap.Address {
	return b.start.Add(heap.PagesToBytes(b.pages))
}

// sizeClass holds the free cells and blocks of one cell size
type sizeClass struct {
	mu     sync.Mutex
	size   uint64
	free   *util.MapHeap // free cells keyed and ordered by address
	blocks []*block
}

// SweepResult summarizes one release
type SweepResult struct {
	LiveObjects      uint64 `yaml:"live_objects"`
	LiveBytes        uint64 `yaml:"live_bytes"`
	ReclaimedObjects uint64 `yaml:"reclaimed_objects"`
	ReclaimedBytes   uint64 `yaml:"reclaimed_bytes"`
	ReleasedPages    uint64 `yaml:"released_pages"`
}

// Stats are the lifetime counters of a space
type Stats struct {
	Prepares      uint64
	Releases      uint64
	Blocks        int
	ReservedPages uint64
	LastSweep     SweepResult
}

// Space is a free-list mark-sweep space.
//
// Small objects are allocated from blocks of BlockPages pages that are split
// into cells of one size class. Objects above MaxSmallSize get a dedicated
// page-rounded block. Allocation state and marks are side metadata bits keyed
// by cell address; sweeping turns allocated but unmarked cells back into free
// cells and returns empty blocks to the page resource.
type Space struct {
	name string
	pr   *heap.PageResource

	mark  *heap.SideMetadata
	alloc *heap.SideMetadata

	classes []*sizeClass

	largeMu sync.Mutex
	large   map[heap.Address]*block

	prepares  atomic.Uint64
	releases  atomic.Uint64
	lastSweep atomic.Pointer[SweepResult]
}

// New creates a space over extent that never reserves more than budgetPages.
// The extent may be larger than the budget so that fragmentation of the free
// page runs does not cap the space early.
func New(name string, extent heap.Range, budgetPages uint64) *Space {
	specs := LocalMetadataSpecs(extent.Bytes())
	s := &Space{
		name:  name,
		pr:    heap.NewPageResource(extent, budgetPages),
		mark:  heap.NewSideMetadata(specs[0], extent),
		alloc: heap.NewSideMetadata(specs[1], extent),
		large: make(map[heap.Address]*block),
	}
	for _, size := range SizeClasses {
		s.classes = append(s.classes, &sizeClass{size: size, free: util.NewMapHeap()})
	}
	s.lastSweep.Store(&SweepResult{})
	return s
}

// Name returns the name of the space
func (s *Space) Name() string {
	return s.name
}

// Extent returns the virtual range of the space
func (s *Space) Extent() heap.Range {
	return s.pr.Extent()
}

// Contains reports whether addr lies inside the space
func (s *Space) Contains(addr heap.Address) bool {
	return s.pr.Extent().Contains(addr)
}

// MetadataContext returns the local side metadata specs of the space
func (s *Space) MetadataContext() []heap.SideMetadataSpec {
	return []heap.SideMetadataSpec{s.mark.Spec(), s.alloc.Spec()}
}

// --------------------------------------------------------------------------
// Allocation
// --------------------------------------------------------------------------

// Alloc returns a free cell of at least size bytes and marks it allocated.
// heap.ErrSpaceExhausted is returned when no page run can be acquired.
//
// Thread-safety: This method is safe for concurrent use
func (s *Space) Alloc(size uint64) (heap.Address, error) {
	size = heap.AlignUp(size, heap.MinObjectAlignment)
	if size == 0 {
		size = heap.MinObjectAlignment
	}

	class := SizeClassFor(size)
	if class < 0 {
		return s.allocLarge(size)
	}

	sc := s.classes[class]
	sc.mu.Lock()
	defer sc.mu.Unlock()

	cell, ok := sc.free.PopMin()
	if !ok {
		if err := s.addBlock(class, sc); err != nil {
			return heap.Null, err
		}
		cell, _ = sc.free.PopMin()
	}

	addr := heap.Address(cell.Key)
	s.alloc.TrySet(addr)
	return addr, nil
}

// addBlock acquires a fresh block for class and adds its cells to the free list.
// The caller holds sc.mu.
func (s *Space) addBlock(class int, sc *sizeClass) error {
	start, err := s.pr.AcquirePages(BlockPages)
	if err != nil {
		return fmt.Errorf("%w: %s cannot acquire a block for %d byte cells", heap.ErrSpaceExhausted, s.name, sc.size)
	}

	b := &block{start: start, pages: BlockPages, cellSize: sc.size, class: class}
	sc.blocks = append(sc.blocks, b)
	for cell := b.start; cell.Add(sc.size) <= b.end(); cell = cell.Add(sc.size) {
		sc.free.AddItem(uint64(cell), uint64(cell))
	}
	return nil
}

func (s *Space) allocLarge(size uint64) (heap.Address, error) {
	pages := heap.BytesToPages(size)
	start, err := s.pr.AcquirePages(pages)
	if err != nil {
		return heap.Null, fmt.Errorf("%w: %s cannot acquire %d pages for a %d byte object", heap.ErrSpaceExhausted, s.name, pages, size)
	}

	s.largeMu.Lock()
	s.large[start] = &block{start: start, pages: pages, cellSize: heap.PagesToBytes(pages), class: -1}
	s.largeMu.Unlock()

	s.alloc.TrySet(start)
	return start, nil
}

// IsAllocated reports whether obj is an allocated cell of the space
func (s *Space) IsAllocated(obj heap.Address) bool {
	return s.Contains(obj) && s.alloc.IsSet(obj)
}

// --------------------------------------------------------------------------
// Marking
// --------------------------------------------------------------------------

// Prepare clears all mark bits so that every object is unmarked before a
// full-heap trace. Calling it twice without a Release in between is harmless.
func (s *Space) Prepare() {
	s.mark.Zero()
	s.prepares.Add(1)
	Logger.Debugf("%s prepared, %d pages reserved", s.name, s.ReservedPages())
}

// Mark sets the mark bit of obj and returns true if this call marked it.
// Concurrent calls for the same object return true exactly once.
func (s *Space) Mark(obj heap.Address) bool {
	return s.mark.TrySet(obj)
}

// IsMarked reports whether obj is marked
func (s *Space) IsMarked(obj heap.Address) bool {
	return s.Contains(obj) && s.mark.IsSet(obj)
}

// TraceObject marks obj and enqueues it for scanning on the first mark.
// Objects of a mark-sweep space never move.
func (s *Space) TraceObject(queue scheduler.ObjectQueue, obj heap.Address) heap.Address {
	if s.Mark(obj) {
		queue.Enqueue(obj)
	}
	return obj
}

// --------------------------------------------------------------------------
// Sweeping
// --------------------------------------------------------------------------

// Release sweeps the space: unmarked allocated cells are freed, marked cells
// keep their allocation and lose their mark, and blocks without a live cell
// are returned to the page resource.
func (s *Space) Release() SweepResult {
	var result SweepResult

	for _, sc := range s.classes {
		s.sweepClass(sc, &result)
	}
	s.sweepLarge(&result)

	s.releases.Add(1)
	s.lastSweep.Store(&result)
	Logger.Debugf("%s swept: %d live, %d reclaimed (%d bytes), %d pages released",
		s.name, result.LiveObjects, result.ReclaimedObjects, result.ReclaimedBytes, result.ReleasedPages)
	return result
}

func (s *Space) sweepClass(sc *sizeClass, result *SweepResult) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if len(sc.blocks) == 0 {
		return
	}

	// the free list is rebuilt from the blocks that stay
	sc.free.Clear()
	kept := sc.blocks[:0]
	for _, b := range sc.blocks {
		var live uint64
		for cell := b.start; cell.Add(sc.size) <= b.end(); cell = cell.Add(sc.size) {
			if !s.alloc.IsSet(cell) {
				continue
			}
			if s.mark.TryClear(cell) {
				live++
				continue
			}
			s.alloc.TryClear(cell)
			result.ReclaimedObjects++
			result.ReclaimedBytes += sc.size
		}

		if live == 0 {
			s.pr.ReleasePages(b.start, b.pages)
			result.ReleasedPages += b.pages
			continue
		}

		result.LiveObjects += live
		result.LiveBytes += live * sc.size
		kept = append(kept, b)
		for cell := b.start; cell.Add(sc.size) <= b.end(); cell = cell.Add(sc.size) {
			if !s.alloc.IsSet(cell) {
				sc.free.AddItem(uint64(cell), uint64(cell))
			}
		}
	}
	for i := len(kept); i < len(sc.blocks); i++ {
		sc.blocks[i] = nil
	}
	sc.blocks = kept
}

func (s *Space) sweepLarge(result *SweepResult) {
	s.largeMu.Lock()
	defer s.largeMu.Unlock()

	for start, b := range s.large {
		if s.mark.TryClear(start) {
			result.LiveObjects++
			result.LiveBytes += b.cellSize
			continue
		}
		s.alloc.TryClear(start)
		s.pr.ReleasePages(b.start, b.pages)
		delete(s.large, start)
		result.ReclaimedObjects++
		result.ReclaimedBytes += b.cellSize
		result.ReleasedPages += b.pages
	}
}

// --------------------------------------------------------------------------
// Accounting
// --------------------------------------------------------------------------

// ReservedPages returns the pages held by blocks of the space
func (s *Space) ReservedPages() uint64 {
	return s.pr.ReservedPages()
}

// AvailablePhysicalPages returns how many more pages the space may reserve
func (s *Space) AvailablePhysicalPages() uint64 {
	return s.pr.AvailablePages()
}

// BudgetPages returns the page budget of the space
func (s *Space) BudgetPages() uint64 {
	return s.pr.BudgetPages()
}

// Stats returns the lifetime counters of the space
func (s *Space) Stats() Stats {
	blocks := 0
	for _, sc := range s.classes {
		sc.mu.Lock()
		blocks += len(sc.blocks)
		sc.mu.Unlock()
	}
	s.largeMu.Lock()
	blocks += len(s.large)
	s.largeMu.Unlock()

	return Stats{
		Prepares:      s.prepares.Load(),
		Releases:      s.releases.Load(),
		Blocks:        blocks,
		ReservedPages: s.ReservedPages(),
		LastSweep:     *s.lastSweep.Load(),
	}
}

// AllocatedObjects returns the addresses of all allocated cells in ascending
// order. It walks every block and is meant for tests and diagnostics.
func (s *Space) AllocatedObjects() []heap.Address {
	var objects []heap.Address
	for _, sc := range s.classes {
		sc.mu.Lock()
		for _, b := range sc.blocks {
			for cell := b.start; cell.Add(sc.size) <= b.end(); cell = cell.Add(sc.size) {
				if s.alloc.IsSet(cell) {
					objects = append(objects, cell)
				}
			}
		}
		sc.mu.Unlock()
	}
	s.largeMu.Lock()
	for start := range s.large {
		objects = append(objects, start)
	}
	s.largeMu.Unlock()

	sort.Slice(objects, func(i, j int) bool { return objects[i] < objects[j] })
	return objects
}

// --------------------------------------------------------------------------
// Copy target
// --------------------------------------------------------------------------

// AllocCopy allocates the destination cell of a promoted object
func (s *Space) AllocCopy(size uint64) (heap.Address, error) {
	return s.Alloc(size)
}

// PostCopy finishes a promotion into the space. During a full-heap trace the
// copy must be marked, otherwise the sweep of the same cycle would free it.
func (s *Space) PostCopy(obj heap.Address, markLive bool) {
	if markLive {
		s.Mark(obj)
	}
}
