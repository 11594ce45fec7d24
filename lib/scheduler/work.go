package scheduler

import (
	"fmt"

	"github.com/ValentinKolb/genms/lib/heap"
	"github.com/ValentinKolb/genms/lib/vm"
)

const (
	// EdgesPerPacket is the maximum number of slots in one ProcessEdges packet
	EdgesPerPacket = 4096
	// ObjectsPerPacket is the maximum number of objects in one ScanObjects packet
	ObjectsPerPacket = 1024
)

// ObjectQueue receives objects that have to be scanned
type ObjectQueue interface {
	Enqueue(obj heap.Address)
}

// ObjectTracer is the per-object visitor of a tracing configuration.
// TraceObject returns the (possibly new) address the slot has to point to and
// enqueues the object for scanning if this call made it live.
// It is called concurrently by all workers.
type ObjectTracer interface {
	TraceObject(queue ObjectQueue, obj heap.Address, w *Worker) (heap.Address, error)
}

// WorkContext is a tracing configuration: the object visitor of a cycle and
// whether the cycle is nursery-only
type WorkContext struct {
	Name      string
	IsNursery bool
	Tracer    ObjectTracer
}

// PhasePlan is the part of a plan the phase packets call into
type PhasePlan interface {
	Prepare(tls vm.ThreadContext)
	Release(tls vm.ThreadContext)
}

// ScheduleCommonWork adds the packets every cycle runs: plan prepare, root
// scanning, plan release
func ScheduleCommonWork(s *GCWorkScheduler, ctx *WorkContext, plan PhasePlan) {
	s.AddWork(Prepare, &PreparePlan{Plan: plan})

	s.AddWork(Closure, &ScanStaticRoots{Context: ctx})
	s.AddWork(Closure, &ScanGlobalRoots{Context: ctx})
	s.AddWork(Closure, &ScanThreadRoots{Context: ctx})
	s.AddWork(Closure, &ScanBootImageRoots{Context: ctx})

	s.AddWork(Release, &ReleasePlan{Plan: plan})
}

// --------------------------------------------------------------------------
// Phase packets
// --------------------------------------------------------------------------

// PreparePlan resets the binding's thread counter and prepares the plan
type PreparePlan struct {
	Plan PhasePlan
}

func (p *PreparePlan) Do(w *Worker) error {
	w.Binding().ResetThreadCounter()
	p.Plan.Prepare(w.TLS)
	return nil
}

// ReleasePlan releases the plan after the closure drained
type ReleasePlan struct {
	Plan PhasePlan
}

func (p *ReleasePlan) Do(w *Worker) error {
	p.Plan.Release(w.TLS)
	return nil
}

// --------------------------------------------------------------------------
// Root packets
// --------------------------------------------------------------------------

// ScanStaticRoots traces the static roots
type ScanStaticRoots struct {
	Context *WorkContext
}

func (p *ScanStaticRoots) Do(w *Worker) error {
	return scanRoots(w, p.Context, "static", w.Binding().ComputeStaticRoots)
}

// ScanGlobalRoots traces the global roots
type ScanGlobalRoots struct {
	Context *WorkContext
}

func (p *ScanGlobalRoots) Do(w *Worker) error {
	return scanRoots(w, p.Context, "global", w.Binding().ComputeGlobalRoots)
}

// ScanBootImageRoots traces the references held by the boot image
type ScanBootImageRoots struct {
	Context *WorkContext
}

func (p *ScanBootImageRoots) Do(w *Worker) error {
	return scanRoots(w, p.Context, "boot image", w.Binding().ComputeBootImageRoots)
}

// ScanThreadRoots traces the stacks of all mutator threads. Nursery cycles
// only scan the frames created since the last cycle if the binding has a
// return barrier.
type ScanThreadRoots struct {
	Context *WorkContext
}

func (p *ScanThreadRoots) Do(w *Worker) error {
	binding := w.Binding()

	partial := false
	if p.Context.IsNursery {
		supported, err := binding.SupportsReturnBarrier()
		if err != nil {
			return fmt.Errorf("return barrier query: %w", err)
		}
		partial = supported
	}

	if partial {
		if err := scanRoots(w, p.Context, "new thread", binding.ComputeNewThreadRoots); err != nil {
			return err
		}
	} else {
		if err := scanRoots(w, p.Context, "thread", binding.ComputeThreadRoots); err != nil {
			return err
		}
	}

	if err := binding.NotifyInitialThreadScanComplete(partial, w.TLS); err != nil {
		return fmt.Errorf("thread scan notification: %w", err)
	}
	return nil
}

func scanRoots(w *Worker, ctx *WorkContext, kind string, compute func(vm.SlotVisitor, vm.ThreadContext) error) error {
	edges := newEdgeBuffer(w, ctx)
	if err := compute(edges, w.TLS); err != nil {
		return fmt.Errorf("%s roots: %w", kind, err)
	}
	edges.flush()
	return nil
}

// --------------------------------------------------------------------------
// Closure packets
// --------------------------------------------------------------------------

// ProcessEdges traces the objects referenced by a batch of slots and updates
// the slots with the address returned by the tracer
type ProcessEdges struct {
	Context *WorkContext
	Slots   []vm.Slot
}

func (p *ProcessEdges) Do(w *Worker) error {
	objects := newObjectBuffer(w, p.Context)
	for _, slot := range p.Slots {
		obj := slot.Load()
		if obj.IsNull() {
			continue
		}
		newObj, err := p.Context.Tracer.TraceObject(objects, obj, w)
		if err != nil {
			return fmt.Errorf("%s trace of %s: %w", p.Context.Name, obj, err)
		}
		if newObj != obj {
			slot.Store(newObj)
		}
	}
	objects.flush()
	return nil
}

// ScanObjects enumerates the slots of a batch of live objects
type ScanObjects struct {
	Context *WorkContext
	Objects []heap.Address
}

func (p *ScanObjects) Do(w *Worker) error {
	edges := newEdgeBuffer(w, p.Context)
	for _, obj := range p.Objects {
		if err := w.Binding().ScanObject(edges, obj, w.TLS); err != nil {
			return fmt.Errorf("scan of %s: %w", obj, err)
		}
	}
	edges.flush()
	return nil
}

// --------------------------------------------------------------------------
// Buffers
// --------------------------------------------------------------------------

// edgeBuffer collects slots into ProcessEdges packets
type edgeBuffer struct {
	w     *Worker
	ctx   *WorkContext
	slots []vm.Slot
}

func newEdgeBuffer(w *Worker, ctx *WorkContext) *edgeBuffer {
	return &edgeBuffer{w: w, ctx: ctx}
}

func (b *edgeBuffer) VisitSlot(slot vm.Slot) {
	b.slots = append(b.slots, slot)
	if len(b.slots) >= EdgesPerPacket {
		b.flush()
	}
}

func (b *edgeBuffer) flush() {
	if len(b.slots) == 0 {
		return
	}
	b.w.AddWork(Closure, &ProcessEdges{Context: b.ctx, Slots: b.slots})
	b.slots = nil
}

// objectBuffer collects newly live objects into ScanObjects packets
type objectBuffer struct {
	w       *Worker
	ctx     *WorkContext
	objects []heap.Address
}

func newObjectBuffer(w *Worker, ctx *WorkContext) *objectBuffer {
	return &objectBuffer{w: w, ctx: ctx}
}

func (b *objectBuffer) Enqueue(obj heap.Address) {
	b.objects = append(b.objects, obj)
	if len(b.objects) >= ObjectsPerPacket {
		b.flush()
	}
}

func (b *objectBuffer) flush() {
	if len(b.objects) == 0 {
		return
	}
	b.w.AddWork(Closure, &ScanObjects{Context: b.ctx, Objects: b.objects})
	b.objects = nil
}

// NewScanObjects returns a packet scanning objects as roots of the closure,
// e.g. the objects recorded by a write barrier
func NewScanObjects(ctx *WorkContext, objects []heap.Address) *ScanObjects {
	return &ScanObjects{Context: ctx, Objects: objects}
}
