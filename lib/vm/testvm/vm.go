// Package testvm is a complete in-memory binding: it keeps an object graph
// out of band (a record per object address), owns static, global, thread and
// boot image roots, and implements scanning and copying on those records.
//
// Allocation is done by the caller, usually a collector.Mutator, and the new
// object is then registered at the returned address:
//
//	tvm := testvm.New(testvm.Options{})
//	addr, err := tvm.New(mutator.AllocDefault, 2, 0)
//	tvm.AddStaticRoot().Set(addr)
//
// The package also provides reachability walks that tests use to check that no
// live object is lost and that every object exists exactly once.
package testvm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/genms/lib/heap"
	"github.com/ValentinKolb/genms/lib/vm"
	"github.com/puzpuzpuz/xsync/v3"
)

// AllocFunc allocates size bytes and returns the start of the cell
type AllocFunc func(size uint64) (heap.Address, error)

// Options configures a VM
type Options struct {
	// ReturnBarrier enables partial stack scanning: nursery collections only
	// scan the frames pushed or modified since the last collection
	ReturnBarrier bool
}

// VM implements vm.Binding on an out-of-band object store
type VM struct {
	opts    Options
	objects *xsync.MapOf[heap.Address, *Object]
	nextID  atomic.Uint64

	// roots
	mu        sync.Mutex
	statics   []*RootSlot
	globals   []*RootSlot
	bootImage []*RootSlot
	threads   []*Thread

	// hooks counters
	threadsScanned   atomic.Uint64
	initialScans     atomic.Uint64
	partialScans     atomic.Uint64
	objectsScanned   atomic.Uint64
	objectsCopied    atomic.Uint64
	counterResetHits atomic.Uint64
}

// New creates an empty VM
func New(opts Options) *VM {
	return &VM{
		opts:    opts,
		objects: xsync.NewMapOf[heap.Address, *Object](),
	}
}

// New allocates and registers an object with numFields null reference fields
// and payload bytes of data. It returns the address of the object.
func (v *VM) New(alloc AllocFunc, numFields int, payload uint64) (heap.Address, error) {
	size := ObjectSize(numFields, payload)
	addr, err := alloc(size)
	if err != nil {
		return heap.Null, err
	}
	v.objects.Store(addr, &Object{
		ID:      v.nextID.Add(1),
		Size:    size,
		Payload: payload,
		Fields:  make([]atomic.Uint64, numFields),
	})
	return addr, nil
}

// Object returns the record of the object at addr
func (v *VM) Object(addr heap.Address) (*Object, bool) {
	return v.objects.Load(addr)
}

// FieldSlot returns field i of the object at addr as a slot, e.g. to pass it
// to a write barrier
func (v *VM) FieldSlot(addr heap.Address, i int) (vm.Slot, error) {
	obj, ok := v.objects.Load(addr)
	if !ok {
		return nil, fmt.Errorf("no object at %s", addr)
	}
	if i < 0 || i >= len(obj.Fields) {
		return nil, fmt.Errorf("object %s has no field %d", addr, i)
	}
	return fieldSlot{obj: obj, index: i}, nil
}

// --------------------------------------------------------------------------
// Roots
// --------------------------------------------------------------------------

// AddStaticRoot adds a static variable and returns its slot
func (v *VM) AddStaticRoot() *RootSlot {
	v.mu.Lock()
	defer v.mu.Unlock()
	slot := &RootSlot{}
	v.statics = append(v.statics, slot)
	return slot
}

// AddGlobalRoot adds a global handle and returns its slot
func (v *VM) AddGlobalRoot() *RootSlot {
	v.mu.Lock()
	defer v.mu.Unlock()
	slot := &RootSlot{}
	v.globals = append(v.globals, slot)
	return slot
}

// AddBootImageRoot adds a boot image field and returns its slot
func (v *VM) AddBootImageRoot() *RootSlot {
	v.mu.Lock()
	defer v.mu.Unlock()
	slot := &RootSlot{}
	v.bootImage = append(v.bootImage, slot)
	return slot
}

// NewThread registers a mutator thread with an empty stack
func (v *VM) NewThread() *Thread {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := &Thread{ID: vm.ThreadContext(len(v.threads) + 1)}
	v.threads = append(v.threads, t)
	return t
}

// Roots returns every root slot of the VM
func (v *VM) Roots() []*RootSlot {
	v.mu.Lock()
	defer v.mu.Unlock()

	var roots []*RootSlot
	roots = append(roots, v.statics...)
	roots = append(roots, v.globals...)
	roots = append(roots, v.bootImage...)
	for _, t := range v.threads {
		roots = append(roots, t.slots(false)...)
	}
	return roots
}

// --------------------------------------------------------------------------
// vm.Scanning
// --------------------------------------------------------------------------

func (v *VM) ScanObject(visitor vm.SlotVisitor, addr heap.Address, _ vm.ThreadContext) error {
	obj, ok := v.objects.Load(addr)
	if !ok {
		return fmt.Errorf("scan of unknown object %s", addr)
	}
	v.objectsScanned.Add(1)
	for i := range obj.Fields {
		visitor.VisitSlot(fieldSlot{obj: obj, index: i})
	}
	return nil
}

func visitRoots(visitor vm.SlotVisitor, roots []*RootSlot) {
	for _, r := range roots {
		visitor.VisitSlot(r)
	}
}

func (v *VM) ComputeStaticRoots(visitor vm.SlotVisitor, _ vm.ThreadContext) error {
	v.mu.Lock()
	roots := append([]*RootSlot(nil), v.statics...)
	v.mu.Unlock()
	visitRoots(visitor, roots)
	return nil
}

func (v *VM) ComputeGlobalRoots(visitor vm.SlotVisitor, _ vm.ThreadContext) error {
	v.mu.Lock()
	roots := append([]*RootSlot(nil), v.globals...)
	v.mu.Unlock()
	visitRoots(visitor, roots)
	return nil
}

func (v *VM) ComputeBootImageRoots(visitor vm.SlotVisitor, _ vm.ThreadContext) error {
	v.mu.Lock()
	roots := append([]*RootSlot(nil), v.bootImage...)
	v.mu.Unlock()
	visitRoots(visitor, roots)
	return nil
}

func (v *VM) ComputeThreadRoots(visitor vm.SlotVisitor, _ vm.ThreadContext) error {
	v.mu.Lock()
	threads := append([]*Thread(nil), v.threads...)
	v.mu.Unlock()
	for _, t := range threads {
		visitRoots(visitor, t.slots(false))
		v.threadsScanned.Add(1)
	}
	return nil
}

func (v *VM) ComputeNewThreadRoots(visitor vm.SlotVisitor, _ vm.ThreadContext) error {
	if !v.opts.ReturnBarrier {
		return fmt.Errorf("%w: partial stack scan without a return barrier", vm.ErrNotImplemented)
	}
	v.mu.Lock()
	threads := append([]*Thread(nil), v.threads...)
	v.mu.Unlock()
	for _, t := range threads {
		visitRoots(visitor, t.slots(true))
		v.threadsScanned.Add(1)
	}
	return nil
}

func (v *VM) ResetThreadCounter() {
	v.threadsScanned.Store(0)
	v.counterResetHits.Add(1)
}

func (v *VM) NotifyInitialThreadScanComplete(partialScan bool, _ vm.ThreadContext) error {
	v.initialScans.Add(1)
	if partialScan {
		v.partialScans.Add(1)
	}
	v.mu.Lock()
	threads := append([]*Thread(nil), v.threads...)
	v.mu.Unlock()
	for _, t := range threads {
		t.scanned()
	}
	return nil
}

func (v *VM) SupportsReturnBarrier() (bool, error) {
	return v.opts.ReturnBarrier, nil
}

// --------------------------------------------------------------------------
// vm.ObjectModel
// --------------------------------------------------------------------------

func (v *VM) GetCurrentSize(addr heap.Address) (uint64, error) {
	obj, ok := v.objects.Load(addr)
	if !ok {
		return 0, fmt.Errorf("size of unknown object %s", addr)
	}
	return obj.Size, nil
}

func (v *VM) CopyObject(from, to heap.Address, _ vm.ThreadContext) error {
	obj, ok := v.objects.Load(from)
	if !ok {
		return fmt.Errorf("copy of unknown object %s", from)
	}
	v.objects.Store(to, obj.clone())
	v.objectsCopied.Add(1)
	return nil
}

// --------------------------------------------------------------------------
// Counters
// --------------------------------------------------------------------------

// Counters is a snapshot of the binding calls made by the collector
type Counters struct {
	ThreadsScanned uint64
	InitialScans   uint64
	PartialScans   uint64
	ObjectsScanned uint64
	ObjectsCopied  uint64
	CounterResets  uint64
}

// Counters returns the current call counters
func (v *VM) Counters() Counters {
	return Counters{
		ThreadsScanned: v.threadsScanned.Load(),
		InitialScans:   v.initialScans.Load(),
		PartialScans:   v.partialScans.Load(),
		ObjectsScanned: v.objectsScanned.Load(),
		ObjectsCopied:  v.objectsCopied.Load(),
		CounterResets:  v.counterResetHits.Load(),
	}
}
