package generational

import (
	"sync"

	"github.com/ValentinKolb/genms/lib/heap"
	"github.com/ValentinKolb/genms/lib/scheduler"
	"github.com/ValentinKolb/genms/lib/vm"
)

// modBuffer holds the objects recorded by the write barrier since the last cycle
type modBuffer struct {
	mu      sync.Mutex
	objects []heap.Address
}

func newModBuffer() *modBuffer {
	return &modBuffer{}
}

func (b *modBuffer) push(obj heap.Address) {
	b.mu.Lock()
	b.objects = append(b.objects, obj)
	b.mu.Unlock()
}

func (b *modBuffer) drain() []heap.Address {
	b.mu.Lock()
	defer b.mu.Unlock()
	objects := b.objects
	b.objects = nil
	return objects
}

func (b *modBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// SetLogBit arms the barrier for a mature object, e.g. one allocated directly
// into the mature space
func (g *CommonGenPlan) SetLogBit(obj heap.Address) {
	if g.logBit.Covers(obj) {
		g.logBit.TrySet(obj)
	}
}

// IsLogged reports whether writes into obj are still to be recorded
func (g *CommonGenPlan) IsLogged(obj heap.Address) bool {
	return g.logBit.Covers(obj) && g.logBit.IsSet(obj)
}

// ObjectReferenceWrite stores target into slot, a field of src. The first
// write into a mature object after a cycle records src in the mod buffer;
// the next nursery cycle scans it as a root.
//
// Thread-safety: This method is safe for concurrent use by mutators
func (g *CommonGenPlan) ObjectReferenceWrite(src heap.Address, slot vm.Slot, target heap.Address) {
	if g.logBit.Covers(src) && g.logBit.TryClear(src) {
		g.modBuf.push(src)
	}
	slot.Store(target)
}

// ModBufLen returns the number of objects recorded since the last cycle
func (g *CommonGenPlan) ModBufLen() int {
	return g.modBuf.len()
}

// ProcessModBuf drains the mod buffer. It re-arms the barrier of every
// recorded object and, in nursery cycles, scans them as additional roots.
type ProcessModBuf struct {
	Gen     *CommonGenPlan
	Context *scheduler.WorkContext
}

func (p *ProcessModBuf) Do(w *scheduler.Worker) error {
	objects := p.Gen.modBuf.drain()
	for _, obj := range objects {
		p.Gen.logBit.TrySet(obj)
	}
	if !p.Context.IsNursery {
		return nil
	}

	for start := 0; start < len(objects); start += scheduler.ObjectsPerPacket {
		end := min(start+scheduler.ObjectsPerPacket, len(objects))
		w.AddWork(scheduler.Closure, scheduler.NewScanObjects(p.Context, objects[start:end]))
	}
	return nil
}
