package marksweep

import (
	"github.com/ValentinKolb/genms/lib/heap"
	"github.com/ValentinKolb/genms/lib/scheduler"
)

// nurseryTracer visits nursery objects only: survivors are promoted, every
// other object is treated as already traced
type nurseryTracer struct {
	p *GenMarkSweep
}

func (t nurseryTracer) TraceObject(queue scheduler.ObjectQueue, obj heap.Address, w *scheduler.Worker) (heap.Address, error) {
	return t.p.TraceObjectNursery(queue, obj, w)
}

// fullHeapTracer visits the whole heap: nursery objects are promoted (and
// marked by the copy context), mature objects are marked in place
type fullHeapTracer struct {
	p *GenMarkSweep
}

func (t fullHeapTracer) TraceObject(queue scheduler.ObjectQueue, obj heap.Address, w *scheduler.Worker) (heap.Address, error) {
	switch {
	case t.p.IsObjectInNursery(obj):
		return t.p.TraceObjectNursery(queue, obj, w)
	case t.p.ms.Contains(obj):
		return t.p.ms.TraceObject(queue, obj), nil
	default:
		return obj, nil
	}
}

// NewNurseryWorkContext returns the nursery-only tracing configuration
func NewNurseryWorkContext(p *GenMarkSweep) *scheduler.WorkContext {
	return &scheduler.WorkContext{
		Name:      "nursery",
		IsNursery: true,
		Tracer:    nurseryTracer{p: p},
	}
}

// NewFullHeapWorkContext returns the full-heap tracing configuration
func NewFullHeapWorkContext(p *GenMarkSweep) *scheduler.WorkContext {
	return &scheduler.WorkContext{
		Name:      "full-heap",
		IsNursery: false,
		Tracer:    fullHeapTracer{p: p},
	}
}
