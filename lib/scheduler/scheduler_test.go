package scheduler

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/genms/lib/heap"
	"github.com/ValentinKolb/genms/lib/vm"
	"github.com/ValentinKolb/genms/lib/vm/dummyvm"
	"github.com/ValentinKolb/genms/lib/vm/testvm"
)

func expectPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected a panic", name)
		}
	}()
	fn()
}

func TestStagesRunInOrder(t *testing.T) {
	s := New(4, testvm.New(testvm.Options{}))

	var mu sync.Mutex
	var order []Stage
	record := func(stage Stage) GCWork {
		return WorkFunc(func(*Worker) error {
			mu.Lock()
			order = append(order, stage)
			mu.Unlock()
			return nil
		})
	}

	// added in reverse order on purpose
	for i := len(Stages) - 1; i >= 0; i-- {
		s.AddWork(Stages[i], record(Stages[i]))
	}
	if err := s.Run(0); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(order) != len(Stages) {
		t.Fatalf("Expected %d packets, got %d", len(Stages), len(order))
	}
	for i, stage := range Stages {
		if order[i] != stage {
			t.Errorf("Expected %s at position %d, got %s", stage, i, order[i])
		}
	}
	if s.NextStage() != Prepare {
		t.Errorf("Expected the next cycle to start with prepare, got %s", s.NextStage())
	}
}

func TestEmptyStage(t *testing.T) {
	s := New(2, testvm.New(testvm.Options{}))
	if err := s.Run(0); err != nil {
		t.Fatalf("Expected empty stages to complete, got %v", err)
	}
}

func TestStageDrainsDynamicWork(t *testing.T) {
	s := New(8, testvm.New(testvm.Options{}))

	const depth = 10
	var executed atomic.Int64
	var releaseSawAll atomic.Bool

	// every packet spawns two children until depth is reached
	var spawn func(level int) GCWork
	spawn = func(level int) GCWork {
		return WorkFunc(func(w *Worker) error {
			executed.Add(1)
			if level < depth {
				w.AddWork(Closure, spawn(level+1))
				w.AddWork(Closure, spawn(level+1))
			}
			return nil
		})
	}

	s.AddWork(Closure, spawn(0))
	s.AddWork(Release, WorkFunc(func(*Worker) error {
		releaseSawAll.Store(executed.Load() == (1<<(depth+1))-1)
		return nil
	}))

	if err := s.Run(0); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := executed.Load(); got != (1<<(depth+1))-1 {
		t.Errorf("Expected %d packets, got %d", (1<<(depth+1))-1, got)
	}
	if !releaseSawAll.Load() {
		t.Errorf("Expected release to start only after the closure drained")
	}

	var total uint64
	for _, c := range s.WorkerPacketCounts() {
		total += c
	}
	if total != (1<<(depth+1))-1+1 {
		t.Errorf("Expected %d executed packets over all workers, got %d", (1<<(depth+1))-1+1, total)
	}
	if q := s.WorkerDistribution().DistributionQuality; q < 0 || q > 1 {
		t.Errorf("Expected a distribution quality in [0, 1], got %f", q)
	}
}

func TestFirstErrorStopsTheCycle(t *testing.T) {
	s := New(2, testvm.New(testvm.Options{}))
	boom := errors.New("boom")

	var releaseRan atomic.Bool
	s.AddWork(Closure, WorkFunc(func(*Worker) error { return boom }))
	s.AddWork(Release, WorkFunc(func(*Worker) error {
		releaseRan.Store(true)
		return nil
	}))

	if err := s.RunStage(Prepare, 0); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if err := s.RunStage(Closure, 0); !errors.Is(err, boom) {
		t.Fatalf("Expected the packet error, got %v", err)
	}
	if s.Pending(Release) != 0 {
		t.Errorf("Expected later buckets to be discarded")
	}
	if s.NextStage() != Prepare {
		t.Errorf("Expected a failed cycle to end, next stage is %s", s.NextStage())
	}
	if releaseRan.Load() {
		t.Errorf("Expected release not to run")
	}

	// the scheduler is usable for a new cycle
	if err := s.Run(0); err != nil {
		t.Errorf("Expected a clean cycle after a failure, got %v", err)
	}
}

func TestAddWorkToPastStagePanics(t *testing.T) {
	s := New(1, testvm.New(testvm.Options{}))

	if err := s.RunStage(Prepare, 0); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	expectPanic(t, "AddWork(Prepare)", func() {
		s.AddWork(Prepare, WorkFunc(func(*Worker) error { return nil }))
	})
	expectPanic(t, "RunStage(Release)", func() {
		_ = s.RunStage(Release, 0)
	})

	s.AddWork(Closure, WorkFunc(func(w *Worker) error {
		expectPanic(t, "AddWork(Prepare) from a worker", func() {
			w.AddWork(Prepare, WorkFunc(func(*Worker) error { return nil }))
		})
		return nil
	}))
	if err := s.RunStage(Closure, 0); err != nil {
		t.Fatalf("Closure failed: %v", err)
	}
}

// markTracer marks every object in a set and never moves objects
type markTracer struct {
	mu     sync.Mutex
	marked map[heap.Address]int
}

func (m *markTracer) TraceObject(q ObjectQueue, obj heap.Address, _ *Worker) (heap.Address, error) {
	m.mu.Lock()
	m.marked[obj]++
	first := m.marked[obj] == 1
	m.mu.Unlock()
	if first {
		q.Enqueue(obj)
	}
	return obj, nil
}

type phaseCounter struct {
	prepared, released atomic.Int32
}

func (p *phaseCounter) Prepare(vm.ThreadContext) { p.prepared.Add(1) }
func (p *phaseCounter) Release(vm.ThreadContext) { p.released.Add(1) }

func TestClosureReachesEveryObject(t *testing.T) {
	v := testvm.New(testvm.Options{})
	next := heap.HeapStart
	alloc := func(size uint64) (heap.Address, error) {
		addr := next
		next = next.Add(size)
		return addr, nil
	}

	// a linked list of 5000 objects with a back edge and a second root
	const n = 5000
	objects := make([]heap.Address, n)
	for i := range objects {
		objects[i], _ = v.New(alloc, 2, 0)
	}
	for i := 0; i+1 < n; i++ {
		s, _ := v.FieldSlot(objects[i], 0)
		s.Store(objects[i+1])
		back, _ := v.FieldSlot(objects[i+1], 1)
		back.Store(objects[i])
	}
	v.AddStaticRoot().Set(objects[0])
	v.NewThread().Push().Set(objects[n/2])
	garbage, _ := v.New(alloc, 0, 0)

	tracer := &markTracer{marked: make(map[heap.Address]int)}
	ctx := &WorkContext{Name: "test", Tracer: tracer}
	plan := &phaseCounter{}

	s := New(4, v)
	ScheduleCommonWork(s, ctx, plan)
	if err := s.Run(0); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, obj := range objects {
		if tracer.marked[obj] == 0 {
			t.Fatalf("Expected %s to be traced", obj)
		}
	}
	if tracer.marked[garbage] != 0 {
		t.Errorf("Expected unreachable %s not to be traced", garbage)
	}
	if got := v.Counters().ObjectsScanned; got != n {
		t.Errorf("Expected every object to be scanned once, got %d scans", got)
	}
	if plan.prepared.Load() != 1 || plan.released.Load() != 1 {
		t.Errorf("Expected one prepare and one release, got %d/%d", plan.prepared.Load(), plan.released.Load())
	}
	if c := v.Counters(); c.CounterResets != 1 || c.InitialScans != 1 || c.PartialScans != 0 {
		t.Errorf("Unexpected binding hooks %+v", c)
	}
}

func TestPartialThreadScanInNurseryCycles(t *testing.T) {
	v := testvm.New(testvm.Options{ReturnBarrier: true})
	tracer := &markTracer{marked: make(map[heap.Address]int)}
	plan := &phaseCounter{}
	s := New(2, v)

	ScheduleCommonWork(s, &WorkContext{Name: "nursery", IsNursery: true, Tracer: tracer}, plan)
	if err := s.Run(0); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	ScheduleCommonWork(s, &WorkContext{Name: "full", Tracer: tracer}, plan)
	if err := s.Run(0); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if c := v.Counters(); c.InitialScans != 2 || c.PartialScans != 1 {
		t.Errorf("Expected one partial and one full thread scan, got %+v", c)
	}
}

func TestUnimplementedBindingFailsBeforeRelease(t *testing.T) {
	tracer := &markTracer{marked: make(map[heap.Address]int)}
	plan := &phaseCounter{}
	s := New(2, dummyvm.New())

	ScheduleCommonWork(s, &WorkContext{Name: "full", Tracer: tracer}, plan)
	err := s.Run(0)
	if !errors.Is(err, vm.ErrNotImplemented) {
		t.Fatalf("Expected ErrNotImplemented, got %v", err)
	}
	if plan.prepared.Load() != 1 {
		t.Errorf("Expected prepare to run once, got %d", plan.prepared.Load())
	}
	if plan.released.Load() != 0 {
		t.Errorf("Expected release to be skipped, got %d", plan.released.Load())
	}
}

func BenchmarkStage(b *testing.B) {
	s := New(4, testvm.New(testvm.Options{}))
	noop := WorkFunc(func(*Worker) error { return nil })

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for j := 0; j < 1000; j++ {
			s.AddWork(Closure, noop)
		}
		if err := s.Run(0); err != nil {
			b.Fatal(err)
		}
	}
}
