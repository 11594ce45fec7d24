package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/genms/lib/util"
	"github.com/ValentinKolb/genms/lib/vm"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("scheduler")

// --------------------------------------------------------------------------
// Stages
// --------------------------------------------------------------------------

// Stage is a work bucket of a collection cycle. Stages are opened strictly in
// order; a stage is open until every packet in it, including the packets its
// own packets added, has been executed.
type Stage int

const (
	// Prepare runs the plan's prepare phase
	Prepare Stage = iota
	// Closure scans the roots and computes the transitive closure
	Closure
	// Release runs the plan's release phase
	Release
	// Final runs packets that must see the released heap
	Final

	numStages
)

// Stages lists all stages in execution order
var Stages = []Stage{Prepare, Closure, Release, Final}

func (s Stage) String() string {
	switch s {
	case Prepare:
		return "prepare"
	case Closure:
		return "closure"
	case Release:
		return "release"
	case Final:
		return "final"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// --------------------------------------------------------------------------
// Work packets and workers
// --------------------------------------------------------------------------

// GCWork is a unit of collection work executed by one worker
type GCWork interface {
	Do(w *Worker) error
}

// WorkFunc adapts a function to the GCWork interface
type WorkFunc func(w *Worker) error

// Do calls f(w)
func (f WorkFunc) Do(w *Worker) error {
	return f(w)
}

// Worker is the execution context of a GC worker goroutine
type Worker struct {
	// ID is the index of the worker in [0, Workers)
	ID int
	// TLS is the thread context passed to the binding
	TLS vm.ThreadContext

	scheduler *GCWorkScheduler
}

// Scheduler returns the scheduler the worker belongs to
func (w *Worker) Scheduler() *GCWorkScheduler {
	return w.scheduler
}

// Binding returns the runtime binding
func (w *Worker) Binding() vm.Binding {
	return w.scheduler.binding
}

// AddWork adds a packet to the given stage
func (w *Worker) AddWork(stage Stage, work GCWork) {
	w.scheduler.AddWork(stage, work)
}

// --------------------------------------------------------------------------
// Scheduler
// --------------------------------------------------------------------------

// stageRun is the state of the currently open stage
type stageRun struct {
	inbox   *util.LockFreeMPSC[GCWork]
	pending atomic.Int64

	errOnce sync.Once
	err     error
	failed  atomic.Bool
}

func (r *stageRun) fail(err error) {
	r.errOnce.Do(func() {
		r.err = err
		r.failed.Store(true)
	})
}

// GCWorkScheduler executes the work packets of a cycle on a pool of workers.
//
// Packets are added to stage buckets. RunStage opens a bucket: its packets are
// pushed into the stage inbox, a lock-free MPSC queue that every worker can
// feed, and a single dispatcher hands them to the workers. The first packet
// error is recorded, all remaining packets of the stage are skipped and the
// error is returned; the buckets of later stages are discarded.
type GCWorkScheduler struct {
	workers int
	binding vm.Binding

	mu      sync.Mutex
	buckets [numStages][]GCWork
	next    Stage     // the next stage RunStage may open
	open    Stage     // the open stage, valid while active != nil
	active  *stageRun // nil while no stage is open

	executed []atomic.Uint64 // packets executed per worker in this cycle
}

// New creates a scheduler with the given number of workers
func New(workers int, binding vm.Binding) *GCWorkScheduler {
	if workers < 1 {
		workers = 1
	}
	return &GCWorkScheduler{
		workers:  workers,
		binding:  binding,
		executed: make([]atomic.Uint64, workers),
	}
}

// Workers returns the number of workers
func (s *GCWorkScheduler) Workers() int {
	return s.workers
}

// Binding returns the runtime binding
func (s *GCWorkScheduler) Binding() vm.Binding {
	return s.binding
}

// AddWork adds a packet to stage. Work for the open stage becomes visible to
// the workers immediately; work for a later stage waits in its bucket.
// Adding work to a stage that already ran in this cycle is a programming
// error and panics.
//
// Thread-safety: This method is safe for concurrent use by workers and the
// coordinating goroutine
func (s *GCWorkScheduler) AddWork(stage Stage, work GCWork) {
	if stage < Prepare || stage >= numStages {
		panic(fmt.Sprintf("work added to unknown %s", stage))
	}

	s.mu.Lock()
	if run := s.active; run != nil && stage == s.open {
		run.pending.Add(1)
		s.mu.Unlock()
		if !run.inbox.Push(&work) {
			panic(fmt.Sprintf("work added to %s after it drained", stage))
		}
		return
	}
	defer s.mu.Unlock()

	if (s.active != nil && stage < s.open) || (s.active == nil && stage < s.next) {
		panic(fmt.Sprintf("work added to %s, which already ran in this cycle", stage))
	}
	s.buckets[stage] = append(s.buckets[stage], work)
}

// Pending returns the number of packets waiting in the bucket of stage
func (s *GCWorkScheduler) Pending(stage Stage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets[stage])
}

// NextStage returns the stage the next RunStage call has to open
func (s *GCWorkScheduler) NextStage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// RunStage opens stage and blocks until all of its work has been executed.
// Stages must be run in order, starting with Prepare for every cycle.
// On error the cycle is over: later buckets are discarded and the next call
// must open Prepare again.
func (s *GCWorkScheduler) RunStage(stage Stage, tls vm.ThreadContext) error {
	s.mu.Lock()
	if s.active != nil || stage != s.next {
		s.mu.Unlock()
		panic(fmt.Sprintf("%s opened out of order, expected %s", stage, s.next))
	}
	if stage == Prepare {
		for i := range s.executed {
			s.executed[i].Store(0)
		}
	}

	work := s.buckets[stage]
	s.buckets[stage] = nil

	run := &stageRun{inbox: util.NewLockFreeMPSC[GCWork]()}
	run.pending.Store(int64(len(work)))
	s.active = run
	s.open = stage
	s.mu.Unlock()

	Logger.Debugf("opening %s with %d packets", stage, len(work))

	for i := range work {
		run.inbox.Push(&work[i])
	}
	if len(work) == 0 {
		run.inbox.Close()
	}

	// dispatch to the workers until the stage drained
	packets := make(chan GCWork)
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go s.work(&Worker{ID: i, TLS: tls, scheduler: s}, run, packets, &wg)
	}
	for p := range run.inbox.Recv() {
		packets <- *p
	}
	close(packets)
	wg.Wait()
	run.inbox.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil

	if run.err != nil {
		Logger.Errorf("%s failed: %v", stage, run.err)
		for i := range s.buckets {
			s.buckets[i] = nil
		}
		s.next = Prepare
		return run.err
	}

	if stage == Final {
		s.next = Prepare
	} else {
		s.next = stage + 1
	}
	return nil
}

// Run executes all stages of a cycle in order and stops at the first error
func (s *GCWorkScheduler) Run(tls vm.ThreadContext) error {
	for _, stage := range Stages {
		if err := s.RunStage(stage, tls); err != nil {
			return err
		}
	}
	return nil
}

// work executes packets until the dispatcher closes the channel
func (s *GCWorkScheduler) work(w *Worker, run *stageRun, packets <-chan GCWork, wg *sync.WaitGroup) {
	defer wg.Done()

	for p := range packets {
		if !run.failed.Load() {
			if err := p.Do(w); err != nil {
				run.fail(err)
			} else {
				s.executed[w.ID].Add(1)
			}
		}
		if run.pending.Add(-1) == 0 {
			run.inbox.Close()
		}
	}
}

// WorkerPacketCounts returns how many packets each worker executed in the
// current (or last) cycle
func (s *GCWorkScheduler) WorkerPacketCounts() []uint64 {
	counts := make([]uint64, len(s.executed))
	for i := range s.executed {
		counts[i] = s.executed[i].Load()
	}
	return counts
}

// WorkerDistribution summarizes how evenly the packets of the cycle spread
// over the workers
func (s *GCWorkScheduler) WorkerDistribution() util.DistributionStats {
	counts := s.WorkerPacketCounts()
	values := make([]float64, len(counts))
	for i, c := range counts {
		values[i] = float64(c)
	}
	return util.NewDistributionStats(values)
}
