package collector

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/genms/lib/common"
	"github.com/ValentinKolb/genms/lib/heap"
	"github.com/ValentinKolb/genms/lib/plan"
	"github.com/ValentinKolb/genms/lib/plan/generational/marksweep"
	"github.com/ValentinKolb/genms/lib/policy/marksweepspace"
	"github.com/ValentinKolb/genms/lib/scheduler"
	"github.com/ValentinKolb/genms/lib/util"
	"github.com/ValentinKolb/genms/lib/vm"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("collector")

var (
	// ErrOutOfMemory is returned when an allocation fails even after a
	// full-heap collection, or when promotion ran out of mature space
	ErrOutOfMemory = errors.New("out of memory")
	// ErrCollectorPoisoned is returned by every call after a failed collection
	ErrCollectorPoisoned = errors.New("collector poisoned by a failed collection")
)

// Trigger names why a collection ran
type Trigger string

const (
	TriggerExplicit   Trigger = "explicit"
	TriggerAllocation Trigger = "allocation"
	TriggerUser       Trigger = "user"
	TriggerPoll       Trigger = "poll"
)

// CycleReport describes one finished collection
type CycleReport struct {
	Cycle   uint64  `yaml:"cycle"`
	Kind    string  `yaml:"kind"`
	Trigger Trigger `yaml:"trigger"`

	Pause  time.Duration            `yaml:"pause"`
	Stages map[string]time.Duration `yaml:"stages"`

	PromotedObjects uint64                     `yaml:"promoted_objects"`
	PromotedBytes   uint64                     `yaml:"promoted_bytes"`
	Sweep           marksweepspace.SweepResult `yaml:"sweep"`

	UsedPagesBefore     uint64 `yaml:"used_pages_before"`
	UsedPagesAfter      uint64 `yaml:"used_pages_after"`
	MatureReservedPages uint64 `yaml:"mature_reserved_pages"`
	NextFullHeap        bool   `yaml:"next_full_heap"`

	Workers util.DistributionStats `yaml:"workers"`
}

// FullHeap reports whether the cycle traced the whole heap
func (r *CycleReport) FullHeap() bool {
	return r.Kind == "full-heap"
}

// Collector drives a generational mark-sweep plan: it runs stop-the-world
// collection cycles on a scheduler and serves the allocation slow path of
// its mutators.
//
// Mutators hold the world lock shared while they allocate or write
// references; a collection holds it exclusively, so no mutator runs during a
// cycle.
type Collector struct {
	opts      common.Options
	binding   vm.Binding
	plan      *marksweep.GenMarkSweep
	scheduler *scheduler.GCWorkScheduler
	metrics   *collectorMetrics

	world    sync.RWMutex
	poisoned error // guarded by world

	cycles    atomic.Uint64
	mutators  atomic.Uint64
	lastCycle atomic.Pointer[CycleReport]
}

// New creates a collector for binding. Invalid options and a binding that
// cannot answer the capability query are returned as errors.
//
// Usage:
//
//	c, err := collector.New(opts, binding)
//	if err != nil {
//		return err
//	}
//	m := c.BindMutator()
//	obj, err := m.Alloc(64, plan.Default)
func New(opts *common.Options, binding vm.Binding) (*Collector, error) {
	if opts == nil {
		opts = common.DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := common.InitLoggers(*opts); err != nil {
		return nil, err
	}
	if binding == nil {
		return nil, fmt.Errorf("%w: no binding", common.ErrInvalidOptions)
	}

	returnBarrier, err := binding.SupportsReturnBarrier()
	if err != nil {
		return nil, fmt.Errorf("binding capability query failed: %w", err)
	}

	p, err := marksweep.NewGenMarkSweep(plan.CreateGeneralPlanArgs{Options: opts, Binding: binding})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		opts:      *opts,
		binding:   binding,
		plan:      p,
		scheduler: scheduler.New(opts.Workers, binding),
	}
	if c.metrics, err = newCollectorMetrics(p); err != nil {
		return nil, err
	}

	Logger.Infof("Created collector (return barrier: %v)", returnBarrier)
	Logger.Infof(opts.String())
	return c, nil
}

// Plan returns the plan driven by the collector
func (c *Collector) Plan() *marksweep.GenMarkSweep {
	return c.plan
}

// Options returns the options the collector was created with
func (c *Collector) Options() common.Options {
	return c.opts
}

// --------------------------------------------------------------------------
// Collection
// --------------------------------------------------------------------------

// Collect runs one collection cycle. Its scope is chosen by the plan.
func (c *Collector) Collect(tls vm.ThreadContext) error {
	c.world.Lock()
	defer c.world.Unlock()
	return c.collect(tls, TriggerExplicit, false)
}

// HandleUserCollectionRequest runs a collection on behalf of the program.
// It is full heap if force is set or the collector is configured with
// FullHeapSystemGC.
func (c *Collector) HandleUserCollectionRequest(tls vm.ThreadContext, force bool) error {
	c.world.Lock()
	defer c.world.Unlock()
	return c.collect(tls, TriggerUser, force || c.opts.FullHeapSystemGC)
}

// collectAfter runs an allocation-triggered collection unless another
// mutator already collected since seen. It returns whether the last cycle
// was full heap. The caller must not hold the world lock.
func (c *Collector) collectAfter(tls vm.ThreadContext, seen uint64, fullHeap bool) (bool, error) {
	c.world.Lock()
	defer c.world.Unlock()

	if c.poisoned != nil {
		return false, c.poisonedErr()
	}
	if c.cycles.Load() != seen && !fullHeap {
		return c.plan.LastCollectionFullHeap(), nil
	}
	if err := c.collect(tls, TriggerAllocation, fullHeap); err != nil {
		return false, err
	}
	return c.plan.LastCollectionFullHeap(), nil
}

// poll runs a collection if the plan requires one after an allocation in
// space. A poll of the full mature space collects the full heap. The caller
// must not hold the world lock.
func (c *Collector) poll(tls vm.ThreadContext, space string) error {
	c.world.RLock()
	required := c.poisoned == nil && c.plan.CollectionRequired(false, c.spaceStats(space))
	c.world.RUnlock()
	if !required {
		return nil
	}

	c.world.Lock()
	defer c.world.Unlock()

	if c.poisoned != nil {
		return c.poisonedErr()
	}
	// another mutator may have collected in between
	stats := c.spaceStats(space)
	if !c.plan.CollectionRequired(false, stats) {
		return nil
	}
	fullHeap := space == c.plan.MatureSpace().Name() && stats.ReservedPages >= stats.LimitPages
	Logger.Debugf("poll of %s: collection required at %d/%d pages", space, stats.ReservedPages, stats.LimitPages)
	return c.collect(tls, TriggerPoll, fullHeap)
}

// collect runs a cycle. The caller holds the world lock exclusively.
func (c *Collector) collect(tls vm.ThreadContext, trigger Trigger, forceFullHeap bool) error {
	if c.poisoned != nil {
		return c.poisonedErr()
	}
	if forceFullHeap {
		c.plan.ForceFullHeapCollection()
	}

	start := time.Now()
	report := &CycleReport{
		Cycle:           c.cycles.Load() + 1,
		Trigger:         trigger,
		Stages:          make(map[string]time.Duration, len(scheduler.Stages)),
		UsedPagesBefore: c.plan.UsedPages(),
	}

	c.plan.ScheduleCollection(c.scheduler)
	report.Kind = c.plan.WorkContext().Name

	for _, stage := range scheduler.Stages {
		stageStart := time.Now()
		err := c.scheduler.RunStage(stage, tls)
		elapsed := time.Since(stageStart)
		report.Stages[stage.String()] = elapsed
		c.metrics.stageTimer(stage).Update(elapsed)
		Logger.Debugf("cycle %d: %s took %s", report.Cycle, stage, elapsed)

		if err != nil {
			return c.poison(report, stage, err)
		}
	}

	c.plan.EndOfGC(tls)
	c.cycles.Add(1)

	report.Pause = time.Since(start)
	report.PromotedObjects, report.PromotedBytes = c.plan.CyclePromotions()
	report.Sweep = c.plan.LastSweep()
	report.UsedPagesAfter = c.plan.UsedPages()
	report.MatureReservedPages = c.plan.MatureReservedPages()
	report.NextFullHeap = c.plan.NextGCFullHeap()
	report.Workers = c.scheduler.WorkerDistribution()

	c.metrics.record(report)
	c.lastCycle.Store(report)

	Logger.Infof("cycle %d (%s, %s): pause %s, promoted %d objects (%d bytes), reclaimed %d objects, used pages %d -> %d",
		report.Cycle, report.Kind, report.Trigger, report.Pause, report.PromotedObjects, report.PromotedBytes,
		report.Sweep.ReclaimedObjects, report.UsedPagesBefore, report.UsedPagesAfter)
	Logger.Debugf("cycle %d: worker distribution %.2f (min %.0f, max %.0f packets)",
		report.Cycle, report.Workers.DistributionQuality, report.Workers.Min, report.Workers.Max)
	return nil
}

// poison records a failed cycle. The heap may hold half-forwarded objects,
// so the collector refuses all further work.
func (c *Collector) poison(report *CycleReport, stage scheduler.Stage, err error) error {
	cause := err
	if errors.Is(err, heap.ErrSpaceExhausted) {
		cause = fmt.Errorf("%w: promotion failed: %w", ErrOutOfMemory, err)
	}
	c.poisoned = cause
	c.metrics.failedCollections.Inc()

	Logger.Errorf("cycle %d (%s) failed in %s: %v", report.Cycle, report.Kind, stage, cause)
	return cause
}

func (c *Collector) poisonedErr() error {
	return fmt.Errorf("%w: %w", ErrCollectorPoisoned, c.poisoned)
}

// Poisoned returns the cause of the failed cycle, nil if the collector is healthy
func (c *Collector) Poisoned() error {
	c.world.RLock()
	defer c.world.RUnlock()
	return c.poisoned
}

// LastCycle returns the report of the last successful cycle, nil before the first one
func (c *Collector) LastCycle() *CycleReport {
	return c.lastCycle.Load()
}

// Cycles returns the number of successful cycles
func (c *Collector) Cycles() uint64 {
	return c.cycles.Load()
}
