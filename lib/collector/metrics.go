package collector

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/genms/lib/plan/generational"
	"github.com/ValentinKolb/genms/lib/plan/generational/marksweep"
	"github.com/ValentinKolb/genms/lib/scheduler"
	vmetrics "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// collectorMetrics holds the exported counters of a collector (a
// VictoriaMetrics set, written in the Prometheus text format) and the timing
// statistics (a go-metrics registry).
type collectorMetrics struct {
	set *vmetrics.Set

	nurseryCollections  *vmetrics.Counter
	fullHeapCollections *vmetrics.Counter
	failedCollections   *vmetrics.Counter
	promotedObjects     *vmetrics.Counter
	promotedBytes       *vmetrics.Counter
	reclaimedObjects    *vmetrics.Counter
	reclaimedBytes      *vmetrics.Counter

	registry  gometrics.Registry
	pause     gometrics.Timer
	stages    map[scheduler.Stage]gometrics.Timer
	survivors gometrics.Histogram
}

func newCollectorMetrics(p *marksweep.GenMarkSweep) (*collectorMetrics, error) {
	set := vmetrics.NewSet()
	m := &collectorMetrics{
		set:                 set,
		nurseryCollections:  set.NewCounter(`genms_collections_total{kind="nursery"}`),
		fullHeapCollections: set.NewCounter(`genms_collections_total{kind="full-heap"}`),
		failedCollections:   set.NewCounter(`genms_collections_failed_total`),
		promotedObjects:     set.NewCounter(`genms_promoted_objects_total`),
		promotedBytes:       set.NewCounter(`genms_promoted_bytes_total`),
		reclaimedObjects:    set.NewCounter(`genms_reclaimed_objects_total`),
		reclaimedBytes:      set.NewCounter(`genms_reclaimed_bytes_total`),

		registry:  gometrics.NewRegistry(),
		pause:     gometrics.NewTimer(),
		stages:    make(map[scheduler.Stage]gometrics.Timer, len(scheduler.Stages)),
		survivors: gometrics.NewHistogram(gometrics.NewExpDecaySample(1028, 0.015)),
	}

	set.NewGauge(`genms_used_pages`, func() float64 {
		return float64(p.UsedPages())
	})
	set.NewGauge(`genms_total_pages`, func() float64 {
		return float64(p.TotalPages())
	})
	set.NewGauge(`genms_nursery_pages`, func() float64 {
		return float64(p.Nursery.ReservedPages())
	})
	set.NewGauge(`genms_mature_reserved_pages`, func() float64 {
		return float64(p.MatureReservedPages())
	})

	if err := register(m.registry, "genms.pause", m.pause); err != nil {
		return nil, err
	}
	if err := register(m.registry, "genms.survivor_bytes", m.survivors); err != nil {
		return nil, err
	}
	for _, stage := range scheduler.Stages {
		t := gometrics.NewTimer()
		m.stages[stage] = t
		if err := register(m.registry, "genms.stage."+stage.String(), t); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// register adds metric to r under name
func register(r gometrics.Registry, name string, metric interface{}) error {
	if err := r.Register(name, metric); err != nil {
		return fmt.Errorf("failed to register metric %s: %w", name, err)
	}
	return nil
}

func (m *collectorMetrics) stageTimer(stage scheduler.Stage) gometrics.Timer {
	return m.stages[stage]
}

// record adds a finished cycle to all metrics
func (m *collectorMetrics) record(r *CycleReport) {
	if r.FullHeap() {
		m.fullHeapCollections.Inc()
	} else {
		m.nurseryCollections.Inc()
	}
	m.promotedObjects.Add(int(r.PromotedObjects))
	m.promotedBytes.Add(int(r.PromotedBytes))
	m.reclaimedObjects.Add(int(r.Sweep.ReclaimedObjects))
	m.reclaimedBytes.Add(int(r.Sweep.ReclaimedBytes))

	m.pause.Update(r.Pause)
	m.survivors.Update(int64(r.PromotedBytes + r.Sweep.LiveBytes))
}

// --------------------------------------------------------------------------
// Stats
// --------------------------------------------------------------------------

// TimerStats summarizes a timer
type TimerStats struct {
	Count int64         `yaml:"count"`
	Mean  time.Duration `yaml:"mean"`
	P99   time.Duration `yaml:"p99"`
	Max   time.Duration `yaml:"max"`
}

func newTimerStats(t gometrics.Timer) TimerStats {
	s := t.Snapshot()
	return TimerStats{
		Count: s.Count(),
		Mean:  time.Duration(s.Mean()),
		P99:   time.Duration(s.Percentile(0.99)),
		Max:   time.Duration(s.Max()),
	}
}

// HistogramStats summarizes a histogram
type HistogramStats struct {
	Count int64   `yaml:"count"`
	Mean  float64 `yaml:"mean"`
	P50   float64 `yaml:"p50"`
	P99   float64 `yaml:"p99"`
	Max   int64   `yaml:"max"`
}

// Stats is a snapshot of the collector state and its statistics
type Stats struct {
	Collections         uint64 `yaml:"collections"`
	NurseryCollections  uint64 `yaml:"nursery_collections"`
	FullHeapCollections uint64 `yaml:"full_heap_collections"`
	FailedCollections   uint64 `yaml:"failed_collections"`

	UsedPages           uint64 `yaml:"used_pages"`
	TotalPages          uint64 `yaml:"total_pages"`
	NurseryPages        uint64 `yaml:"nursery_pages"`
	MatureReservedPages uint64 `yaml:"mature_reserved_pages"`
	NextFullHeap        bool   `yaml:"next_full_heap"`

	Promotions       generational.PromotionStats `yaml:"promotions"`
	ReclaimedObjects uint64                      `yaml:"reclaimed_objects"`
	ReclaimedBytes   uint64                      `yaml:"reclaimed_bytes"`

	Pause         TimerStats            `yaml:"pause"`
	Stages        map[string]TimerStats `yaml:"stages"`
	SurvivorBytes HistogramStats        `yaml:"survivor_bytes"`
}

// Stats returns a snapshot of the collector's statistics
func (c *Collector) Stats() Stats {
	c.world.RLock()
	defer c.world.RUnlock()

	m := c.metrics
	stats := Stats{
		Collections:         c.cycles.Load(),
		NurseryCollections:  m.nurseryCollections.Get(),
		FullHeapCollections: m.fullHeapCollections.Get(),
		FailedCollections:   m.failedCollections.Get(),
		UsedPages:           c.plan.UsedPages(),
		TotalPages:          c.plan.TotalPages(),
		NurseryPages:        c.plan.Nursery.ReservedPages(),
		MatureReservedPages: c.plan.MatureReservedPages(),
		NextFullHeap:        c.plan.NextGCFullHeap(),
		Promotions:          c.plan.Promotions(),
		ReclaimedObjects:    m.reclaimedObjects.Get(),
		ReclaimedBytes:      m.reclaimedBytes.Get(),
		Pause:               newTimerStats(m.pause),
		Stages:              make(map[string]TimerStats, len(m.stages)),
	}
	for stage, t := range m.stages {
		stats.Stages[stage.String()] = newTimerStats(t)
	}

	h := m.survivors.Snapshot()
	stats.SurvivorBytes = HistogramStats{
		Count: h.Count(),
		Mean:  h.Mean(),
		P50:   h.Percentile(0.5),
		P99:   h.Percentile(0.99),
		Max:   h.Max(),
	}
	return stats
}

// WritePrometheus writes the collector's metrics in the Prometheus text format
func (c *Collector) WritePrometheus(w io.Writer) {
	c.metrics.set.WritePrometheus(w)
}

// Registry returns the go-metrics registry holding the pause and stage timers
func (c *Collector) Registry() gometrics.Registry {
	return c.metrics.registry
}
