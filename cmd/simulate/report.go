package simulate

import (
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/genms/lib/collector"
	"github.com/ValentinKolb/genms/lib/heap"
	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v2"
	"io"
	"os"
	"strconv"
	"time"
)

// Result is everything a simulation reports
type Result struct {
	Workload Workload                 `yaml:"workload"`
	Cycles   []*collector.CycleReport `yaml:"cycles"`
	Stats    collector.Stats          `yaml:"stats"`
	Duration time.Duration            `yaml:"duration"`
}

// pages formats a page count as a human-readable size
func pages(n uint64) string {
	return bytesize.New(float64(heap.PagesToBytes(n))).String()
}

// writeTableHeader prints the column names of the cycle table
func writeTableHeader(w io.Writer) {
	fmt.Fprintf(w, "%-6s%-10s%-11s%-12s%-10s%-12s%-10s%-12s%-12s%s\n",
		"cycle", "kind", "trigger", "pause", "promoted", "promoted-b", "reclaimed", "used-before", "used-after", "next")
}

// writeTableRow prints one cycle as a table row
func writeTableRow(w io.Writer, r *collector.CycleReport) {
	next := "nursery"
	if r.NextFullHeap {
		next = "full-heap"
	}
	fmt.Fprintf(w, "%-6d%-10s%-11s%-12s%-10d%-12s%-10d%-12s%-12s%s\n",
		r.Cycle, r.Kind, r.Trigger, r.Pause.Round(time.Microsecond), r.PromotedObjects,
		bytesize.New(float64(r.PromotedBytes)).String(), r.Sweep.ReclaimedObjects,
		pages(r.UsedPagesBefore), pages(r.UsedPagesAfter), next)
}

// writeSummary prints the aggregated statistics
func writeSummary(w io.Writer, res *Result) {
	s := res.Stats
	field := func(name, value string) {
		fmt.Fprintf(w, "  %-24s: %s\n", name, value)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "SUMMARY")
	field("Duration", res.Duration.Round(time.Millisecond).String())
	field("Collections", fmt.Sprintf("%d (%d nursery, %d full heap)", s.Collections, s.NurseryCollections, s.FullHeapCollections))
	field("Heap", fmt.Sprintf("%s used of %s", pages(s.UsedPages), pages(s.TotalPages)))
	field("Mature Space", pages(s.MatureReservedPages))
	field("Promoted", fmt.Sprintf("%d objects, %s", s.Promotions.Objects, bytesize.New(float64(s.Promotions.Bytes)).String()))
	field("Promoted Size", fmt.Sprintf("avg %dB, median %dB, p99 %dB", s.Promotions.AverageSize, s.Promotions.MedianSize, s.Promotions.P99Size))
	field("Reclaimed", fmt.Sprintf("%d objects, %s", s.ReclaimedObjects, bytesize.New(float64(s.ReclaimedBytes)).String()))
	field("Pause", fmt.Sprintf("mean %s, p99 %s, max %s", s.Pause.Mean, s.Pause.P99, s.Pause.Max))
	for _, stage := range []string{"prepare", "closure", "release", "final"} {
		t := s.Stages[stage]
		field("Stage "+stage, fmt.Sprintf("mean %s, max %s", t.Mean, t.Max))
	}
}

// writeYAML prints the whole result as YAML
func writeYAML(w io.Writer, res *Result) error {
	out, err := yaml.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal the result: %v", err)
	}
	_, err = w.Write(out)
	return err
}

// writeCyclesToCSV writes one row per cycle to a CSV file
func writeCyclesToCSV(csvPath string, cycles []*collector.CycleReport) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Cycle", "Kind", "Trigger", "PauseNs",
		"PrepareNs", "ClosureNs", "ReleaseNs", "FinalNs",
		"PromotedObjects", "PromotedBytes", "ReclaimedObjects", "ReclaimedBytes",
		"UsedPagesBefore", "UsedPagesAfter", "MatureReservedPages", "NextFullHeap",
		"WorkerDistributionQuality",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, r := range cycles {
		row := []string{
			strconv.FormatUint(r.Cycle, 10),
			r.Kind,
			string(r.Trigger),
			strconv.FormatInt(r.Pause.Nanoseconds(), 10),
			strconv.FormatInt(r.Stages["prepare"].Nanoseconds(), 10),
			strconv.FormatInt(r.Stages["closure"].Nanoseconds(), 10),
			strconv.FormatInt(r.Stages["release"].Nanoseconds(), 10),
			strconv.FormatInt(r.Stages["final"].Nanoseconds(), 10),
			strconv.FormatUint(r.PromotedObjects, 10),
			strconv.FormatUint(r.PromotedBytes, 10),
			strconv.FormatUint(r.Sweep.ReclaimedObjects, 10),
			strconv.FormatUint(r.Sweep.ReclaimedBytes, 10),
			strconv.FormatUint(r.UsedPagesBefore, 10),
			strconv.FormatUint(r.UsedPagesAfter, 10),
			strconv.FormatUint(r.MatureReservedPages, 10),
			strconv.FormatBool(r.NextFullHeap),
			strconv.FormatFloat(r.Workers.DistributionQuality, 'f', 3, 64),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for cycle %d: %v", r.Cycle, err)
		}
	}

	return nil
}
