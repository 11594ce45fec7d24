// Package util provides the concurrency and statistics building blocks of the
// collector.
//
// The package contains:
//   - lockfreempsc: a lock-free Multi-Producer Single-Consumer queue; every open
//     scheduler stage uses one as the inbox all GC workers push new work packets into
//   - mapheap: a min-heap with key access; the mature space keeps the free cells of
//     each size class in one, ordered by address
//   - statistics: a SizeHistogram for promoted object sizes and summary statistics
//     (NewStats, NewDistributionStats) for the per-worker packet counts of a cycle
//   - seed: GenerateSeed for simulated workloads without a fixed seed
package util
