// Package cmd implements the command-line interface of genms. It runs the
// generational mark-sweep collector on synthetic workloads and reports what
// every collection cycle did.
//
// The package is organized into several subpackages:
//
//   - simulate: Runs an allocation workload on the collector and prints a report per cycle
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See genms -help for a list of all commands.
package cmd
