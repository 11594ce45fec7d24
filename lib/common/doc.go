/*
Package common holds the configuration and logging shared by every package of
the collector.

Options are the global plan arguments (heap size, nursery size, worker count
and the full-heap heuristic knobs). Validate rejects inconsistent options with
an error wrapping ErrInvalidOptions.

Logging goes through dragonboat's logger package: InitLoggers installs a
factory producing "LEVEL | package | message" lines and applies the configured
level to every name in LoggerNames.
*/
package common
