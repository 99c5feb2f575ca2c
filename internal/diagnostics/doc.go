// Package diagnostics runs composable health checks and aggregates them
// into a report.
//
// The package implements three main components:
//
//   - Service: an append-only registry of health.Check values, run through a
//     bounded worker pool. Each check gets its own timeout and panic
//     containment; the report's overall status is the worst check status.
//
//   - ResourceCheck and LastRunCheck: the built-in checks beyond
//     connectivity. The first reports host disk, memory, load and file
//     descriptors; the second re-runs the hangup heuristics over the last
//     recorded execution and compares them with a baseline.
//
//   - CrashDumpWriter: captures a sanitized dump when actguard itself
//     panics during a run.
package diagnostics
