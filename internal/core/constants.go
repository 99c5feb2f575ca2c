// Package core provides the shared error taxonomy, process exit codes and
// the injectable clock used across actguard.
package core

import "time"

// Process exit codes. Scripts depend on these values; do not renumber.
const (
	ExitSuccess           = 0
	ExitExecutionFailed   = 1   // child exited non-zero
	ExitUsage             = 2   // bad flags or configuration
	ExitDiagnosticsFailed = 3   // doctor found CRITICAL or ERROR checks
	ExitTimedOut          = 124 // soft/hard timeout fired
	ExitSpawnError        = 127 // binary missing or not launchable
	ExitCancelled         = 130 // interrupted by the user
)

// Execution defaults shared by config and the executor.
const (
	DefaultHardTimeout    = time.Hour
	DefaultGracePeriod    = 5 * time.Second
	DefaultDrainTimeout   = 2 * time.Second
	DefaultMaxOutputBytes = 4 << 20
	DefaultRunnerBinary   = "act"
)

// TruncationMarker is appended to a captured stream once its cap is hit.
const TruncationMarker = "\n...output truncated...\n"
