package executor

import (
	"time"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/hangup"
	"github.com/hugo-lorenzo-mato/actguard/internal/monitor"
)

// Signal names recorded in SignalRecord.
const (
	SignalTerm = "SIGTERM"
	SignalKill = "SIGKILL"
)

// Cancellation reasons.
const (
	CancelReasonContext = "context"
	CancelReasonHangup  = "hangup"
)

// SignalRecord is one termination signal the executor sent.
type SignalRecord struct {
	Signal string    `json:"signal"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}

func newSignalRecord(sig string, at time.Time, err error) SignalRecord {
	rec := SignalRecord{Signal: sig, At: at}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// Result is the outcome of one execution. It is created once and not
// modified after Execute returns.
type Result struct {
	RunID   string   `json:"run_id"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	PID     int      `json:"pid"`

	// ExitCode is nil when the executor terminated the child or the child
	// was killed by a signal.
	ExitCode     *int   `json:"exit_code"`
	TerminatedBy string `json:"terminated_by,omitempty"`

	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	StdoutBytes     int64  `json:"stdout_bytes"`
	StderrBytes     int64  `json:"stderr_bytes"`
	StdoutTruncated bool   `json:"stdout_truncated"`
	StderrTruncated bool   `json:"stderr_truncated"`

	StartedAt    time.Time     `json:"started_at"`
	LastOutputAt time.Time     `json:"last_output_at"`
	Duration     time.Duration `json:"duration"`
	SoftTimeout  time.Duration `json:"soft_timeout"`
	HardTimeout  time.Duration `json:"hard_timeout"`
	UsesEngine   bool          `json:"uses_engine"`

	TimedOut       bool           `json:"timed_out"`
	Cancelled      bool           `json:"cancelled"`
	CancelReason   string         `json:"cancel_reason,omitempty"`
	HangupDetected bool           `json:"hangup_detected"`
	Signals        []SignalRecord `json:"signals,omitempty"`
	TerminalSignal string         `json:"terminal_signal,omitempty"`
	// LeftoverKilled is set when processes the child left behind still held
	// its output after it exited and were killed.
	LeftoverKilled bool `json:"leftover_killed,omitempty"`

	Analysis *hangup.Analysis `json:"analysis,omitempty"`
}

// Succeeded reports a natural zero exit.
func (r *Result) Succeeded() bool {
	return r.ExitCode != nil && *r.ExitCode == 0 && !r.TimedOut && !r.Cancelled
}

// ExitStatus maps the result to the process exit code actguard itself
// should use.
func (r *Result) ExitStatus() int {
	switch {
	case r.TimedOut:
		return core.ExitTimedOut
	case r.Cancelled && r.CancelReason == CancelReasonHangup:
		return core.ExitTimedOut
	case r.Cancelled:
		return core.ExitCancelled
	case r.Succeeded():
		return core.ExitSuccess
	default:
		return core.ExitExecutionFailed
	}
}

// Outcome is a one-word classification used in logs and reports.
func (r *Result) Outcome() string {
	switch {
	case r.TimedOut:
		return "timed_out"
	case r.Cancelled:
		return "cancelled"
	case r.Succeeded():
		return "succeeded"
	default:
		return "failed"
	}
}

// Snapshot rebuilds the output snapshot the result was captured from, for
// retrospective analysis.
func (r *Result) Snapshot() monitor.Snapshot {
	return monitor.Snapshot{
		Stdout:          r.Stdout,
		Stderr:          r.Stderr,
		StdoutBytes:     r.StdoutBytes,
		StderrBytes:     r.StderrBytes,
		StdoutTruncated: r.StdoutTruncated,
		StderrTruncated: r.StderrTruncated,
		Started:         r.StartedAt,
		LastActivity:    r.LastOutputAt,
		TakenAt:         r.StartedAt.Add(r.Duration),
	}
}

// ProcessState describes the finished child for the hangup detector.
func (r *Result) ProcessState() hangup.ProcessState {
	return hangup.ProcessState{
		PID:             r.PID,
		Elapsed:         r.Duration,
		ExitCode:        r.ExitCode,
		HardTimeout:     r.HardTimeout,
		DependsOnEngine: r.UsesEngine,
	}
}
