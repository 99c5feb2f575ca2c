// Package hangup decides whether a running (or just finished) child looks
// stalled, combining output silence, container engine reachability, process
// metadata and host resources into a ranked list of issues.
package hangup

import (
	"context"
	"time"

	"github.com/hugo-lorenzo-mato/actguard/internal/health"
)

// Category groups issues by likely cause.
type Category string

const (
	CategoryProcess     Category = "process"
	CategoryEngine      Category = "container-engine"
	CategoryPermissions Category = "permissions"
	CategoryResources   Category = "resource-exhaustion"
)

// Heuristic names, in evaluation order.
const (
	HeuristicSilence      = "silence"
	HeuristicEngine       = "container-engine"
	HeuristicPermission   = "permission"
	HeuristicResource     = "resource"
	HeuristicProcessState = "process-state"
)

// Issue is one finding produced by a heuristic.
type Issue struct {
	Heuristic   string        `json:"heuristic" yaml:"heuristic"`
	Category    Category      `json:"category" yaml:"category"`
	Severity    health.Status `json:"severity" yaml:"severity"`
	Title       string        `json:"title" yaml:"title"`
	Description string        `json:"description" yaml:"description"`
	Remediation string        `json:"remediation,omitempty" yaml:"remediation,omitempty"`
}

// Analysis is the ordered outcome of one detector pass. Issues are sorted by
// severity, worst first; ties keep heuristic order.
type Analysis struct {
	Issues              []Issue   `json:"issues" yaml:"issues"`
	RegressionSuspected bool      `json:"regression_suspected" yaml:"regression_suspected"`
	Regressions         []string  `json:"regressions,omitempty" yaml:"regressions,omitempty"`
	AnalyzedAt          time.Time `json:"analyzed_at" yaml:"analyzed_at"`
}

// Worst returns the highest issue severity, OK when there are none.
func (a Analysis) Worst() health.Status {
	worst := health.StatusOK
	for _, is := range a.Issues {
		worst = health.Max(worst, is.Severity)
	}
	return worst
}

// Fired reports whether the named heuristic produced an issue.
func (a Analysis) Fired(heuristic string) bool {
	for _, is := range a.Issues {
		if is.Heuristic == heuristic {
			return true
		}
	}
	return false
}

// HangupSuspected reports whether any issue points at a stalled process or
// engine, as opposed to permissions or resources.
func (a Analysis) HangupSuspected() bool {
	for _, is := range a.Issues {
		if is.Category == CategoryProcess || is.Category == CategoryEngine {
			return true
		}
	}
	return false
}

// ProcessState is what the detector knows about the child.
type ProcessState struct {
	PID             int
	Alive           bool
	Elapsed         time.Duration
	ExitCode        *int
	HardTimeout     time.Duration
	DependsOnEngine bool
}

// EngineChecker probes the container engine.
type EngineChecker interface {
	EngineReachable(ctx context.Context) error
	Endpoint() string
}

// ResourceProbe reads host resource levels.
type ResourceProbe interface {
	FreeDisk(ctx context.Context, path string) (uint64, error)
	AvailableMemory(ctx context.Context) (uint64, error)
}

// ProcessInspector reads OS process status codes.
type ProcessInspector interface {
	Status(ctx context.Context, pid int) ([]string, error)
}

// ActivitySource reports the last filesystem write under watched dirs.
type ActivitySource interface {
	LastActivity() time.Time
}
