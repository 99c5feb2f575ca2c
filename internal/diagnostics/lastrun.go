package diagnostics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/executor"
	"github.com/hugo-lorenzo-mato/actguard/internal/hangup"
	"github.com/hugo-lorenzo-mato/actguard/internal/health"
	"github.com/hugo-lorenzo-mato/actguard/internal/monitor"
)

// CheckLastRun is the name of the retrospective check.
const CheckLastRun = "last-run"

// RunAnalyzer is the hangup detector as seen by the retrospective pass.
type RunAnalyzer interface {
	Analyze(ctx context.Context, state hangup.ProcessState, snap monitor.Snapshot) hangup.Analysis
	Heuristics() []string
}

// Retrospective is a fresh hangup analysis of a recorded run.
type Retrospective struct {
	Run        *executor.Result
	Analysis   hangup.Analysis
	Baseline   *hangup.Baseline
	Heuristics []string
}

// AnalyzeLastRun loads the run record at recordPath, re-runs the hangup
// heuristics over it and compares the outcome with the baseline at
// baselinePath, if one exists.
func AnalyzeLastRun(ctx context.Context, a RunAnalyzer, recordPath, baselinePath string) (*Retrospective, error) {
	run, err := executor.LoadRecord(recordPath)
	if err != nil {
		return nil, err
	}

	var baseline *hangup.Baseline
	if baselinePath != "" {
		baseline, err = hangup.LoadBaseline(baselinePath)
		if err != nil {
			return nil, err
		}
	}

	analysis := a.Analyze(ctx, run.ProcessState(), run.Snapshot())
	return &Retrospective{
		Run:        run,
		Analysis:   hangup.CompareBaseline(analysis, baseline),
		Baseline:   baseline,
		Heuristics: a.Heuristics(),
	}, nil
}

// NewBaseline records this analysis as the known-good state.
func (r *Retrospective) NewBaseline() hangup.Baseline {
	return hangup.NewBaseline(r.Analysis, r.Heuristics, r.Run.RunID, r.Run.StartedAt.Add(r.Run.Duration))
}

// Status folds the run outcome and the analysis into one severity.
func (r *Retrospective) Status() health.Status {
	status := r.Analysis.Worst()
	if r.Run.TimedOut || r.Run.HangupDetected {
		status = health.Max(status, health.StatusWarning)
	}
	if r.Analysis.RegressionSuspected {
		status = health.Max(status, health.StatusWarning)
	}
	return status
}

// Summary is a one-line description of the recorded run.
func (r *Retrospective) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "last run %s %s after %s", shortID(r.Run.RunID), r.Run.Outcome(), r.Run.Duration.Round(time.Millisecond))
	if r.Run.ExitCode != nil {
		fmt.Fprintf(&b, " (exit %d)", *r.Run.ExitCode)
	}
	switch n := len(r.Analysis.Issues); n {
	case 0:
	case 1:
		b.WriteString("; 1 issue: " + r.Analysis.Issues[0].Title)
	default:
		fmt.Fprintf(&b, "; %d issues, worst: %s", n, r.Analysis.Issues[0].Title)
	}
	if r.Analysis.RegressionSuspected {
		b.WriteString("; regression vs baseline: " + strings.Join(r.Analysis.Regressions, ", "))
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// LastRunCheck is the retrospective hangup analysis as a health check.
type LastRunCheck struct {
	analyzer     RunAnalyzer
	recordPath   string
	baselinePath string
}

// NewLastRunCheck creates the last-run check.
func NewLastRunCheck(a RunAnalyzer, recordPath, baselinePath string) *LastRunCheck {
	return &LastRunCheck{analyzer: a, recordPath: recordPath, baselinePath: baselinePath}
}

// Name implements health.Check.
func (c *LastRunCheck) Name() string { return CheckLastRun }

// Run implements health.Check.
func (c *LastRunCheck) Run(ctx context.Context) health.Result {
	retro, err := AnalyzeLastRun(ctx, c.analyzer, c.recordPath, c.baselinePath)
	if err != nil {
		if core.IsCategory(err, core.ErrCatNotFound) {
			return health.OK(CheckLastRun, "no recorded run yet")
		}
		return health.Error(CheckLastRun, err.Error(), core.RemediationOf(err))
	}

	r := health.Result{
		Name:    CheckLastRun,
		Status:  retro.Status(),
		Message: retro.Summary(),
	}
	if len(retro.Analysis.Issues) > 0 {
		r.Remediation = retro.Analysis.Issues[0].Remediation
	} else if retro.Run.TimedOut {
		r.Remediation = "raise execution.hard_timeout if the workflow is merely slow"
	}
	r = r.WithDetail("run_id", retro.Run.RunID)
	if len(retro.Analysis.Regressions) > 0 {
		r = r.WithDetail("regressions", retro.Analysis.Regressions)
	}
	return r
}
