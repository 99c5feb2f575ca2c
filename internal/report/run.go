package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/actguard/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/actguard/internal/executor"
	"github.com/hugo-lorenzo-mato/actguard/internal/hangup"
	"github.com/hugo-lorenzo-mato/actguard/internal/health"
)

// runSummary is the serialized form of an execution result, without the
// captured output.
type runSummary struct {
	RunID          string                  `json:"run_id" yaml:"run_id"`
	Outcome        string                  `json:"outcome" yaml:"outcome"`
	ExitCode       *int                    `json:"exit_code" yaml:"exit_code"`
	TimedOut       bool                    `json:"timed_out" yaml:"timed_out"`
	Cancelled      bool                    `json:"cancelled" yaml:"cancelled"`
	HangupDetected bool                    `json:"hangup_detected" yaml:"hangup_detected"`
	Duration       string                  `json:"duration" yaml:"duration"`
	TerminalSignal string                  `json:"terminal_signal,omitempty" yaml:"terminal_signal,omitempty"`
	Signals        []executor.SignalRecord `json:"signals,omitempty" yaml:"signals,omitempty"`
	LeftoverKilled bool                    `json:"leftover_killed,omitempty" yaml:"leftover_killed,omitempty"`
	StdoutBytes    int64                   `json:"stdout_bytes" yaml:"stdout_bytes"`
	StderrBytes    int64                   `json:"stderr_bytes" yaml:"stderr_bytes"`
	Truncated      bool                    `json:"truncated" yaml:"truncated"`
	Issues         []hangup.Issue          `json:"issues,omitempty" yaml:"issues,omitempty"`
	Regressions    []string                `json:"regressions,omitempty" yaml:"regressions,omitempty"`
}

func summarize(res *executor.Result) runSummary {
	s := runSummary{
		RunID:          res.RunID,
		Outcome:        res.Outcome(),
		ExitCode:       res.ExitCode,
		TimedOut:       res.TimedOut,
		Cancelled:      res.Cancelled,
		HangupDetected: res.HangupDetected,
		Duration:       res.Duration.Round(time.Millisecond).String(),
		TerminalSignal: res.TerminalSignal,
		Signals:        res.Signals,
		LeftoverKilled: res.LeftoverKilled,
		StdoutBytes:    res.StdoutBytes,
		StderrBytes:    res.StderrBytes,
		Truncated:      res.StdoutTruncated || res.StderrTruncated,
	}
	if res.Analysis != nil {
		s.Issues = res.Analysis.Issues
	}
	return s
}

// RenderRun writes a summary of res. Captured output is not repeated; it
// was echoed live and is kept in the run record.
func RenderRun(w io.Writer, res *executor.Result, format Format) error {
	switch format {
	case FormatJSON:
		return encodeJSON(w, summarize(res))
	case FormatYAML:
		return encodeYAML(w, summarize(res))
	}

	p := newPalette(w)
	var b strings.Builder
	status := health.StatusOK
	switch {
	case res.TimedOut, res.Cancelled:
		status = health.StatusCritical
	case !res.Succeeded():
		status = health.StatusWarning
	}
	fmt.Fprintf(&b, "%s %s in %s", p.title.Render("run "+shortRunID(res.RunID)),
		p.status[status].Render(res.Outcome()), res.Duration.Round(time.Millisecond))
	if res.ExitCode != nil {
		fmt.Fprintf(&b, " (exit %d)", *res.ExitCode)
	}
	if res.TerminalSignal != "" {
		fmt.Fprintf(&b, " after %s", res.TerminalSignal)
	}
	b.WriteString("\n")
	if res.StdoutTruncated || res.StderrTruncated {
		b.WriteString(p.dim.Render("output was truncated in the capture") + "\n")
	}
	if res.LeftoverKilled {
		b.WriteString(p.dim.Render("processes left holding the output after exit were killed") + "\n")
	}
	if res.Analysis != nil {
		writeIssues(&b, p, res.Analysis.Issues)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// RenderRetrospective writes the outcome of a last-run analysis.
func RenderRetrospective(w io.Writer, retro *diagnostics.Retrospective, format Format) error {
	switch format {
	case FormatJSON, FormatYAML:
		s := summarize(retro.Run)
		s.Issues = retro.Analysis.Issues
		s.Regressions = retro.Analysis.Regressions
		if format == FormatJSON {
			return encodeJSON(w, s)
		}
		return encodeYAML(w, s)
	}

	p := newPalette(w)
	var b strings.Builder
	status := retro.Status()
	fmt.Fprintf(&b, "%s %s\n", p.status[status].Render(status.String()), retro.Summary())
	writeIssues(&b, p, retro.Analysis.Issues)
	if retro.Baseline == nil {
		b.WriteString(p.dim.Render("no baseline recorded; save one after a good run with --save-baseline") + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeIssues(b *strings.Builder, p palette, issues []hangup.Issue) {
	for _, is := range issues {
		fmt.Fprintf(b, "  %s%s\n", p.statusCell(is.Severity, 10), is.Title)
		fmt.Fprintf(b, "  %s%s\n", strings.Repeat(" ", 10), is.Description)
		if is.Remediation != "" {
			fmt.Fprintf(b, "  %s%s\n", strings.Repeat(" ", 10), p.remediation.Render("-> "+is.Remediation))
		}
	}
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
