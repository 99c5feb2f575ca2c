package diagnostics

import (
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/health"
)

// Report is the aggregated outcome of one diagnostic run. It is not
// modified after NewReport returns.
type Report struct {
	ID            string          `json:"id" yaml:"id"`
	Timestamp     time.Time       `json:"timestamp" yaml:"timestamp"`
	OverallStatus health.Status   `json:"overall_status" yaml:"overall_status"`
	Results       []health.Result `json:"checks" yaml:"checks"`
}

// NewReport builds a report over a copy of results. OverallStatus is the
// most severe result status, or OK when there are none.
func NewReport(results []health.Result, at time.Time) *Report {
	rs := append([]health.Result(nil), results...)
	statuses := make([]health.Status, len(rs))
	for i, r := range rs {
		statuses[i] = r.Status
	}
	return &Report{
		ID:            uuid.NewString(),
		Timestamp:     at.UTC(),
		OverallStatus: health.Max(statuses...),
		Results:       rs,
	}
}

// Result returns the result for the named check.
func (r *Report) Result(name string) (health.Result, bool) {
	for _, res := range r.Results {
		if res.Name == name {
			return res, true
		}
	}
	return health.Result{}, false
}

// Counts returns the number of results per status.
func (r *Report) Counts() map[health.Status]int {
	counts := make(map[health.Status]int, 4)
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// Failed reports whether any check is CRITICAL or ERROR.
func (r *Report) Failed() bool {
	return r.OverallStatus >= health.StatusCritical
}

// ExitCode maps the report to the `doctor` process exit code.
func (r *Report) ExitCode() int {
	if r.Failed() {
		return core.ExitDiagnosticsFailed
	}
	return core.ExitSuccess
}
