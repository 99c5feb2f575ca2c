package hangup

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/fsutil"
)

// Baseline records which heuristics were clean on a known-good run.
type Baseline struct {
	RecordedAt time.Time `yaml:"recorded_at"`
	RunID      string    `yaml:"run_id,omitempty"`
	Clean      []string  `yaml:"clean"`
	Fired      []string  `yaml:"fired,omitempty"`
}

// NewBaseline captures a from a detector run over the given heuristics.
func NewBaseline(a Analysis, heuristics []string, runID string, at time.Time) Baseline {
	b := Baseline{RecordedAt: at.UTC(), RunID: runID}
	for _, h := range heuristics {
		if a.Fired(h) {
			b.Fired = append(b.Fired, h)
		} else {
			b.Clean = append(b.Clean, h)
		}
	}
	return b
}

// CompareBaseline returns a copy of a with RegressionSuspected set when a
// heuristic that was clean in the baseline fires now. A nil baseline leaves
// the analysis unchanged.
func CompareBaseline(a Analysis, b *Baseline) Analysis {
	out := a
	out.Issues = append([]Issue(nil), a.Issues...)
	out.Regressions = nil
	out.RegressionSuspected = false
	if b == nil {
		return out
	}

	clean := make(map[string]bool, len(b.Clean))
	for _, h := range b.Clean {
		clean[h] = true
	}
	seen := make(map[string]bool)
	for _, is := range out.Issues {
		if clean[is.Heuristic] && !seen[is.Heuristic] {
			seen[is.Heuristic] = true
			out.Regressions = append(out.Regressions, is.Heuristic)
		}
	}
	out.RegressionSuspected = len(out.Regressions) > 0
	return out
}

// LoadBaseline reads a baseline file. A missing file returns (nil, nil).
func LoadBaseline(path string) (*Baseline, error) {
	data, err := fsutil.ReadFileScoped(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading baseline: %w", err)
	}

	var b Baseline
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, core.ErrValidation(core.CodeBaselineCorrupt,
			fmt.Sprintf("baseline %s is not valid YAML", path)).
			WithCause(err).
			WithRemediation("delete it and record a new one with `actguard analyze --save-baseline`")
	}
	sort.Strings(b.Clean)
	sort.Strings(b.Fired)
	return &b, nil
}

// SaveBaseline writes b atomically, creating parent directories.
func SaveBaseline(path string, b Baseline) error {
	data, err := yaml.Marshal(b)
	if err != nil {
		return fmt.Errorf("encoding baseline: %w", err)
	}
	return fsutil.WriteFileAtomic(path, data, 0o644)
}
