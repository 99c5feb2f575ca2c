package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/fsutil"
)

// LastRunFile is the record name inside the state directory.
const LastRunFile = "last-run.json"

// RecordPath returns the last-run record path for stateDir.
func RecordPath(stateDir string) string {
	return filepath.Join(stateDir, LastRunFile)
}

// SaveRecord persists res as the last recorded run.
func SaveRecord(path string, res *Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run record: %w", err)
	}
	return fsutil.WriteFileAtomic(path, data, 0o600)
}

// LoadRecord reads the last recorded run.
func LoadRecord(path string) (*Result, error) {
	data, err := fsutil.ReadFileScoped(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &core.DomainError{
			Category:    core.ErrCatNotFound,
			Code:        core.CodeNoRecordedRun,
			Message:     fmt.Sprintf("no recorded run at %s", path),
			Remediation: "run a workflow with `actguard run` first",
		}
	}
	if err != nil {
		return nil, fmt.Errorf("reading run record: %w", err)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig,
			fmt.Sprintf("run record %s is corrupt", path)).WithCause(err)
	}
	return &res, nil
}
