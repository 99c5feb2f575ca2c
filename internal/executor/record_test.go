package executor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
)

func TestRecord_SaveLoad(t *testing.T) {
	path := RecordPath(filepath.Join(t.TempDir(), "state"))
	code := 1
	started := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	in := &Result{
		RunID:        "run-1",
		Command:      "/usr/local/bin/act",
		Args:         []string{"push"},
		PID:          321,
		ExitCode:     &code,
		Stderr:       "boom\n",
		StderrBytes:  5,
		StartedAt:    started,
		LastOutputAt: started.Add(2 * time.Second),
		Duration:     3 * time.Second,
		HardTimeout:  time.Hour,
		UsesEngine:   true,
	}

	require.NoError(t, SaveRecord(path, in))
	out, err := LoadRecord(path)
	require.NoError(t, err)

	assert.Equal(t, in.RunID, out.RunID)
	require.NotNil(t, out.ExitCode)
	assert.Equal(t, 1, *out.ExitCode)
	assert.Equal(t, in.Duration, out.Duration)

	snap := out.Snapshot()
	assert.Equal(t, "boom\n", snap.Stderr)
	assert.Equal(t, time.Second, snap.Silence())

	state := out.ProcessState()
	assert.False(t, state.Alive)
	assert.True(t, state.DependsOnEngine)
	assert.Equal(t, 321, state.PID)
}

func TestLoadRecord_Missing(t *testing.T) {
	_, err := LoadRecord(filepath.Join(t.TempDir(), LastRunFile))
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
	assert.Contains(t, core.RemediationOf(err), "actguard run")
}

func TestLoadRecord_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), LastRunFile)
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := LoadRecord(path)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestResult_ExitStatus(t *testing.T) {
	zero, one := 0, 1
	tests := []struct {
		name string
		res  Result
		want int
	}{
		{"success", Result{ExitCode: &zero}, core.ExitSuccess},
		{"failure", Result{ExitCode: &one}, core.ExitExecutionFailed},
		{"killed by signal", Result{TerminatedBy: SignalKill}, core.ExitExecutionFailed},
		{"timed out", Result{TimedOut: true}, core.ExitTimedOut},
		{"cancelled", Result{Cancelled: true, CancelReason: CancelReasonContext}, core.ExitCancelled},
		{"stopped on hangup", Result{Cancelled: true, CancelReason: CancelReasonHangup}, core.ExitTimedOut},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.res.ExitStatus())
		})
	}
}
