package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/hangup"
	"github.com/hugo-lorenzo-mato/actguard/internal/logging"
	"github.com/hugo-lorenzo-mato/actguard/internal/testutil"
)

func newTestExecutor(opts ...Option) (*Executor, *testutil.RecordingSignaler) {
	sig := &testutil.RecordingSignaler{Next: ProcessGroupSignaler{}}
	cfg := Config{GracePeriod: 500 * time.Millisecond, DrainTimeout: time.Second}
	return New(cfg, append([]Option{WithSignaler(sig)}, opts...)...), sig
}

func script(t *testing.T, body string) string {
	t.Helper()
	return testutil.WriteScript(t, t.TempDir(), "child.sh", body)
}

func requireGone(t *testing.T, pid int) {
	t.Helper()
	alive, err := process.PidExists(int32(pid))
	require.NoError(t, err)
	assert.False(t, alive, "child %d still exists", pid)
}

// A child that finishes quietly exits 0 with its output captured.
func TestExecute_Success(t *testing.T) {
	exe, sig := newTestExecutor()
	res, err := exe.Execute(context.Background(), Request{
		Command:     script(t, "echo ok\n"),
		SoftTimeout: 5 * time.Second,
		HardTimeout: 10 * time.Second,
	})
	require.NoError(t, err)

	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
	assert.Equal(t, "ok\n", res.Stdout)
	assert.False(t, res.TimedOut)
	assert.False(t, res.HangupDetected)
	assert.Empty(t, res.Signals)
	assert.Empty(t, sig.Calls())
	assert.True(t, res.Succeeded())
	assert.Equal(t, core.ExitSuccess, res.ExitStatus())
	assert.NotEmpty(t, res.RunID)
	assert.Positive(t, res.PID)
}

func TestExecute_NonZeroExitIsAResult(t *testing.T) {
	exe, _ := newTestExecutor()
	res, err := exe.Execute(context.Background(), Request{
		Command: script(t, "echo 'Error: job failed' >&2\nexit 3\n"),
	})
	require.NoError(t, err)

	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 3, *res.ExitCode)
	assert.Equal(t, "Error: job failed\n", res.Stderr)
	assert.Equal(t, "failed", res.Outcome())
	assert.Equal(t, core.ExitExecutionFailed, res.ExitStatus())
}

// The soft timeout sends SIGTERM to the group; the shell dies and the run
// is reported as timed out without an exit code.
func TestExecute_SoftTimeout(t *testing.T) {
	exe, sig := newTestExecutor()
	res, err := exe.Execute(context.Background(), Request{
		Command:     script(t, "echo started\nsleep 30\n"),
		SoftTimeout: 300 * time.Millisecond,
		HardTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	assert.True(t, res.TimedOut)
	assert.Nil(t, res.ExitCode)
	assert.Equal(t, "started\n", res.Stdout)
	require.NotEmpty(t, res.Signals)
	assert.Equal(t, SignalTerm, res.Signals[0].Signal)
	assert.Equal(t, SignalTerm, sig.Calls()[0].Signal)
	assert.Equal(t, res.PID, sig.Calls()[0].PID)
	assert.Equal(t, core.ExitTimedOut, res.ExitStatus())
	assert.Less(t, res.Duration, 5*time.Second)
	requireGone(t, res.PID)
}

// A child ignoring SIGTERM is killed once the grace period runs out.
func TestExecute_EscalatesToKill(t *testing.T) {
	exe, _ := newTestExecutor()
	res, err := exe.Execute(context.Background(), Request{
		Command:     script(t, "trap '' TERM\nsleep 30\n"),
		SoftTimeout: 200 * time.Millisecond,
		HardTimeout: 10 * time.Second,
	})
	require.NoError(t, err)

	assert.True(t, res.TimedOut)
	assert.Nil(t, res.ExitCode)
	require.Len(t, res.Signals, 2)
	assert.Equal(t, SignalTerm, res.Signals[0].Signal)
	assert.Equal(t, SignalKill, res.Signals[1].Signal)
	assert.Equal(t, SignalKill, res.TerminalSignal)
	requireGone(t, res.PID)
}

func TestExecute_HardTimeoutWithoutSoftStage(t *testing.T) {
	exe, _ := newTestExecutor()
	res, err := exe.Execute(context.Background(), Request{
		Command:     script(t, "sleep 30\n"),
		HardTimeout: 300 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.True(t, res.TimedOut)
	assert.Nil(t, res.ExitCode)
	assert.Equal(t, SignalKill, res.TerminalSignal)
}

// A background process keeps the output pipes open after the child exits;
// the child's own exit code is reported and the leftover is killed.
func TestExecute_BackgroundChildHoldingOutput(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("exit watch needs waitid")
	}
	exe, sig := newTestExecutor()

	start := time.Now()
	res, err := exe.Execute(context.Background(), Request{
		Command:     script(t, "sleep 30 &\necho ok\nexit 0\n"),
		HardTimeout: 10 * time.Second,
	})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 5*time.Second)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
	assert.False(t, res.TimedOut)
	assert.Equal(t, "ok\n", res.Stdout)
	assert.True(t, res.LeftoverKilled)
	assert.Empty(t, res.Signals)
	assert.Equal(t, core.ExitSuccess, res.ExitStatus())
	require.Len(t, sig.Calls(), 1)
	assert.Equal(t, SignalKill, sig.Calls()[0].Signal)
}

// Timers that fire as the child exits must not turn a clean exit into a
// timeout: a run is timed out only if a signal was delivered.
func TestExecute_TimerRacingExit(t *testing.T) {
	exe, _ := newTestExecutor()
	cmd := script(t, "exit 0\n")

	for i := 0; i < 30; i++ {
		res, err := exe.Execute(context.Background(), Request{
			Command:     cmd,
			SoftTimeout: time.Millisecond,
			HardTimeout: time.Second,
		})
		require.NoError(t, err)

		if res.TimedOut {
			assert.NotEmpty(t, res.Signals, "run %d timed out without a signal", i)
			assert.Nil(t, res.ExitCode)
			continue
		}
		require.NotNil(t, res.ExitCode, "run %d lost its exit code", i)
		assert.Equal(t, 0, *res.ExitCode)
	}
}

func TestSignalsSkippedOnceExited(t *testing.T) {
	sig := &testutil.RecordingSignaler{}
	exe := New(Config{}, WithSignaler(sig))
	r := &run{pid: 424242, logger: logging.NewNop()}
	r.markExited()

	exe.terminate(r)
	exe.kill(r, nil)

	assert.Empty(t, sig.Calls())
	assert.Empty(t, r.signalLog())
	assert.False(t, r.wasSignalled())
}

func TestExecute_SpawnError(t *testing.T) {
	exe, _ := newTestExecutor()
	res, err := exe.Execute(context.Background(), Request{Command: "actguard-no-such-binary-4e1f"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, core.IsCategory(err, core.ErrCatSpawn))
	assert.NotEmpty(t, core.RemediationOf(err))
}

func TestExecute_InvalidRequest(t *testing.T) {
	exe, _ := newTestExecutor()

	_, err := exe.Execute(context.Background(), Request{Command: "  "})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))

	_, err = exe.Execute(context.Background(), Request{Command: "true", HardTimeout: -time.Second})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

// Both streams produce far more than a pipe buffer at the same time; the
// run must complete and both captures must be capped.
func TestExecute_LargeInterleavedOutput(t *testing.T) {
	exe, _ := newTestExecutor()
	const size = 6_000_000
	body := "(head -c 6000000 /dev/zero | tr '\\0' a) &\n" +
		"head -c 6000000 /dev/zero | tr '\\0' b >&2\n" +
		"wait\n"
	res, err := exe.Execute(context.Background(), Request{
		Command:        script(t, body),
		HardTimeout:    30 * time.Second,
		MaxOutputBytes: 1 << 20,
	})
	require.NoError(t, err)

	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
	assert.False(t, res.TimedOut)
	assert.EqualValues(t, size, res.StdoutBytes)
	assert.EqualValues(t, size, res.StderrBytes)
	assert.True(t, res.StdoutTruncated)
	assert.True(t, res.StderrTruncated)
	assert.True(t, strings.HasSuffix(res.Stdout, core.TruncationMarker))
	assert.True(t, strings.HasSuffix(res.Stderr, core.TruncationMarker))
	assert.Equal(t, 1<<20+len(core.TruncationMarker), len(res.Stdout))
}

func TestExecute_ContextCancel(t *testing.T) {
	exe, _ := newTestExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	res, err := exe.Execute(ctx, Request{
		Command:     script(t, "sleep 30\n"),
		HardTimeout: 10 * time.Second,
	})
	require.NoError(t, err)

	assert.True(t, res.Cancelled)
	assert.False(t, res.TimedOut)
	assert.Nil(t, res.ExitCode)
	assert.Equal(t, CancelReasonContext, res.CancelReason)
	assert.Equal(t, core.ExitCancelled, res.ExitStatus())
	requireGone(t, res.PID)
}

func TestExecute_EnvironmentOverlay(t *testing.T) {
	exe, _ := newTestExecutor(WithEnviron(func() []string {
		return []string{"AG_KEEP=base", "AG_OVERRIDE=base", "PATH=" + os.Getenv("PATH")}
	}))
	res, err := exe.Execute(context.Background(), Request{
		Command: script(t, `printf '%s %s %s' "$AG_KEEP" "$AG_OVERRIDE" "$AG_NEW"`+"\n"),
		Env:     map[string]string{"AG_OVERRIDE": "req", "AG_NEW": "new"},
	})
	require.NoError(t, err)
	assert.Equal(t, "base req new", res.Stdout)
}

func TestExecute_WorkingDirAndEcho(t *testing.T) {
	dir := t.TempDir()
	var out, errOut bytes.Buffer
	exe, _ := newTestExecutor(WithEcho(&out, &errOut))

	res, err := exe.Execute(context.Background(), Request{
		Command: script(t, "pwd\necho warn >&2\n"),
		Dir:     dir,
	})
	require.NoError(t, err)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, filepath.Base(resolved))
	assert.Equal(t, res.Stdout, out.String())
	assert.Equal(t, "warn\n", errOut.String())
}

type stubProbe struct{}

func (stubProbe) FreeDisk(context.Context, string) (uint64, error) { return 100 << 30, nil }
func (stubProbe) AvailableMemory(context.Context) (uint64, error)  { return 8 << 30, nil }

// An engine that stops answering while the runner waits on it is detected
// by the live watch, and with KillOnHangup the run is stopped.
func TestExecute_LiveWatchStopsHungRun(t *testing.T) {
	engine := testutil.NewMockEngine("unix:///var/run/docker.sock", errors.New("connection refused"))
	detector := hangup.NewDetector(hangup.Config{SilenceThreshold: time.Hour}, engine, nil,
		hangup.WithResourceProbe(stubProbe{}))

	sig := &testutil.RecordingSignaler{Next: ProcessGroupSignaler{}}
	exe := New(Config{
		GracePeriod:   500 * time.Millisecond,
		WatchInterval: 100 * time.Millisecond,
		KillOnHangup:  true,
	}, WithSignaler(sig), WithAnalyzer(detector))

	res, err := exe.Execute(context.Background(), Request{
		Command:             script(t, "sleep 30\n"),
		HardTimeout:         20 * time.Second,
		UsesContainerEngine: true,
	})
	require.NoError(t, err)

	assert.True(t, res.HangupDetected)
	assert.True(t, res.Cancelled)
	assert.Equal(t, CancelReasonHangup, res.CancelReason)
	assert.Equal(t, core.ExitTimedOut, res.ExitStatus())
	assert.Positive(t, engine.Calls())
	require.NotNil(t, res.Analysis)
	assert.True(t, res.Analysis.Fired(hangup.HeuristicEngine))
	requireGone(t, res.PID)
}

func TestExecute_PostRunAnalysisFlagsPermission(t *testing.T) {
	detector := hangup.NewDetector(hangup.Config{}, nil, nil, hangup.WithResourceProbe(stubProbe{}))
	exe, _ := newTestExecutor(WithAnalyzer(detector))

	res, err := exe.Execute(context.Background(), Request{
		Command: script(t, "echo 'permission denied while trying to connect to the Docker daemon socket' >&2\nexit 1\n"),
	})
	require.NoError(t, err)

	require.NotNil(t, res.Analysis)
	assert.True(t, res.Analysis.Fired(hangup.HeuristicPermission))
	assert.False(t, res.HangupDetected)
}

func TestBuildEnv(t *testing.T) {
	got := buildEnv(
		[]string{"A=1", "B=2", "NOEQUALS"},
		map[string]string{"Z": "26", "B": "two", "C": "3"},
	)
	assert.Equal(t, []string{"A=1", "NOEQUALS", "B=two", "C=3", "Z=26"}, got)
}

func TestExecute_RequestNotRetained(t *testing.T) {
	exe, _ := newTestExecutor()
	args := []string{"one"}
	res, err := exe.Execute(context.Background(), Request{
		Command: script(t, `echo "$1"`+"\n"),
		Args:    args,
	})
	require.NoError(t, err)
	args[0] = "changed"
	assert.Equal(t, []string{"one"}, res.Args)
}
