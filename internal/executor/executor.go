// Package executor runs the workflow runner as a child process, drains its
// output without deadlocking, enforces timeouts and classifies the outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/hangup"
	"github.com/hugo-lorenzo-mato/actguard/internal/health"
	"github.com/hugo-lorenzo-mato/actguard/internal/logging"
	"github.com/hugo-lorenzo-mato/actguard/internal/monitor"
	"github.com/hugo-lorenzo-mato/actguard/internal/timeout"
)

// Signaler delivers the graceful and forceful termination signals.
type Signaler interface {
	Terminate(pid int) error
	Kill(pid int) error
}

// Analyzer runs hangup heuristics. *hangup.Detector implements it.
type Analyzer interface {
	Analyze(ctx context.Context, state hangup.ProcessState, snap monitor.Snapshot) hangup.Analysis
}

// Request describes one execution. The executor copies what it keeps.
type Request struct {
	Command        string
	Args           []string
	Env            map[string]string
	Dir            string
	SoftTimeout    time.Duration
	HardTimeout    time.Duration
	MaxOutputBytes int
	// UsesContainerEngine tells the hangup detector the child talks to the
	// container engine.
	UsesContainerEngine bool
}

// Config holds executor tuning.
type Config struct {
	GracePeriod   time.Duration
	DrainTimeout  time.Duration
	WatchInterval time.Duration
	KillOnHangup  bool
}

// DefaultConfig returns the default executor tuning.
func DefaultConfig() Config {
	return Config{
		GracePeriod:   core.DefaultGracePeriod,
		DrainTimeout:  core.DefaultDrainTimeout,
		WatchInterval: 30 * time.Second,
	}
}

// Option configures an Executor.
type Option func(*Executor)

// WithSignaler replaces the process-group signaler.
func WithSignaler(s Signaler) Option {
	return func(e *Executor) { e.signaler = s }
}

// WithClock injects the clock driving timeouts and activity.
func WithClock(c core.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithAnalyzer enables the live watch and the post-run analysis.
func WithAnalyzer(a Analyzer) Option {
	return func(e *Executor) { e.analyzer = a }
}

// WithEcho mirrors the child's output to the given writers as it arrives.
func WithEcho(stdout, stderr io.Writer) Option {
	return func(e *Executor) {
		e.echoOut = stdout
		e.echoErr = stderr
	}
}

// WithEnviron replaces os.Environ as the base environment.
func WithEnviron(fn func() []string) Option {
	return func(e *Executor) { e.environ = fn }
}

// Executor runs child processes. It is safe for concurrent use; each
// Execute call owns its own child.
type Executor struct {
	cfg      Config
	signaler Signaler
	clock    core.Clock
	logger   *logging.Logger
	analyzer Analyzer
	echoOut  io.Writer
	echoErr  io.Writer
	environ  func() []string
}

// New creates an executor.
func New(cfg Config, opts ...Option) *Executor {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = core.DefaultDrainTimeout
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = core.DefaultGracePeriod
	}
	e := &Executor{
		cfg:      cfg,
		signaler: ProcessGroupSignaler{},
		environ:  os.Environ,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.clock = core.ClockOrReal(e.clock)
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	return e
}

// run is the per-execution state shared by the coordinator, the signal
// callbacks and the watcher.
type run struct {
	id      string
	pid     int
	started time.Time
	hard    time.Duration
	req     Request
	mon     *monitor.Monitor
	ctrl    *timeout.Controller
	logger  *logging.Logger

	mu      sync.Mutex
	signals []SignalRecord

	// procMu fences signal delivery against reaping.
	procMu    sync.Mutex
	exited    bool
	signalled bool

	ctxCancelled   atomic.Bool
	hangupKill     atomic.Bool
	hangupDetected atomic.Bool
}

func (r *run) recordSignal(rec SignalRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, rec)
}

func (r *run) signalLog() []SignalRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SignalRecord(nil), r.signals...)
}

// markExited stops any later signal from reaching the child's pid.
func (r *run) markExited() {
	r.procMu.Lock()
	r.exited = true
	r.procMu.Unlock()
}

// leaderGone reports whether the child has exited. Callers hold procMu.
func (r *run) leaderGone() bool {
	if !r.exited && hasExited(r.pid) {
		r.exited = true
	}
	return r.exited
}

// wasSignalled reports whether a termination signal reached the child.
func (r *run) wasSignalled() bool {
	r.procMu.Lock()
	defer r.procMu.Unlock()
	return r.signalled
}

// Execute runs req to completion. A non-zero exit, a timeout or a
// cancellation is reported in the Result; an error is returned only when
// the request is invalid or the binary cannot be resolved or started.
// Execute never returns while the child is un-reaped.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, core.ErrValidation(core.CodeEmptyCommand, "command is empty")
	}
	if req.SoftTimeout < 0 || req.HardTimeout < 0 {
		return nil, core.ErrValidation(core.CodeInvalidTimeout, "timeouts must not be negative")
	}
	req = cloneRequest(req)

	path, err := exec.LookPath(req.Command)
	if err != nil {
		return nil, core.ErrProcessSpawn(req.Command, err)
	}

	// #nosec G204 -- the command is the configured workflow runner
	cmd := exec.Command(path, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = buildEnv(e.environ(), req.Env)
	configureProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, core.ErrProcessSpawn(path, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		return nil, core.ErrProcessSpawn(path, err)
	}

	maxBytes := req.MaxOutputBytes
	if maxBytes <= 0 {
		maxBytes = core.DefaultMaxOutputBytes
	}
	mon := monitor.New(e.clock, maxBytes)
	if e.echoOut != nil {
		mon.SetEcho(monitor.Stdout, e.echoOut)
	}
	if e.echoErr != nil {
		mon.SetEcho(monitor.Stderr, e.echoErr)
	}

	hard := req.HardTimeout
	if hard <= 0 {
		hard = core.DefaultHardTimeout
	}
	r := &run{
		id:   uuid.NewString(),
		hard: hard,
		req:  req,
		mon:  mon,
	}
	r.logger = e.logger.WithRun(r.id)
	r.ctrl = timeout.NewController(e.clock, e.cfg.GracePeriod, r.logger)

	r.logger.Info("cli: executing command",
		"path", path,
		"args", req.Args,
		"dir", req.Dir,
		"soft_timeout", req.SoftTimeout,
		"hard_timeout", hard,
	)

	r.started = e.clock.Now()
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		r.logger.Error("cli: failed to start command", "path", path, "error", err)
		return nil, core.ErrProcessSpawn(path, err)
	}
	r.pid = cmd.Process.Pid
	r.logger.Info("cli: process started", "pid", r.pid)

	readersDone := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(2)
	go e.drain(r, &readers, monitor.Stdout, stdout)
	go e.drain(r, &readers, monitor.Stderr, stderr)
	go func() {
		readers.Wait()
		close(readersDone)
	}()

	if err := r.ctrl.Start(req.SoftTimeout, hard,
		func() { e.terminate(r) },
		func() { e.kill(r, cmd) },
	); err != nil {
		// Unreachable for a fresh controller; still reap the child.
		_ = cmd.Process.Kill()
	}

	stopWatch := make(chan struct{})
	var watchers sync.WaitGroup
	watchers.Add(1)
	go func() {
		defer watchers.Done()
		select {
		case <-ctx.Done():
			r.ctxCancelled.Store(true)
			r.logger.Warn("cli: command cancelled", "pid", r.pid, "reason", ctx.Err())
			r.ctrl.Cancel()
		case <-stopWatch:
		}
	}()
	if e.analyzer != nil && e.cfg.WatchInterval > 0 {
		watchers.Add(1)
		go func() {
			defer watchers.Done()
			e.watch(ctx, r, stopWatch)
		}()
	}

	// Reap only after the pipes are drained, the kill sequence completed or
	// the child exited; Wait closes the read ends.
	exited := watchExit(r.pid)
	select {
	case <-readersDone:
	case <-r.ctrl.Killed():
	case <-exited:
	}

	var finished time.Time
	leftover := false
	if exited != nil {
		<-exited
		finished = e.clock.Now()
		r.markExited()
		r.ctrl.Stop()
		leftover = e.reclaimPipes(r, readersDone)
	}
	waitErr := cmd.Wait()
	if finished.IsZero() {
		finished = e.clock.Now()
	}
	r.markExited()
	r.ctrl.Stop()

	drainTimer := time.NewTimer(e.cfg.DrainTimeout)
	select {
	case <-readersDone:
		drainTimer.Stop()
	case <-drainTimer.C:
		r.logger.Warn("cli: output readers did not finish", "drain_timeout", e.cfg.DrainTimeout)
	}

	close(stopWatch)
	watchers.Wait()

	res := e.buildResult(r, cmd, waitErr, finished)
	res.LeftoverKilled = leftover
	if e.analyzer != nil {
		e.postAnalyze(ctx, r, res)
	}
	e.logOutcome(r, res)
	return res, nil
}

func (e *Executor) drain(r *run, wg *sync.WaitGroup, stream monitor.Stream, rc io.Reader) {
	defer wg.Done()
	if err := r.mon.Drain(stream, rc); err != nil && !errors.Is(err, os.ErrClosed) {
		r.logger.Debug("cli: stream read ended with error", "stream", stream.String(), "error", err)
	}
}

// reclaimPipes waits for the readers after the child exited. Processes the
// child left behind that still hold its output are killed through the
// child's process group, which its unreaped pid keeps valid.
func (e *Executor) reclaimPipes(r *run, readersDone <-chan struct{}) bool {
	t := time.NewTimer(e.cfg.DrainTimeout)
	defer t.Stop()
	select {
	case <-readersDone:
		return false
	case <-t.C:
	}

	r.logger.Warn("cli: command exited but its output is still held open; killing leftover processes",
		"pid", r.pid, "drain_timeout", e.cfg.DrainTimeout)
	if err := e.signaler.Kill(r.pid); err != nil {
		r.logger.Warn("cli: failed to kill leftover processes", "pid", r.pid, "error", err)
	}
	return true
}

func (e *Executor) terminate(r *run) {
	r.procMu.Lock()
	defer r.procMu.Unlock()
	if r.leaderGone() {
		r.logger.Debug("cli: command already exited, signal skipped", "pid", r.pid, "signal", SignalTerm)
		return
	}

	err := e.signaler.Terminate(r.pid)
	r.recordSignal(newSignalRecord(SignalTerm, e.clock.Now(), err))
	if err != nil {
		r.logger.Warn("cli: graceful signal failed", "pid", r.pid, "error", err)
		return
	}
	r.signalled = true
	r.logger.Warn("cli: sent graceful signal", "pid", r.pid, "signal", SignalTerm)
}

func (e *Executor) kill(r *run, cmd *exec.Cmd) {
	r.procMu.Lock()
	defer r.procMu.Unlock()
	if r.leaderGone() {
		r.logger.Debug("cli: command already exited, signal skipped", "pid", r.pid, "signal", SignalKill)
		return
	}

	err := e.signaler.Kill(r.pid)
	r.recordSignal(newSignalRecord(SignalKill, e.clock.Now(), err))
	if err != nil {
		r.logger.Error("cli: forceful signal failed, killing leader", "pid", r.pid, "error", err)
		if cmd.Process.Kill() == nil {
			r.signalled = true
		}
		return
	}
	r.signalled = true
	r.logger.Warn("cli: sent forceful signal", "pid", r.pid, "signal", SignalKill)
}

// watch runs the hangup detector against the live child until stop closes.
func (e *Executor) watch(ctx context.Context, r *run, stop <-chan struct{}) {
	reported := make(map[string]bool)
	for {
		t := e.clock.NewTimer(e.cfg.WatchInterval)
		select {
		case <-stop:
			t.Stop()
			return
		case <-t.C():
		}

		state := hangup.ProcessState{
			PID:             r.pid,
			Alive:           true,
			Elapsed:         e.clock.Now().Sub(r.started),
			HardTimeout:     r.hard,
			DependsOnEngine: r.req.UsesContainerEngine,
		}
		a := e.analyzer.Analyze(ctx, state, r.mon.Snapshot())
		if !a.HangupSuspected() {
			continue
		}
		r.hangupDetected.Store(true)
		for _, is := range a.Issues {
			if reported[is.Heuristic] {
				continue
			}
			reported[is.Heuristic] = true
			r.logger.Warn("cli: possible hangup",
				"pid", r.pid,
				"heuristic", is.Heuristic,
				"severity", is.Severity.String(),
				"description", is.Description,
			)
		}
		if e.cfg.KillOnHangup && a.Worst() >= health.StatusCritical {
			r.logger.Error("cli: stopping hung command", "pid", r.pid)
			r.hangupKill.Store(true)
			r.ctrl.Cancel()
			return
		}
	}
}

func (e *Executor) buildResult(r *run, cmd *exec.Cmd, waitErr error, finished time.Time) *Result {
	snap := r.mon.Snapshot()
	res := &Result{
		RunID:           r.id,
		Command:         cmd.Path,
		Args:            append([]string(nil), r.req.Args...),
		Dir:             r.req.Dir,
		PID:             r.pid,
		Stdout:          snap.Stdout,
		Stderr:          snap.Stderr,
		StdoutBytes:     snap.StdoutBytes,
		StderrBytes:     snap.StderrBytes,
		StdoutTruncated: snap.StdoutTruncated,
		StderrTruncated: snap.StderrTruncated,
		StartedAt:       r.started,
		LastOutputAt:    snap.LastActivity,
		Duration:        finished.Sub(r.started),
		SoftTimeout:     r.req.SoftTimeout,
		HardTimeout:     r.hard,
		UsesEngine:      r.req.UsesContainerEngine,
		HangupDetected:  r.hangupDetected.Load(),
		Signals:         r.signalLog(),
	}
	if n := len(res.Signals); n > 0 {
		res.TerminalSignal = res.Signals[n-1].Signal
	}

	intervened := r.wasSignalled()
	switch r.ctrl.State() {
	case timeout.StateCancelled:
		res.Cancelled = intervened
		if r.hangupKill.Load() && !r.ctxCancelled.Load() {
			res.CancelReason = CancelReasonHangup
		} else {
			res.CancelReason = CancelReasonContext
		}
	case timeout.StateSoftExpired, timeout.StateHardExpired:
		res.TimedOut = intervened
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			r.logger.Error("cli: wait failed", "pid", r.pid, "error", waitErr)
		}
	}
	res.TerminatedBy = exitSignal(cmd.ProcessState)
	if !intervened && cmd.ProcessState != nil {
		if code := cmd.ProcessState.ExitCode(); code >= 0 {
			res.ExitCode = &code
		}
	}
	return res
}

func (e *Executor) postAnalyze(ctx context.Context, r *run, res *Result) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	state := hangup.ProcessState{
		PID:             r.pid,
		Elapsed:         res.Duration,
		ExitCode:        res.ExitCode,
		HardTimeout:     r.hard,
		DependsOnEngine: r.req.UsesContainerEngine,
	}
	a := e.analyzer.Analyze(actx, state, r.mon.Snapshot())
	res.Analysis = &a
	if (res.TimedOut || res.Cancelled) && a.HangupSuspected() {
		res.HangupDetected = true
	}
}

func (e *Executor) logOutcome(r *run, res *Result) {
	switch {
	case res.TimedOut:
		r.logger.Error("cli: command timeout",
			"pid", r.pid,
			"duration", res.Duration,
			"signal", res.TerminalSignal,
			"hangup_detected", res.HangupDetected,
		)
	case res.Cancelled:
		r.logger.Warn("cli: command stopped",
			"pid", r.pid,
			"reason", res.CancelReason,
			"duration", res.Duration,
		)
	case res.ExitCode == nil || *res.ExitCode != 0:
		code := -1
		if res.ExitCode != nil {
			code = *res.ExitCode
		}
		r.logger.Error("cli: command failed",
			"pid", r.pid,
			"exit_code", code,
			"terminated_by", res.TerminatedBy,
			"duration", res.Duration,
			"stderr_length", res.StderrBytes,
		)
	default:
		r.logger.Info("cli: command completed",
			"pid", r.pid,
			"duration", res.Duration,
			"stdout_length", res.StdoutBytes,
			"stderr_length", res.StderrBytes,
		)
	}
}

func cloneRequest(req Request) Request {
	req.Args = append([]string(nil), req.Args...)
	if req.Env != nil {
		env := make(map[string]string, len(req.Env))
		for k, v := range req.Env {
			env[k] = v
		}
		req.Env = env
	}
	return req
}

// buildEnv overlays extra on base. Overlay keys replace base entries and are
// appended in sorted order.
func buildEnv(base []string, extra map[string]string) []string {
	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[key]; overridden {
			continue
		}
		env = append(env, kv)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, extra[k]))
	}
	return env
}
