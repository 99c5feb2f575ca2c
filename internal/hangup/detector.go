package hangup

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/hugo-lorenzo-mato/actguard/internal/health"
	"github.com/hugo-lorenzo-mato/actguard/internal/logging"
	"github.com/hugo-lorenzo-mato/actguard/internal/monitor"
)

// Config holds the heuristic thresholds.
type Config struct {
	// SilenceThreshold is how long both streams may stay quiet before a
	// live child is reported as possibly stalled.
	SilenceThreshold time.Duration
	// SafetyMargin is subtracted from the hard timeout to get the silence
	// level that escalates to CRITICAL.
	SafetyMargin time.Duration
	// QuickExitWindow is the longest run still considered an immediate exit.
	QuickExitWindow time.Duration
	// MinFreeDisk and MinFreeMemory are the resource floors in bytes.
	MinFreeDisk   uint64
	MinFreeMemory uint64
	// DiskPath is the filesystem whose free space is checked.
	DiskPath string
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold: 5 * time.Minute,
		SafetyMargin:     30 * time.Second,
		QuickExitWindow:  3 * time.Second,
		MinFreeDisk:      2 << 30,
		MinFreeMemory:    512 << 20,
	}
}

// Option customizes a Detector.
type Option func(*Detector)

// WithResourceProbe replaces the gopsutil resource probe.
func WithResourceProbe(p ResourceProbe) Option {
	return func(d *Detector) { d.probe = p }
}

// WithProcessInspector replaces the gopsutil process inspector.
func WithProcessInspector(i ProcessInspector) Option {
	return func(d *Detector) { d.inspector = i }
}

// WithActivitySource lets recent filesystem writes suppress silence warnings.
func WithActivitySource(a ActivitySource) Option {
	return func(d *Detector) { d.activity = a }
}

// Input is what one heuristic sees.
type Input struct {
	State    ProcessState
	Snapshot monitor.Snapshot
}

type heuristic struct {
	name string
	eval func(ctx context.Context, in Input) *Issue
}

// Detector runs the heuristics. It holds no per-run state and is safe for
// concurrent use.
type Detector struct {
	cfg       Config
	engine    EngineChecker
	probe     ResourceProbe
	inspector ProcessInspector
	activity  ActivitySource
	logger    *logging.Logger

	heuristics []heuristic
}

// NewDetector creates a detector. engine may be nil, which disables the
// container-engine heuristic.
func NewDetector(cfg Config, engine EngineChecker, logger *logging.Logger, opts ...Option) *Detector {
	def := DefaultConfig()
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = def.SilenceThreshold
	}
	if cfg.SafetyMargin < 0 {
		cfg.SafetyMargin = def.SafetyMargin
	}
	if cfg.QuickExitWindow <= 0 {
		cfg.QuickExitWindow = def.QuickExitWindow
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = os.TempDir()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	d := &Detector{
		cfg:       cfg,
		engine:    engine,
		probe:     SystemProbe{},
		inspector: SystemInspector{},
		logger:    logger.WithComponent("hangup"),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.heuristics = []heuristic{
		{HeuristicSilence, d.silence},
		{HeuristicEngine, d.containerEngine},
		{HeuristicPermission, d.permission},
		{HeuristicResource, d.resource},
		{HeuristicProcessState, d.processState},
	}
	return d
}

// Heuristics returns the heuristic names in evaluation order.
func (d *Detector) Heuristics() []string {
	names := make([]string, len(d.heuristics))
	for i, h := range d.heuristics {
		names[i] = h.name
	}
	return names
}

// Analyze evaluates every heuristic against the process state and a monitor
// snapshot. A heuristic that panics is skipped and logged.
func (d *Detector) Analyze(ctx context.Context, state ProcessState, snap monitor.Snapshot) Analysis {
	var issues []Issue
	for _, h := range d.heuristics {
		if is := d.evaluate(ctx, h, Input{State: state, Snapshot: snap}); is != nil {
			is.Heuristic = h.name
			issues = append(issues, *is)
		}
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Severity > issues[j].Severity
	})

	analyzedAt := snap.TakenAt
	if analyzedAt.IsZero() {
		analyzedAt = time.Now()
	}
	return Analysis{Issues: issues, AnalyzedAt: analyzedAt}
}

func (d *Detector) evaluate(ctx context.Context, h heuristic, in Input) (is *Issue) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("hangup: heuristic panicked", "heuristic", h.name, "panic", r)
			is = nil
		}
	}()
	return h.eval(ctx, in)
}

func (d *Detector) silence(_ context.Context, in Input) *Issue {
	if !in.State.Alive {
		return nil
	}
	age := in.Snapshot.Silence()

	if hard := in.State.HardTimeout; hard > 0 && hard > d.cfg.SafetyMargin {
		if age > hard-d.cfg.SafetyMargin {
			return &Issue{
				Category: CategoryProcess,
				Severity: health.StatusCritical,
				Title:    "process silent until the hard timeout",
				Description: fmt.Sprintf("no output for %s; the hard timeout of %s will kill it",
					age.Round(time.Second), hard),
				Remediation: "inspect the job for an interactive prompt or a blocked network call; " +
					"raise execution.hard_timeout only if the job is known to be slow",
			}
		}
	}

	if age <= d.cfg.SilenceThreshold {
		return nil
	}
	if d.activity != nil {
		if last := d.activity.LastActivity(); !last.IsZero() && in.Snapshot.TakenAt.Sub(last) < d.cfg.SilenceThreshold {
			d.logger.Debug("hangup: silence suppressed by filesystem activity", "silence", age, "last_write", last)
			return nil
		}
	}
	return &Issue{
		Category:    CategoryProcess,
		Severity:    health.StatusWarning,
		Title:       "possible stall",
		Description: fmt.Sprintf("no output on stdout or stderr for %s", age.Round(time.Second)),
		Remediation: "run with --verbose to see which step is active; large image pulls can be silent",
	}
}

func (d *Detector) containerEngine(ctx context.Context, in Input) *Issue {
	if d.engine == nil || !in.State.DependsOnEngine {
		return nil
	}
	// an engine outage after a clean exit is not relevant to this run
	if !in.State.Alive && in.State.ExitCode != nil && *in.State.ExitCode == 0 {
		return nil
	}

	err := d.engine.EngineReachable(ctx)
	if err == nil {
		return nil
	}
	return &Issue{
		Category: CategoryEngine,
		Severity: health.StatusCritical,
		Title:    "container engine not responding",
		Description: fmt.Sprintf("the runner depends on the engine at %s, which is the likely cause: %v",
			d.engine.Endpoint(), err),
		Remediation: "restart the engine (sudo systemctl restart docker) and re-run; " +
			"run `actguard doctor` for socket and permission details",
	}
}

var permissionDenied = regexp.MustCompile(`(?i)permission denied|operation not permitted|EACCES|` +
	`got permission denied while trying to connect to the docker daemon socket`)

func (d *Detector) permission(_ context.Context, in Input) *Issue {
	if in.State.Alive || in.State.ExitCode == nil || *in.State.ExitCode == 0 {
		return nil
	}
	if in.State.Elapsed > d.cfg.QuickExitWindow {
		return nil
	}

	code := *in.State.ExitCode
	byCode := code == 126 || code == 77
	byStderr := permissionDenied.MatchString(in.Snapshot.Stderr)
	if !byCode && !byStderr {
		return nil
	}

	evidence := fmt.Sprintf("exit code %d", code)
	if byStderr {
		evidence += " and a permission error on stderr"
	}
	return &Issue{
		Category: CategoryPermissions,
		Severity: health.StatusError,
		Title:    "permission denied, not a hang",
		Description: fmt.Sprintf("the runner exited after %s with %s",
			in.State.Elapsed.Round(time.Millisecond), evidence),
		Remediation: "check the engine socket permissions (actguard doctor --check engine-socket) " +
			"and that the runner binary is executable",
	}
}

func (d *Detector) resource(ctx context.Context, _ Input) *Issue {
	if d.probe == nil {
		return nil
	}
	var low []string

	if d.cfg.MinFreeDisk > 0 {
		free, err := d.probe.FreeDisk(ctx, d.cfg.DiskPath)
		if err != nil {
			d.logger.Debug("hangup: disk probe failed", "path", d.cfg.DiskPath, "error", err)
		} else if free < d.cfg.MinFreeDisk {
			low = append(low, fmt.Sprintf("%s free on %s (floor %s)",
				humanize.IBytes(free), d.cfg.DiskPath, humanize.IBytes(d.cfg.MinFreeDisk)))
		}
	}
	if d.cfg.MinFreeMemory > 0 {
		avail, err := d.probe.AvailableMemory(ctx)
		if err != nil {
			d.logger.Debug("hangup: memory probe failed", "error", err)
		} else if avail < d.cfg.MinFreeMemory {
			low = append(low, fmt.Sprintf("%s memory available (floor %s)",
				humanize.IBytes(avail), humanize.IBytes(d.cfg.MinFreeMemory)))
		}
	}

	if len(low) == 0 {
		return nil
	}
	desc := low[0]
	if len(low) > 1 {
		desc += "; " + low[1]
	}
	return &Issue{
		Category:    CategoryResources,
		Severity:    health.StatusWarning,
		Title:       "low host resources",
		Description: desc,
		Remediation: "free space with `docker system prune` or move cache.dir to a larger volume",
	}
}

func (d *Detector) processState(ctx context.Context, in Input) *Issue {
	if !in.State.Alive || in.State.PID <= 0 || d.inspector == nil {
		return nil
	}
	statuses, err := d.inspector.Status(ctx, in.State.PID)
	if err != nil {
		d.logger.Debug("hangup: process status unavailable", "pid", in.State.PID, "error", err)
		return nil
	}

	for _, s := range statuses {
		switch s {
		case process.Stop:
			return &Issue{
				Category:    CategoryProcess,
				Severity:    health.StatusCritical,
				Title:       "process is stopped",
				Description: fmt.Sprintf("pid %d is in the stopped state and cannot make progress", in.State.PID),
				Remediation: "resume it with kill -CONT or cancel the run",
			}
		case process.Zombie:
			return &Issue{
				Category:    CategoryProcess,
				Severity:    health.StatusCritical,
				Title:       "process is a zombie",
				Description: fmt.Sprintf("pid %d exited but was not reaped", in.State.PID),
				Remediation: "cancel the run; the runner's own children may be holding the output pipes open",
			}
		}
	}
	return nil
}
