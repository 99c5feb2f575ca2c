// Package connectivity performs point-in-time checks against the container
// engine the workflow runner depends on and against the local directories it
// writes to. Every check is independent, bounded in time, and reports its
// outcome as a health.Result rather than an error.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/mod/semver"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/health"
	"github.com/hugo-lorenzo-mato/actguard/internal/logging"
)

// Check names.
const (
	CheckEngineDaemon  = "engine-daemon"
	CheckEngineSocket  = "engine-socket"
	CheckEngineVersion = "engine-version"
	CheckCompose       = "compose-plugin"
	CheckBuildx        = "buildx-plugin"
	CheckRunnerBinary  = "runner-binary"
	dirCheckPrefix     = "dir:"
)

// Dir is a directory the runner needs to write to.
type Dir struct {
	Name string
	Path string
}

// Config configures the checker.
type Config struct {
	// Host overrides endpoint discovery (DOCKER_HOST syntax).
	Host string
	// PingTimeout bounds a single engine ping.
	PingTimeout time.Duration
	// CheckTimeout bounds each sub-check.
	CheckTimeout time.Duration
	// EngineCLI is the engine command line client used for plugin checks.
	EngineCLI string
	// ComposeMinVersion is the oldest acceptable compose plugin.
	ComposeMinVersion string
	// RunnerBinary is the workflow runner looked up on PATH.
	RunnerBinary string
	// Dirs are checked for existence and writability.
	Dirs []Dir
}

// DefaultConfig returns the checker defaults.
func DefaultConfig() Config {
	return Config{
		PingTimeout:       2 * time.Second,
		CheckTimeout:      5 * time.Second,
		EngineCLI:         "docker",
		ComposeMinVersion: "2.0.0",
		RunnerBinary:      core.DefaultRunnerBinary,
	}
}

// CommandRunner runs a short-lived helper command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Option customizes a Checker.
type Option func(*Checker)

// WithCommandRunner replaces the helper command runner.
func WithCommandRunner(run CommandRunner) Option {
	return func(c *Checker) { c.run = run }
}

// WithLookPath replaces exec.LookPath.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(c *Checker) { c.lookPath = fn }
}

// WithGetenv replaces os.Getenv for endpoint discovery.
func WithGetenv(fn func(string) string) Option {
	return func(c *Checker) { c.getenv = fn }
}

// WithClock replaces the clock used to measure engine latency.
func WithClock(clock core.Clock) Option {
	return func(c *Checker) { c.clock = clock }
}

// Checker runs the connectivity checks. It is safe for concurrent use.
type Checker struct {
	cfg      Config
	logger   *logging.Logger
	clock    core.Clock
	run      CommandRunner
	lookPath func(string) (string, error)
	getenv   func(string) string

	endpoint   Endpoint
	resolveErr error
	engine     *engineClient
	runner     *health.Runner
}

// New creates a checker and resolves the engine endpoint once.
func New(cfg Config, logger *logging.Logger, opts ...Option) *Checker {
	def := DefaultConfig()
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = def.CheckTimeout
	}
	if cfg.EngineCLI == "" {
		cfg.EngineCLI = def.EngineCLI
	}
	if cfg.ComposeMinVersion == "" {
		cfg.ComposeMinVersion = def.ComposeMinVersion
	}
	if cfg.RunnerBinary == "" {
		cfg.RunnerBinary = def.RunnerBinary
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	c := &Checker{
		cfg:      cfg,
		logger:   logger.WithComponent("connectivity"),
		run:      execRunner,
		lookPath: exec.LookPath,
		getenv:   os.Getenv,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.clock = core.ClockOrReal(c.clock)
	c.runner = health.NewRunner(cfg.CheckTimeout, c.logger)

	c.endpoint, c.resolveErr = ResolveEndpoint(cfg.Host, c.getenv)
	if c.resolveErr == nil {
		c.engine = newEngineClient(c.endpoint)
	}
	c.logger.Debug("connectivity: engine endpoint resolved",
		"endpoint", c.endpoint.String(), "source", c.endpoint.Source, "error", c.resolveErr)
	return c
}

// Endpoint returns the resolved engine endpoint in DOCKER_HOST form.
func (c *Checker) Endpoint() string {
	return c.endpoint.String()
}

// EngineReachable pings the engine within the ping timeout. It returns a
// connectivity DomainError when the engine does not answer.
func (c *Checker) EngineReachable(ctx context.Context) error {
	if c.resolveErr != nil {
		return core.ErrConnectivity(core.CodeEngineDown, "container engine endpoint is invalid").
			WithCause(c.resolveErr).
			WithRemediation("fix engine.host or DOCKER_HOST")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PingTimeout)
	defer cancel()

	if err := c.engine.ping(ctx); err != nil {
		return core.ErrConnectivity(core.CodeEngineDown,
			fmt.Sprintf("container engine not reachable at %s", c.endpoint)).
			WithCause(err).
			WithDetail("endpoint", c.endpoint.String()).
			WithRemediation(engineRemediation(c.endpoint))
	}
	return nil
}

// Checks returns the sub-checks in their reporting order.
func (c *Checker) Checks() []health.Check {
	checks := []health.Check{
		health.NewCheck(CheckEngineDaemon, c.checkDaemon),
		health.NewCheck(CheckEngineSocket, c.checkSocket),
		health.NewCheck(CheckEngineVersion, c.checkVersion),
		health.NewCheck(CheckCompose, c.checkCompose),
		health.NewCheck(CheckBuildx, c.checkBuildx),
		health.NewCheck(CheckRunnerBinary, c.checkRunner),
	}
	for _, d := range c.cfg.Dirs {
		checks = append(checks, health.NewCheck(dirCheckPrefix+d.Name, func(ctx context.Context) health.Result {
			return checkDir(d)
		}))
	}
	return checks
}

// CheckTimeout returns the per-check timeout.
func (c *Checker) CheckTimeout() time.Duration {
	return c.cfg.CheckTimeout
}

// CheckAll runs every sub-check concurrently, each under its own timeout,
// and returns the results in the order of Checks.
func (c *Checker) CheckAll(ctx context.Context) []health.Result {
	checks := c.Checks()
	results := make([]health.Result, len(checks))

	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i] = c.runner.Run(ctx, check)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Checker) checkDaemon(ctx context.Context) health.Result {
	start := c.clock.Now()
	err := c.EngineReachable(ctx)
	if err != nil {
		var derr *core.DomainError
		msg := err.Error()
		if errors.As(err, &derr) {
			msg = derr.Message
			if derr.Cause != nil {
				msg += ": " + derr.Cause.Error()
			}
		}
		return health.Critical(CheckEngineDaemon, msg, core.RemediationOf(err)).
			WithDetail("endpoint", c.endpoint.String())
	}
	return health.OK(CheckEngineDaemon, fmt.Sprintf("engine answered at %s", c.endpoint)).
		WithDetail("endpoint", c.endpoint.String()).
		WithDetail("latency_ms", c.clock.Now().Sub(start).Milliseconds())
}

func (c *Checker) checkSocket(context.Context) health.Result {
	if c.resolveErr != nil {
		return health.Critical(CheckEngineSocket, c.resolveErr.Error(), "fix engine.host or DOCKER_HOST")
	}
	if !c.endpoint.IsSocket() {
		return health.OK(CheckEngineSocket, fmt.Sprintf("engine uses %s; no local socket to check", c.endpoint))
	}

	path := c.endpoint.Address
	fi, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return health.Critical(CheckEngineSocket, fmt.Sprintf("control socket %s does not exist", path),
			engineRemediation(c.endpoint)).
			WithDetail("code", core.CodeSocketMissing).
			WithDetail("source", c.endpoint.Source)
	case err != nil:
		return health.Error(CheckEngineSocket, fmt.Sprintf("cannot stat %s: %v", path, err), "")
	case fi.Mode()&os.ModeSocket == 0:
		return health.Critical(CheckEngineSocket, fmt.Sprintf("%s exists but is not a socket", path),
			"point engine.host at the engine's control socket")
	}

	if err := socketAccess(path); err != nil {
		return health.Critical(CheckEngineSocket, fmt.Sprintf("no read/write access to %s: %v", path, err),
			"add your user to the docker group (sudo usermod -aG docker $USER) and log in again, or use rootless Podman").
			WithDetail("code", core.CodeSocketDenied)
	}
	return health.OK(CheckEngineSocket, fmt.Sprintf("%s is accessible", path))
}

func (c *Checker) checkVersion(ctx context.Context) health.Result {
	if c.resolveErr != nil {
		return health.Critical(CheckEngineVersion, c.resolveErr.Error(), "fix engine.host or DOCKER_HOST")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PingTimeout)
	defer cancel()

	info, err := c.engine.version(ctx)
	if err != nil {
		return health.Warning(CheckEngineVersion, fmt.Sprintf("could not read engine version: %v", err),
			"the engine-daemon check explains why the engine is not answering")
	}
	return health.OK(CheckEngineVersion,
		fmt.Sprintf("%s %s (API %s, %s/%s)", info.Flavor(), info.Version, info.APIVersion, info.Os, info.Arch)).
		WithDetail("version", info.Version).
		WithDetail("api_version", info.APIVersion)
}

func (c *Checker) checkCompose(ctx context.Context) health.Result {
	if _, err := c.lookPath(c.cfg.EngineCLI); err != nil {
		return health.Warning(CheckCompose, fmt.Sprintf("%s CLI not found on PATH", c.cfg.EngineCLI),
			"install the engine CLI to use compose-based services")
	}

	out, err := c.run(ctx, c.cfg.EngineCLI, "compose", "version", "--short")
	if err != nil {
		return health.Warning(CheckCompose, fmt.Sprintf("compose plugin not available: %v", err),
			"install the compose plugin (docker-compose-plugin package or Docker Desktop)")
	}

	got := strings.TrimSpace(string(out))
	cmp, ok := compareVersions(got, c.cfg.ComposeMinVersion)
	if !ok {
		return health.Warning(CheckCompose, fmt.Sprintf("unrecognized compose version %q", got), "")
	}
	if cmp < 0 {
		return health.Warning(CheckCompose,
			fmt.Sprintf("compose %s is older than the required %s", got, c.cfg.ComposeMinVersion),
			"upgrade the compose plugin").
			WithDetail("version", got)
	}
	return health.OK(CheckCompose, fmt.Sprintf("compose %s", got)).WithDetail("version", got)
}

func (c *Checker) checkBuildx(ctx context.Context) health.Result {
	if _, err := c.lookPath(c.cfg.EngineCLI); err != nil {
		return health.Warning(CheckBuildx, fmt.Sprintf("%s CLI not found on PATH", c.cfg.EngineCLI), "")
	}
	out, err := c.run(ctx, c.cfg.EngineCLI, "buildx", "version")
	if err != nil {
		return health.Warning(CheckBuildx, fmt.Sprintf("buildx plugin not available: %v", err),
			"install buildx; workflows that build images will fail without it")
	}
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	return health.OK(CheckBuildx, line)
}

func (c *Checker) checkRunner(context.Context) health.Result {
	path, err := c.lookPath(c.cfg.RunnerBinary)
	if err != nil {
		return health.Critical(CheckRunnerBinary, fmt.Sprintf("%s not found on PATH", c.cfg.RunnerBinary),
			"install the workflow runner (https://nektosact.com/installation/) or set execution.binary")
	}
	return health.OK(CheckRunnerBinary, path).WithDetail("path", path)
}

func checkDir(d Dir) health.Result {
	name := dirCheckPrefix + d.Name
	if d.Path == "" {
		return health.OK(name, "not configured")
	}

	fi, err := os.Stat(d.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return health.Critical(name, fmt.Sprintf("%s does not exist", d.Path),
			fmt.Sprintf("mkdir -p %s", d.Path))
	case err != nil:
		return health.Error(name, fmt.Sprintf("cannot stat %s: %v", d.Path, err), "")
	case !fi.IsDir():
		return health.Critical(name, fmt.Sprintf("%s is not a directory", d.Path), "")
	}

	probe, err := os.CreateTemp(d.Path, ".actguard-probe-*")
	if err != nil {
		return health.Critical(name, fmt.Sprintf("%s is not writable: %v", d.Path, err),
			fmt.Sprintf("fix ownership, e.g. sudo chown -R $USER %s", d.Path))
	}
	probePath := probe.Name()
	_ = probe.Close()
	_ = os.Remove(probePath)

	return health.OK(name, fmt.Sprintf("%s is writable", d.Path)).WithDetail("path", d.Path)
}

// compareVersions compares two dotted versions, ignoring a leading "v" and
// any pre-release or build suffix. ok is false when either is unparsable.
func compareVersions(a, b string) (cmp int, ok bool) {
	ca, cb := canonical(a), canonical(b)
	if ca == "" || cb == "" {
		return 0, false
	}
	return semver.Compare(ca, cb), true
}

func canonical(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	return semver.Canonical("v" + v)
}

func engineRemediation(ep Endpoint) string {
	if ep.IsSocket() {
		return fmt.Sprintf("start the engine (sudo systemctl start docker, or systemctl --user start podman.socket) "+
			"or point DOCKER_HOST at a live socket; tried %s (%s)", ep, ep.Source)
	}
	return fmt.Sprintf("check that the engine at %s is running and reachable", ep)
}
