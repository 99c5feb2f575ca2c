package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/actguard/internal/activity"
	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/actguard/internal/executor"
	"github.com/hugo-lorenzo-mato/actguard/internal/report"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- [runner args...]",
	Short: "Run the workflow runner under supervision",
	Long: `Run the workflow runner (act by default) as a supervised child process.

Everything after -- is passed to the runner unchanged. The runner's output
is echoed live and captured up to execution.max_output_bytes per stream.
When the soft timeout expires the runner's process group gets SIGTERM, and
SIGKILL after the grace period; the hard timeout kills it outright.

Exit status: the runner's own exit status on completion, 124 when timed
out, 127 when the runner cannot be started, 130 when interrupted.

Examples:
  # Run the push workflow with a 30 minute limit
  actguard run --hard-timeout 30m -- push

  # Ask for a clean stop after 20 minutes, force one after 25
  actguard run --soft-timeout 20m --hard-timeout 25m -- -j build`,
	RunE: runRun,
}

var (
	runDir      string
	runEnv      []string
	runFormat   string
	runQuiet    bool
	runNoEngine bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.String("binary", "", "runner binary (default: execution.binary)")
	f.String("soft-timeout", "", "SIGTERM the runner after this long; bare numbers are seconds")
	f.String("hard-timeout", "", "SIGKILL the runner after this long; bare numbers are seconds")
	f.String("grace-period", "", "time between SIGTERM and SIGKILL")
	f.String("max-output", "", "captured bytes per stream, e.g. 8MiB")
	f.String("watch-interval", "", "interval of the live hangup check; 0 disables it")
	f.Bool("kill-on-hangup", false, "stop the runner when the live check finds a CRITICAL hangup")
	f.StringVar(&runDir, "dir", "", "working directory of the runner")
	f.StringArrayVarP(&runEnv, "env", "e", nil, "extra environment for the runner, KEY=VALUE (repeatable)")
	f.StringVarP(&runFormat, "format", "f", "text", "summary format (text, json, yaml)")
	f.BoolVarP(&runQuiet, "quiet", "q", false, "do not echo the runner's output")
	f.BoolVar(&runNoEngine, "no-engine", false, "the runner does not use the container engine")

	bindFlag(f, "binary", "execution.binary")
	bindFlag(f, "soft-timeout", "execution.soft_timeout")
	bindFlag(f, "hard-timeout", "execution.hard_timeout")
	bindFlag(f, "grace-period", "execution.grace_period")
	bindFlag(f, "max-output", "execution.max_output_bytes")
	bindFlag(f, "watch-interval", "execution.watch_interval")
	bindFlag(f, "kill-on-hangup", "execution.kill_on_hangup")
}

func runRun(cmd *cobra.Command, args []string) (err error) {
	env, err := parseEnv(runEnv)
	if err != nil {
		return err
	}
	format, err := report.ParseFormat(runFormat)
	if err != nil {
		return err
	}
	cfg := appCfg

	dumps := newCrashDumpWriter(cfg)
	defer dumps.RecoverAndReturn(&err)

	checker := newChecker(cfg)
	tracker, trackErr := activity.New(nil, logger, activityRoots(cfg)...)
	if trackErr != nil {
		logger.Warn("run: filesystem activity tracking disabled", "error", trackErr)
	} else {
		defer tracker.Close()
	}
	detector := newDetector(cfg, checker, tracker)

	opts := []executor.Option{
		executor.WithLogger(logger),
		executor.WithAnalyzer(detector),
	}
	if !runQuiet {
		opts = append(opts, executor.WithEcho(cmd.OutOrStdout(), cmd.ErrOrStderr()))
	}
	ex := executor.New(executorConfig(cfg), opts...)

	req := executor.Request{
		Command:             cfg.Execution.Binary,
		Args:                args,
		Env:                 env,
		Dir:                 runDir,
		SoftTimeout:         cfg.Execution.SoftTimeout,
		HardTimeout:         cfg.Execution.HardTimeout,
		MaxOutputBytes:      int(cfg.Execution.MaxOutputBytes),
		UsesContainerEngine: !runNoEngine,
	}
	dumps.SetCurrentCommand(&diagnostics.CommandContext{Path: req.Command, Args: req.Args, WorkDir: req.Dir})
	defer dumps.ClearCurrentCommand()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := ex.Execute(ctx, req)
	if err != nil {
		return err
	}

	recordPath := executor.RecordPath(cfg.State.Dir)
	if saveErr := executor.SaveRecord(recordPath, res); saveErr != nil {
		logger.Warn("run: could not save run record", "path", recordPath, "error", saveErr)
	}

	if err := report.RenderRun(cmd.ErrOrStderr(), res, format); err != nil {
		return err
	}

	if code := res.ExitStatus(); code != core.ExitSuccess {
		return &ExitError{Code: code}
	}
	return nil
}
