package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/hugo-lorenzo-mato/actguard/internal/activity"
	"github.com/hugo-lorenzo-mato/actguard/internal/config"
	"github.com/hugo-lorenzo-mato/actguard/internal/connectivity"
	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/actguard/internal/executor"
	"github.com/hugo-lorenzo-mato/actguard/internal/hangup"
	"github.com/hugo-lorenzo-mato/actguard/internal/server"
)

// diskPath is the filesystem whose free space matters most: the runner's
// cache when configured, the state directory otherwise.
func diskPath(cfg *config.Config) string {
	if cfg.Cache.Dir != "" {
		if _, err := os.Stat(cfg.Cache.Dir); err == nil {
			return cfg.Cache.Dir
		}
	}
	return os.TempDir()
}

func newChecker(cfg *config.Config) *connectivity.Checker {
	return connectivity.New(connectivity.Config{
		Host:              cfg.Engine.Host,
		PingTimeout:       cfg.Engine.PingTimeout,
		CheckTimeout:      cfg.Diagnostics.CheckTimeout,
		EngineCLI:         cfg.Engine.CLI,
		ComposeMinVersion: cfg.Engine.ComposeMinVersion,
		RunnerBinary:      cfg.Execution.Binary,
		Dirs: []connectivity.Dir{
			{Name: "cache", Path: cfg.Cache.Dir},
			{Name: "output", Path: cfg.Cache.OutputDir},
		},
	}, logger)
}

// newDetector builds the hangup detector. A nil tracker leaves filesystem
// activity out of the silence heuristic.
func newDetector(cfg *config.Config, engine hangup.EngineChecker, tracker *activity.Tracker) *hangup.Detector {
	var opts []hangup.Option
	if tracker != nil {
		opts = append(opts, hangup.WithActivitySource(tracker))
	}
	return hangup.NewDetector(hangup.Config{
		SilenceThreshold: cfg.Hangup.SilenceThreshold,
		SafetyMargin:     cfg.Hangup.SafetyMargin,
		QuickExitWindow:  cfg.Hangup.QuickExitWindow,
		MinFreeDisk:      uint64(cfg.Hangup.MinFreeDisk),
		MinFreeMemory:    uint64(cfg.Hangup.MinFreeMemory),
		DiskPath:         diskPath(cfg),
	}, engine, logger, opts...)
}

func resourceThresholds(cfg *config.Config) diagnostics.ResourceThresholds {
	t := diagnostics.DefaultResourceThresholds()
	t.MinFreeDisk = uint64(cfg.Hangup.MinFreeDisk)
	t.MinFreeMemory = uint64(cfg.Hangup.MinFreeMemory)
	return t
}

// newDiagnostics registers every doctor check in report order: engine and
// runner checks first, then host resources, then the last run.
func newDiagnostics(cfg *config.Config) (*diagnostics.Service, error) {
	checker := newChecker(cfg)
	svc := diagnostics.NewService(diagnostics.Config{
		Concurrency:  cfg.Diagnostics.Concurrency,
		CheckTimeout: cfg.Diagnostics.CheckTimeout,
	}, logger)

	checks := checker.Checks()
	checks = append(checks,
		diagnostics.NewResourceCheck(diagnostics.NewSystemMetricsCollector(diskPath(cfg)), resourceThresholds(cfg)),
		diagnostics.NewLastRunCheck(newDetector(cfg, checker, nil),
			executor.RecordPath(cfg.State.Dir), cfg.State.BaselinePath()),
	)
	if err := svc.RegisterAll(checks...); err != nil {
		return nil, err
	}
	return svc, nil
}

// lastRunFunc analyzes the recorded run against the saved baseline.
func lastRunFunc(cfg *config.Config, detector *hangup.Detector) func(context.Context) (*diagnostics.Retrospective, error) {
	return func(ctx context.Context) (*diagnostics.Retrospective, error) {
		return diagnostics.AnalyzeLastRun(ctx, detector, executor.RecordPath(cfg.State.Dir), cfg.State.BaselinePath())
	}
}

func executorConfig(cfg *config.Config) executor.Config {
	return executor.Config{
		GracePeriod:   cfg.Execution.GracePeriod,
		DrainTimeout:  cfg.Execution.DrainTimeout,
		WatchInterval: cfg.Execution.WatchInterval,
		KillOnHangup:  cfg.Execution.KillOnHangup,
	}
}

func serverConfig(cfg *config.Config) server.Config {
	s := server.DefaultConfig()
	s.Host = cfg.Server.Host
	s.Port = cfg.Server.Port
	s.ReadTimeout = cfg.Server.ReadTimeout
	s.WriteTimeout = cfg.Server.WriteTimeout
	s.ShutdownTimeout = cfg.Server.ShutdownTimeout
	s.CORSOrigins = cfg.Server.CORSOrigins
	s.CacheTTL = cfg.Server.CacheTTL
	return s
}

func newCrashDumpWriter(cfg *config.Config) *diagnostics.CrashDumpWriter {
	return diagnostics.NewCrashDumpWriter(cfg.State.CrashDumpDir(), 10, false, logger,
		diagnostics.NewSystemMetricsCollector(diskPath(cfg)))
}

// parseEnv turns KEY=VALUE pairs into the request's environment overlay.
func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("invalid --env %q", p)).
				WithRemediation("use KEY=VALUE")
		}
		env[key] = value
	}
	return env, nil
}

// activityRoots lists the configured directories worth watching.
func activityRoots(cfg *config.Config) []string {
	var roots []string
	for _, d := range []string{cfg.Cache.Dir, cfg.Cache.OutputDir} {
		if d != "" {
			roots = append(roots, d)
		}
	}
	sort.Strings(roots)
	return roots
}
