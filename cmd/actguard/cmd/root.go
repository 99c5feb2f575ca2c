package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/actguard/internal/config"
	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/logging"
)

// viperKey is the flag annotation naming the config key a flag overrides.
const viperKey = "actguard_viper_key"

// skipConfig marks commands that work without a loaded configuration.
const skipConfig = "actguard_skip_config"

var (
	cfgFile   string
	logLevel  string
	logFormat string
	stateDir  string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string

	// Set by initConfig before any command runs.
	appCfg  *config.Config
	logger  = logging.NewNop()
	logFile io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "actguard",
	Short: "Supervise local GitHub Actions runs and diagnose their environment",
	Long: `actguard runs the local workflow runner (act) as a supervised child process.
It drains the runner's output without deadlocking, enforces soft and hard
timeouts on the whole process group, tells a slow job from a silently
stalled one, and checks the container engine and host the runner depends on.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Annotations[skipConfig] == "true" {
			return nil
		}
		return initConfig(cmd)
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		closeLog()
	},
}

// Execute runs the root command.
func Execute() error {
	defer closeLog()
	return rootCmd.Execute()
}

func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// GetVersion returns the application version string.
func GetVersion() string {
	return appVersion
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .actguard.yaml, then ~/.config/actguard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", ".actguard",
		"directory for run records and baselines")

	bindFlag(rootCmd.PersistentFlags(), "log-level", "log.level")
	bindFlag(rootCmd.PersistentFlags(), "log-format", "log.format")
	bindFlag(rootCmd.PersistentFlags(), "state-dir", "state.dir")

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return core.ErrValidation(core.CodeInvalidConfig, err.Error()).
			WithRemediation("see `actguard --help`")
	})
}

// bindFlag annotates a flag with the config key it overrides. The binding
// happens in initConfig against a fresh viper instance.
func bindFlag(flags *pflag.FlagSet, name, key string) {
	_ = flags.SetAnnotation(name, viperKey, []string{key})
}

// initConfig loads and validates the configuration, then builds the logger.
// Precedence follows config.Loader: flags, ACTGUARD_* env, files, defaults.
func initConfig(cmd *cobra.Command) error {
	v := viper.New()
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if keys := f.Annotations[viperKey]; len(keys) == 1 {
			_ = v.BindPFlag(keys[0], f)
		}
	})

	loader := config.NewLoaderWithViper(v)
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	if err := config.ValidateConfig(cfg); err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			return core.ErrValidation(core.CodeInvalidConfig, verrs.Error()).
				WithDetail("fields", verrs.Fields()).
				WithRemediation(fmt.Sprintf("fix %s or the matching ACTGUARD_* variables", configName(loader)))
		}
		return err
	}

	if err := initLogger(cmd, cfg.Log); err != nil {
		return err
	}
	appCfg = cfg
	logger.Debug("config loaded", "file", loader.ConfigFile())
	return nil
}

func configName(l *config.Loader) string {
	if f := l.ConfigFile(); f != "" {
		return f
	}
	return "the configuration"
}

func initLogger(cmd *cobra.Command, cfg config.LogConfig) error {
	closeLog()
	out := cmd.ErrOrStderr()
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		out, logFile = f, f
	}
	logger = logging.New(logging.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: out,
	})
	return nil
}

func closeLog() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}
