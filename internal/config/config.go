package config

import (
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

// Config holds all application configuration.
type Config struct {
	Execution   ExecutionConfig   `mapstructure:"execution"`
	Hangup      HangupConfig      `mapstructure:"hangup"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	State       StateConfig       `mapstructure:"state"`
}

// ByteSize is a byte count that decodes from either a number or a
// human-readable string such as "4MiB".
type ByteSize uint64

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// ExecutionConfig configures how the workflow runner is supervised.
type ExecutionConfig struct {
	Binary         string        `mapstructure:"binary"`
	SoftTimeout    time.Duration `mapstructure:"soft_timeout"`
	HardTimeout    time.Duration `mapstructure:"hard_timeout"`
	GracePeriod    time.Duration `mapstructure:"grace_period"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`
	MaxOutputBytes ByteSize      `mapstructure:"max_output_bytes"`
	WatchInterval  time.Duration `mapstructure:"watch_interval"`
	KillOnHangup   bool          `mapstructure:"kill_on_hangup"`
}

// HangupConfig holds the hangup heuristic thresholds.
type HangupConfig struct {
	SilenceThreshold time.Duration `mapstructure:"silence_threshold"`
	SafetyMargin     time.Duration `mapstructure:"safety_margin"`
	QuickExitWindow  time.Duration `mapstructure:"quick_exit_window"`
	MinFreeDisk      ByteSize      `mapstructure:"min_free_disk"`
	MinFreeMemory    ByteSize      `mapstructure:"min_free_memory"`
}

// EngineConfig configures access to the container engine.
type EngineConfig struct {
	Host              string        `mapstructure:"host"`
	CLI               string        `mapstructure:"cli"`
	PingTimeout       time.Duration `mapstructure:"ping_timeout"`
	ComposeMinVersion string        `mapstructure:"compose_min_version"`
}

// CacheConfig names the directories the runner writes to.
type CacheConfig struct {
	Dir       string `mapstructure:"dir"`
	OutputDir string `mapstructure:"output_dir"`
}

// DiagnosticsConfig configures the doctor checks.
type DiagnosticsConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
}

// ServerConfig configures the report endpoint started by `actguard serve`.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// StateConfig configures where run records and baselines are kept.
type StateConfig struct {
	Dir string `mapstructure:"dir"`
}

// BaselinePath returns the location of the saved hangup baseline.
func (s StateConfig) BaselinePath() string {
	return filepath.Join(s.Dir, "baseline.yaml")
}

// CrashDumpDir returns the directory crash dumps are written to.
func (s StateConfig) CrashDumpDir() string {
	return filepath.Join(s.Dir, "crashdumps")
}
