package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
)

// DefaultConfigName is the project config file looked up in the working
// directory.
const DefaultConfigName = ".actguard.yaml"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
	homeDir    func() (string, error)
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "ACTGUARD",
		homeDir:   os.UserHomeDir,
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (ACTGUARD_*)
// 3. Project config (.actguard.yaml in current directory)
// 4. User config (~/.config/actguard/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, configError(fmt.Sprintf("reading config %s", l.configFile), err)
		}
	} else if err := l.readDefaultFiles(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, configError("decoding config", err)
	}

	cfg.Cache.Dir = l.expandHome(cfg.Cache.Dir)
	cfg.Cache.OutputDir = l.expandHome(cfg.Cache.OutputDir)
	cfg.State.Dir = l.expandHome(cfg.State.Dir)
	cfg.Log.File = l.expandHome(cfg.Log.File)

	return &cfg, nil
}

// readDefaultFiles reads the user config and merges the project config over
// it. Both are optional.
func (l *Loader) readDefaultFiles() error {
	l.v.SetConfigType("yaml")

	var files []string
	if home, err := l.homeDir(); err == nil {
		files = append(files, filepath.Join(home, ".config", "actguard", "config.yaml"))
	}
	files = append(files, DefaultConfigName)

	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return configError(fmt.Sprintf("opening config %s", path), err)
		}
		err = l.v.MergeConfig(f)
		_ = f.Close()
		if err != nil {
			return configError(fmt.Sprintf("reading config %s", path), err)
		}
		l.configFile = path
	}
	return nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("execution.binary", core.DefaultRunnerBinary)
	l.v.SetDefault("execution.soft_timeout", time.Duration(0))
	l.v.SetDefault("execution.hard_timeout", core.DefaultHardTimeout)
	l.v.SetDefault("execution.grace_period", core.DefaultGracePeriod)
	l.v.SetDefault("execution.drain_timeout", core.DefaultDrainTimeout)
	l.v.SetDefault("execution.max_output_bytes", core.DefaultMaxOutputBytes)
	l.v.SetDefault("execution.watch_interval", 30*time.Second)
	l.v.SetDefault("execution.kill_on_hangup", false)

	l.v.SetDefault("hangup.silence_threshold", 5*time.Minute)
	l.v.SetDefault("hangup.safety_margin", 30*time.Second)
	l.v.SetDefault("hangup.quick_exit_window", 3*time.Second)
	l.v.SetDefault("hangup.min_free_disk", "2GiB")
	l.v.SetDefault("hangup.min_free_memory", "512MiB")

	l.v.SetDefault("engine.host", "")
	l.v.SetDefault("engine.cli", "docker")
	l.v.SetDefault("engine.ping_timeout", 2*time.Second)
	l.v.SetDefault("engine.compose_min_version", "2.0.0")

	l.v.SetDefault("cache.dir", defaultCacheDir())
	l.v.SetDefault("cache.output_dir", "")

	l.v.SetDefault("diagnostics.concurrency", 4)
	l.v.SetDefault("diagnostics.check_timeout", 10*time.Second)

	l.v.SetDefault("server.host", "localhost")
	l.v.SetDefault("server.port", 8089)
	l.v.SetDefault("server.read_timeout", 15*time.Second)
	l.v.SetDefault("server.write_timeout", time.Minute)
	l.v.SetDefault("server.shutdown_timeout", 10*time.Second)
	l.v.SetDefault("server.cors_origins", []string{"http://localhost:*"})
	l.v.SetDefault("server.cache_ttl", 30*time.Second)

	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")
	l.v.SetDefault("log.file", "")

	l.v.SetDefault("state.dir", ".actguard")
}

// defaultCacheDir is where act keeps its action and repository cache.
func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "act")
	}
	return ""
}

func (l *Loader) expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := l.homeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	if used := l.v.ConfigFileUsed(); used != "" {
		return used
	}
	return l.configFile
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// IsSet checks if a key has been set.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

// AllSettings returns all settings as a map.
func (l *Loader) AllSettings() map[string]interface{} {
	return l.v.AllSettings()
}

func configError(msg string, cause error) error {
	return core.ErrValidation(core.CodeInvalidConfig, msg).
		WithCause(cause).
		WithRemediation("fix the config file or run `actguard init --force` to rewrite it")
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationHook,
		byteSizeHook,
		mapstructure.StringToSliceHookFunc(","),
	)
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	byteSizeType = reflect.TypeOf(ByteSize(0))
)

// durationHook decodes durations. Bare numbers, including numeric strings
// from the environment, are seconds.
func durationHook(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case time.Duration:
		return v, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case uint64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Duration(0), nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(f * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q", v)
		}
		return d, nil
	}
	return data, nil
}

// byteSizeHook decodes ByteSize from numbers or strings like "512MiB".
func byteSizeHook(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != byteSizeType {
		return data, nil
	}
	switch v := data.(type) {
	case int:
		if v < 0 {
			return nil, fmt.Errorf("invalid size %d", v)
		}
		return ByteSize(v), nil
	case int64:
		if v < 0 {
			return nil, fmt.Errorf("invalid size %d", v)
		}
		return ByteSize(v), nil
	case uint64:
		return ByteSize(v), nil
	case float64:
		if v < 0 {
			return nil, fmt.Errorf("invalid size %v", v)
		}
		return ByteSize(v), nil
	case string:
		n, err := humanize.ParseBytes(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid size %q", v)
		}
		return ByteSize(n), nil
	}
	return data, nil
}
