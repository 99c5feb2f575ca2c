package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
)

// newTestLoader isolates the loader from the real home directory and from
// any .actguard.yaml in the package directory.
func newTestLoader(t *testing.T) (*Loader, string) {
	t.Helper()
	home := t.TempDir()
	t.Chdir(t.TempDir())
	l := NewLoader()
	l.homeDir = func() (string, error) { return home, nil }
	return l, home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoader_Defaults(t *testing.T) {
	loader, _ := newTestLoader(t)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "act", cfg.Execution.Binary)
	assert.Equal(t, time.Duration(0), cfg.Execution.SoftTimeout)
	assert.Equal(t, time.Hour, cfg.Execution.HardTimeout)
	assert.Equal(t, 5*time.Second, cfg.Execution.GracePeriod)
	assert.Equal(t, 2*time.Second, cfg.Execution.DrainTimeout)
	assert.Equal(t, ByteSize(4<<20), cfg.Execution.MaxOutputBytes)
	assert.Equal(t, 30*time.Second, cfg.Execution.WatchInterval)
	assert.False(t, cfg.Execution.KillOnHangup)

	assert.Equal(t, 5*time.Minute, cfg.Hangup.SilenceThreshold)
	assert.Equal(t, ByteSize(2<<30), cfg.Hangup.MinFreeDisk)
	assert.Equal(t, ByteSize(512<<20), cfg.Hangup.MinFreeMemory)

	assert.Equal(t, "docker", cfg.Engine.CLI)
	assert.Equal(t, "2.0.0", cfg.Engine.ComposeMinVersion)
	assert.Equal(t, 4, cfg.Diagnostics.Concurrency)
	assert.Equal(t, 10*time.Second, cfg.Diagnostics.CheckTimeout)
	assert.Equal(t, 8089, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ".actguard", cfg.State.Dir)
	assert.Equal(t, filepath.Join(".actguard", "baseline.yaml"), cfg.State.BaselinePath())

	assert.NoError(t, ValidateConfig(cfg))
	assert.Empty(t, loader.ConfigFile())
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("ACTGUARD_EXECUTION_HARD_TIMEOUT", "90")
	t.Setenv("ACTGUARD_EXECUTION_GRACE_PERIOD", "1m30s")
	t.Setenv("ACTGUARD_EXECUTION_KILL_ON_HANGUP", "true")
	t.Setenv("ACTGUARD_HANGUP_MIN_FREE_DISK", "1GiB")
	t.Setenv("ACTGUARD_DIAGNOSTICS_CONCURRENCY", "8")
	t.Setenv("ACTGUARD_LOG_LEVEL", "debug")

	loader, _ := newTestLoader(t)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Execution.HardTimeout)
	assert.Equal(t, 90*time.Second, cfg.Execution.GracePeriod)
	assert.True(t, cfg.Execution.KillOnHangup)
	assert.Equal(t, ByteSize(1<<30), cfg.Hangup.MinFreeDisk)
	assert.Equal(t, 8, cfg.Diagnostics.Concurrency)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_ConfigFile(t *testing.T) {
	loader, _ := newTestLoader(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	writeFile(t, path, `
execution:
  binary: /opt/act/bin/act
  soft_timeout: 1.5
  hard_timeout: 120
  max_output_bytes: 1048576
hangup:
  min_free_memory: 256MB
engine:
  host: unix:///run/user/1000/podman/podman.sock
server:
  cors_origins:
    - https://ci.example.com
    - http://localhost:3000
`)

	cfg, err := loader.WithConfigFile(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "/opt/act/bin/act", cfg.Execution.Binary)
	assert.Equal(t, 1500*time.Millisecond, cfg.Execution.SoftTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Execution.HardTimeout)
	assert.Equal(t, ByteSize(1<<20), cfg.Execution.MaxOutputBytes)
	assert.Equal(t, ByteSize(256_000_000), cfg.Hangup.MinFreeMemory)
	assert.Equal(t, "unix:///run/user/1000/podman/podman.sock", cfg.Engine.Host)
	assert.Equal(t, []string{"https://ci.example.com", "http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.Equal(t, path, loader.ConfigFile())

	// Unset keys keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.Execution.GracePeriod)
}

func TestLoader_EnvBeatsFile(t *testing.T) {
	loader, _ := newTestLoader(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "execution:\n  hard_timeout: 10m\n")
	t.Setenv("ACTGUARD_EXECUTION_HARD_TIMEOUT", "20m")

	cfg, err := loader.WithConfigFile(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, cfg.Execution.HardTimeout)
}

func TestLoader_ProjectOverridesUserConfig(t *testing.T) {
	loader, home := newTestLoader(t)
	writeFile(t, filepath.Join(home, ".config", "actguard", "config.yaml"),
		"execution:\n  hard_timeout: 10m\n  grace_period: 9s\n")
	writeFile(t, DefaultConfigName, "execution:\n  hard_timeout: 3m\n")

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, 3*time.Minute, cfg.Execution.HardTimeout)
	assert.Equal(t, 9*time.Second, cfg.Execution.GracePeriod)
	assert.Equal(t, DefaultConfigName, loader.ConfigFile())
}

func TestLoader_ExpandsHome(t *testing.T) {
	loader, home := newTestLoader(t)
	writeFile(t, DefaultConfigName, "cache:\n  dir: ~/.cache/act\nstate:\n  dir: ~/actguard-state\n")

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".cache", "act"), cfg.Cache.Dir)
	assert.Equal(t, filepath.Join(home, "actguard-state"), cfg.State.Dir)
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad duration", "execution:\n  hard_timeout: soon\n"},
		{"bad size", "execution:\n  max_output_bytes: lots\n"},
		{"negative size", "hangup:\n  min_free_disk: -1\n"},
		{"bad yaml", "execution: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader, _ := newTestLoader(t)
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, path, tt.content)

			_, err := loader.WithConfigFile(path).Load()
			require.Error(t, err)
			assert.True(t, core.IsCategory(err, core.ErrCatValidation))
			assert.NotEmpty(t, core.RemediationOf(err))
		})
	}
}

func TestLoader_MissingExplicitFile(t *testing.T) {
	loader, _ := newTestLoader(t)
	_, err := loader.WithConfigFile(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	assert.Error(t, err)
}

func TestDefaultConfigYAML_MatchesDefaults(t *testing.T) {
	defaults, err := func() (*Config, error) {
		l, _ := newTestLoader(t)
		return l.Load()
	}()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), DefaultConfigName)
	require.NoError(t, WriteDefault(path, false))

	loader, _ := newTestLoader(t)
	fromFile, err := loader.WithConfigFile(path).Load()
	require.NoError(t, err)

	assert.Equal(t, defaults, fromFile)
}

func TestWriteDefault_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultConfigName)
	require.NoError(t, WriteDefault(path, false))

	err := WriteDefault(path, false)
	require.Error(t, err)
	assert.Contains(t, core.RemediationOf(err), "--force")

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))
	require.NoError(t, WriteDefault(path, true))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfigYAML, string(data))
}

func TestByteSize_String(t *testing.T) {
	assert.Equal(t, "4.0 MiB", ByteSize(4<<20).String())
}
