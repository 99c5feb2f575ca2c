package config

import (
	"fmt"
	"os"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/fsutil"
)

// DefaultConfigYAML contains the default configuration YAML content.
// It is what `actguard init` writes and must stay in sync with setDefaults.
const DefaultConfigYAML = `# actguard configuration
#
# Durations accept Go syntax ("90s", "1h30m") or bare numbers in seconds.
# Sizes accept byte counts or units ("4MiB", "2GiB").
# Every key can be overridden with ACTGUARD_<SECTION>_<KEY>.

execution:
  # Workflow runner looked up on PATH.
  binary: act
  # Soft timeout asks the runner to stop (SIGTERM); 0 disables it.
  soft_timeout: 0
  # Hard timeout kills the runner's process group.
  hard_timeout: 1h
  # Time between SIGTERM and SIGKILL.
  grace_period: 5s
  # How long to wait for output readers after the runner exits.
  drain_timeout: 2s
  # Captured bytes kept per stream; the rest is dropped.
  max_output_bytes: 4MiB
  # Interval of the live hangup check; 0 disables it.
  watch_interval: 30s
  # Stop the runner when the live check reports a CRITICAL hangup.
  kill_on_hangup: false

hangup:
  silence_threshold: 5m
  safety_margin: 30s
  quick_exit_window: 3s
  min_free_disk: 2GiB
  min_free_memory: 512MiB

engine:
  # Empty means DOCKER_HOST, then the default Docker and Podman sockets.
  host: ""
  cli: docker
  ping_timeout: 2s
  compose_min_version: 2.0.0

cache:
  # act's action cache; defaults to the user cache dir.
  # dir: ~/.cache/act
  # Artifact server path passed to act, if any.
  output_dir: ""

diagnostics:
  concurrency: 4
  check_timeout: 10s

server:
  host: localhost
  port: 8089
  cache_ttl: 30s
  cors_origins:
    - http://localhost:*

log:
  level: info
  # auto, text or json
  format: auto
  file: ""

state:
  dir: .actguard
`

// WriteDefault writes DefaultConfigYAML to path. An existing file is only
// replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("%s already exists", path)).
				WithRemediation("use --force to overwrite it")
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("checking %s: %w", path, err)
		}
	}
	return fsutil.WriteFileAtomic(path, []byte(DefaultConfigYAML), 0o644)
}
