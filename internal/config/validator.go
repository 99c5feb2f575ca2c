package config

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/hugo-lorenzo-mato/actguard/internal/connectivity"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Fields returns the offending keys in the order they were found.
func (e ValidationErrors) Fields() []string {
	out := make([]string, 0, len(e))
	for _, err := range e {
		out = append(out, err.Field)
	}
	return out
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateExecution(&cfg.Execution)
	v.validateHangup(&cfg.Hangup)
	v.validateEngine(&cfg.Engine)
	v.validateDiagnostics(&cfg.Diagnostics)
	v.validateServer(&cfg.Server)
	v.validateLog(&cfg.Log)
	v.validateState(&cfg.State)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateExecution(cfg *ExecutionConfig) {
	if strings.TrimSpace(cfg.Binary) == "" {
		v.addError("execution.binary", cfg.Binary, "binary required")
	}
	if cfg.SoftTimeout < 0 {
		v.addError("execution.soft_timeout", cfg.SoftTimeout, "must be non-negative")
	}
	if cfg.HardTimeout < 0 {
		v.addError("execution.hard_timeout", cfg.HardTimeout, "must be non-negative")
	}
	if cfg.SoftTimeout > 0 && cfg.HardTimeout > 0 && cfg.SoftTimeout >= cfg.HardTimeout {
		v.addError("execution.soft_timeout", cfg.SoftTimeout, "must be shorter than execution.hard_timeout")
	}
	if cfg.GracePeriod <= 0 {
		v.addError("execution.grace_period", cfg.GracePeriod, "must be positive")
	}
	if cfg.DrainTimeout <= 0 {
		v.addError("execution.drain_timeout", cfg.DrainTimeout, "must be positive")
	}
	if cfg.MaxOutputBytes == 0 {
		v.addError("execution.max_output_bytes", cfg.MaxOutputBytes, "must be positive")
	} else if cfg.MaxOutputBytes > maxOutputCeiling {
		v.addError("execution.max_output_bytes", cfg.MaxOutputBytes, "must be at most 1GiB")
	}
	if cfg.WatchInterval < 0 {
		v.addError("execution.watch_interval", cfg.WatchInterval, "must be non-negative")
	}
	if cfg.KillOnHangup && cfg.WatchInterval == 0 {
		v.addError("execution.kill_on_hangup", cfg.KillOnHangup, "requires a non-zero execution.watch_interval")
	}
}

// maxOutputCeiling caps the per-stream capture buffer.
const maxOutputCeiling = 1 << 30

func (v *Validator) validateHangup(cfg *HangupConfig) {
	if cfg.SilenceThreshold <= 0 {
		v.addError("hangup.silence_threshold", cfg.SilenceThreshold, "must be positive")
	}
	if cfg.SafetyMargin < 0 {
		v.addError("hangup.safety_margin", cfg.SafetyMargin, "must be non-negative")
	}
	if cfg.QuickExitWindow < 0 {
		v.addError("hangup.quick_exit_window", cfg.QuickExitWindow, "must be non-negative")
	}
}

func (v *Validator) validateEngine(cfg *EngineConfig) {
	if cfg.Host != "" {
		if _, err := connectivity.ParseHost(cfg.Host); err != nil {
			v.addError("engine.host", cfg.Host, err.Error())
		}
	}
	if strings.TrimSpace(cfg.CLI) == "" {
		v.addError("engine.cli", cfg.CLI, "engine CLI required")
	}
	if cfg.PingTimeout <= 0 {
		v.addError("engine.ping_timeout", cfg.PingTimeout, "must be positive")
	}
	if !semver.IsValid("v" + strings.TrimPrefix(cfg.ComposeMinVersion, "v")) {
		v.addError("engine.compose_min_version", cfg.ComposeMinVersion, "must be a version like 2.0.0")
	}
}

func (v *Validator) validateDiagnostics(cfg *DiagnosticsConfig) {
	if cfg.Concurrency < 1 || cfg.Concurrency > 64 {
		v.addError("diagnostics.concurrency", cfg.Concurrency, "must be between 1 and 64")
	}
	if cfg.CheckTimeout <= 0 {
		v.addError("diagnostics.check_timeout", cfg.CheckTimeout, "must be positive")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		v.addError("server.port", cfg.Port, "must be between 0 and 65535")
	}
	if cfg.CacheTTL < 0 {
		v.addError("server.cache_ttl", cfg.CacheTTL, "must be non-negative")
	}
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateState(cfg *StateConfig) {
	if strings.TrimSpace(cfg.Dir) == "" {
		v.addError("state.dir", cfg.Dir, "directory required")
	}
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
