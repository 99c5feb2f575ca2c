// Package health defines the four-level severity scale and the value types
// shared by every health check.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Status is a check outcome. The zero value is OK; higher values are worse.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusCritical
	StatusError
)

var statusNames = [...]string{"OK", "WARNING", "CRITICAL", "ERROR"}

// String returns the canonical upper-case name.
func (s Status) String() string {
	if s < StatusOK || s > StatusError {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// Valid reports whether s is one of the four defined levels.
func (s Status) Valid() bool {
	return s >= StatusOK && s <= StatusError
}

// ParseStatus parses a status name, case-insensitively.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(s, name) {
			return Status(i), nil
		}
	}
	return StatusOK, fmt.Errorf("unknown status %q", s)
}

// Max returns the worst of the given statuses, StatusOK for none.
func Max(statuses ...Status) Status {
	worst := StatusOK
	for _, s := range statuses {
		if s > worst {
			worst = s
		}
	}
	return worst
}

// MarshalText implements encoding.TextMarshaler, used by JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Status) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Status) UnmarshalYAML(node *yaml.Node) error {
	return s.UnmarshalText([]byte(node.Value))
}

var _ json.Marshaler = Result{}

// Result is the immutable outcome of one health check.
type Result struct {
	Name        string
	Status      Status
	Message     string
	Remediation string
	Details     map[string]any
}

// MarshalJSON emits the report schema fields in a fixed order.
func (r Result) MarshalJSON() ([]byte, error) {
	type wire struct {
		Name        string         `json:"name"`
		Status      Status         `json:"status"`
		Message     string         `json:"message"`
		Remediation string         `json:"remediation,omitempty"`
		Details     map[string]any `json:"details,omitempty"`
	}
	return json.Marshal(wire(r))
}

// OK builds a passing result.
func OK(name, message string) Result {
	return Result{Name: name, Status: StatusOK, Message: message}
}

// Warning builds a WARNING result.
func Warning(name, message, remediation string) Result {
	return Result{Name: name, Status: StatusWarning, Message: message, Remediation: remediation}
}

// Critical builds a CRITICAL result.
func Critical(name, message, remediation string) Result {
	return Result{Name: name, Status: StatusCritical, Message: message, Remediation: remediation}
}

// Error builds an ERROR result, used when a check itself failed.
func Error(name, message, remediation string) Result {
	return Result{Name: name, Status: StatusError, Message: message, Remediation: remediation}
}

// WithDetail returns a copy of r with key set in Details.
func (r Result) WithDetail(key string, value any) Result {
	details := make(map[string]any, len(r.Details)+1)
	for k, v := range r.Details {
		details[k] = v
	}
	details[key] = value
	r.Details = details
	return r
}

// Check is an independent, side-effect-free probe of one aspect of the
// environment.
type Check interface {
	Name() string
	Run(ctx context.Context) Result
}

// CheckFunc adapts a function into a Check.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) Result
}

// Name returns the check name.
func (c CheckFunc) Name() string { return c.CheckName }

// Run invokes the function and stamps the result with the check name.
func (c CheckFunc) Run(ctx context.Context) Result {
	r := c.Fn(ctx)
	r.Name = c.CheckName
	return r
}

// NewCheck is shorthand for CheckFunc.
func NewCheck(name string, fn func(ctx context.Context) Result) Check {
	return CheckFunc{CheckName: name, Fn: fn}
}
