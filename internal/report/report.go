// Package report renders diagnostic reports and run results as text, JSON
// or YAML.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/actguard/internal/fsutil"
	"github.com/hugo-lorenzo-mato/actguard/internal/health"
)

// Format is an output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Formats lists the supported formats.
var Formats = []Format{FormatText, FormatJSON, FormatYAML}

// ParseFormat parses a format name, case-insensitively. "yml" is accepted.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown format %q", s)).
			WithRemediation("use one of: text, json, yaml")
	}
}

// FormatFromPath guesses the format from a file extension, falling back to
// def.
func FormatFromPath(path string, def Format) Format {
	switch {
	case strings.HasSuffix(path, ".json"):
		return FormatJSON
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		return FormatYAML
	default:
		return def
	}
}

// check is one entry of the serialized report.
type check struct {
	Name        string         `json:"name" yaml:"name"`
	Status      health.Status  `json:"status" yaml:"status"`
	Message     string         `json:"message" yaml:"message"`
	Remediation string         `json:"remediation,omitempty" yaml:"remediation,omitempty"`
	Details     map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
}

// document is the serialized report schema.
type document struct {
	ID            string        `json:"id" yaml:"id"`
	Timestamp     time.Time     `json:"timestamp" yaml:"timestamp"`
	OverallStatus health.Status `json:"overall_status" yaml:"overall_status"`
	Checks        []check       `json:"checks" yaml:"checks"`
}

func toDocument(rep *diagnostics.Report) document {
	doc := document{
		ID:            rep.ID,
		Timestamp:     rep.Timestamp,
		OverallStatus: rep.OverallStatus,
		Checks:        make([]check, len(rep.Results)),
	}
	for i, r := range rep.Results {
		doc.Checks[i] = check(r)
	}
	return doc
}

// Options tunes rendering.
type Options struct {
	// Verbose includes check details in text output.
	Verbose bool
}

// Render writes rep to w in the given format.
func Render(w io.Writer, rep *diagnostics.Report, format Format, opts Options) error {
	switch format {
	case FormatJSON:
		return encodeJSON(w, toDocument(rep))
	case FormatYAML:
		return encodeYAML(w, toDocument(rep))
	case FormatText, "":
		return renderText(w, rep, opts)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// WriteFile renders rep into path atomically.
func WriteFile(path string, rep *diagnostics.Report, format Format) error {
	var buf bytes.Buffer
	if err := Render(&buf, rep, format, Options{Verbose: true}); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644)
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
