package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/actguard/internal/executor"
	"github.com/hugo-lorenzo-mato/actguard/internal/hangup"
	"github.com/hugo-lorenzo-mato/actguard/internal/health"
)

var at = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func sampleReport() *diagnostics.Report {
	rep := diagnostics.NewReport([]health.Result{
		health.OK("engine-daemon", "engine answered"),
		health.Warning("compose-plugin", "docker compose 1.29.2 is older than 2.0.0", "upgrade the compose plugin"),
		health.Error("buildx-plugin", "check timed out", "raise diagnostics.check_timeout").
			WithDetail("code", core.CodeCheckTimedOut),
	}, at)
	rep.ID = "report-1"
	return rep
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "TEXT": FormatText, "json": FormatJSON, "yml": FormatYAML, "yaml": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatJSON, FormatFromPath("out/report.json", FormatText))
	assert.Equal(t, FormatYAML, FormatFromPath("report.yml", FormatText))
	assert.Equal(t, FormatText, FormatFromPath("report.txt", FormatText))
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleReport(), FormatJSON, Options{}))

	want := `{
  "id": "report-1",
  "timestamp": "2026-03-14T09:30:00Z",
  "overall_status": "ERROR",
  "checks": [
    {
      "name": "engine-daemon",
      "status": "OK",
      "message": "engine answered"
    },
    {
      "name": "compose-plugin",
      "status": "WARNING",
      "message": "docker compose 1.29.2 is older than 2.0.0",
      "remediation": "upgrade the compose plugin"
    },
    {
      "name": "buildx-plugin",
      "status": "ERROR",
      "message": "check timed out",
      "remediation": "raise diagnostics.check_timeout",
      "details": {
        "code": "CHECK_TIMED_OUT"
      }
    }
  ]
}
`
	assert.Equal(t, want, buf.String())
}

func TestRender_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleReport(), FormatYAML, Options{}))

	var doc struct {
		OverallStatus string `yaml:"overall_status"`
		Checks        []struct {
			Name        string `yaml:"name"`
			Status      string `yaml:"status"`
			Remediation string `yaml:"remediation"`
		} `yaml:"checks"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "ERROR", doc.OverallStatus)
	require.Len(t, doc.Checks, 3)
	assert.Equal(t, "compose-plugin", doc.Checks[1].Name)
	assert.Equal(t, "WARNING", doc.Checks[1].Status)
	assert.NotContains(t, strings.SplitN(buf.String(), "- name: compose-plugin", 2)[0], "remediation")
}

func TestRender_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleReport(), FormatText, Options{Verbose: true}))
	out := buf.String()

	assert.Contains(t, out, "actguard doctor 2026-03-14T09:30:00Z")
	assert.Contains(t, out, "  OK        engine-daemon   engine answered\n")
	assert.Contains(t, out, "  WARNING   compose-plugin  docker compose 1.29.2 is older than 2.0.0\n")
	assert.Contains(t, out, "-> upgrade the compose plugin")
	assert.Contains(t, out, "code: CHECK_TIMED_OUT")
	assert.Contains(t, out, "Overall: ERROR (1 ok, 1 warning, 1 error)")
	assert.NotContains(t, out, "\x1b[", "no colour when not writing to a terminal")
}

func TestRender_EmptyReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, diagnostics.NewReport(nil, at), FormatText, Options{}))
	assert.Contains(t, buf.String(), "Overall: OK (no checks)")
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "doctor.json")
	require.NoError(t, WriteFile(path, sampleReport(), FormatJSON))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "ERROR", doc["overall_status"])
}

func TestRenderRun(t *testing.T) {
	zero := 0
	ok := &executor.Result{RunID: "abcdef0123456789", ExitCode: &zero, Duration: 1500 * time.Millisecond}

	var buf bytes.Buffer
	require.NoError(t, RenderRun(&buf, ok, FormatText))
	assert.Equal(t, "run abcdef01 succeeded in 1.5s (exit 0)\n", buf.String())

	timedOut := &executor.Result{
		RunID:          "r2",
		TimedOut:       true,
		Duration:       3 * time.Second,
		TerminalSignal: executor.SignalKill,
		Analysis: &hangup.Analysis{Issues: []hangup.Issue{{
			Heuristic: hangup.HeuristicSilence, Severity: health.StatusWarning,
			Title: "possible stall", Description: "no output for 3s",
		}}},
	}
	buf.Reset()
	require.NoError(t, RenderRun(&buf, timedOut, FormatText))
	assert.Contains(t, buf.String(), "run r2 timed_out in 3s after SIGKILL")
	assert.Contains(t, buf.String(), "possible stall")

	buf.Reset()
	require.NoError(t, RenderRun(&buf, timedOut, FormatJSON))
	var s map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &s))
	assert.Equal(t, true, s["timed_out"])
	assert.Nil(t, s["exit_code"])
	assert.Equal(t, "timed_out", s["outcome"])
}

func TestRenderRun_LeftoverKilled(t *testing.T) {
	zero := 0
	res := &executor.Result{RunID: "r3", ExitCode: &zero, Duration: time.Second, LeftoverKilled: true}

	var buf bytes.Buffer
	require.NoError(t, RenderRun(&buf, res, FormatText))
	assert.Contains(t, buf.String(), "run r3 succeeded in 1s (exit 0)")
	assert.Contains(t, buf.String(), "left holding the output")

	buf.Reset()
	require.NoError(t, RenderRun(&buf, res, FormatJSON))
	var s map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &s))
	assert.Equal(t, true, s["leftover_killed"])
	assert.Equal(t, "succeeded", s["outcome"])
}
