package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/actguard/internal/report"
)

var contentTypes = map[report.Format]string{
	report.FormatText: "text/plain; charset=utf-8",
	report.FormatJSON: "application/json",
	report.FormatYAML: "application/yaml",
}

type errorBody struct {
	Error       string `json:"error"`
	Code        string `json:"code,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch core.GetCategory(err) {
	case core.ErrCatNotFound:
		status = http.StatusNotFound
	case core.ErrCatValidation:
		status = http.StatusBadRequest
	}

	body := errorBody{Error: err.Error(), Remediation: core.RemediationOf(err)}
	var de *core.DomainError
	if errors.As(err, &de) {
		body.Error = de.Message
		body.Code = de.Code
	}
	writeJSON(w, status, body)
}

// requestFormat reads ?format=, defaulting to JSON.
func requestFormat(r *http.Request) (report.Format, error) {
	f := r.URL.Query().Get("format")
	if f == "" {
		return report.FormatJSON, nil
	}
	return report.ParseFormat(f)
}

// render buffers the body so a render failure can still produce an error
// response.
func render(w http.ResponseWriter, format report.Format, fn func(*bytes.Buffer) error) {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentTypes[format])
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleAPIRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": "v1", "name": "actguard"})
}

func (s *Server) handleChecks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"checks": s.diagnostics.Names()})
}

// handleDiagnostics runs all checks, or those named by repeated ?check=
// parameters. ?refresh=true bypasses the report cache.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	format, err := requestFormat(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var rep *diagnostics.Report
	if names := r.URL.Query()["check"]; len(names) > 0 {
		rep, err = s.diagnostics.RunChecks(r.Context(), names...)
		if err != nil {
			writeError(w, err)
			return
		}
	} else {
		rep = s.fullReport(r, r.URL.Query().Get("refresh") == "true")
	}

	s.writeReport(w, rep, format)
}

func (s *Server) handleDiagnostic(w http.ResponseWriter, r *http.Request) {
	format, err := requestFormat(r)
	if err != nil {
		writeError(w, err)
		return
	}
	rep, err := s.diagnostics.RunChecks(r.Context(), chi.URLParam(r, "check"))
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeReport(w, rep, format)
}

func (s *Server) writeReport(w http.ResponseWriter, rep *diagnostics.Report, format report.Format) {
	w.Header().Set("X-Actguard-Status", rep.OverallStatus.String())
	render(w, format, func(buf *bytes.Buffer) error {
		return report.Render(buf, rep, format, report.Options{})
	})
}

func (s *Server) fullReport(r *http.Request, refresh bool) *diagnostics.Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if !refresh && s.cached != nil && s.config.CacheTTL > 0 && now.Sub(s.cachedAt) < s.config.CacheTTL {
		return s.cached
	}
	rep := s.diagnostics.Run(r.Context())
	s.cached, s.cachedAt = rep, now
	return rep
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	format, err := requestFormat(r)
	if err != nil {
		writeError(w, err)
		return
	}
	retro, err := s.lastRun(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("X-Actguard-Status", retro.Status().String())
	render(w, format, func(buf *bytes.Buffer) error {
		return report.RenderRetrospective(buf, retro, format)
	})
}
