package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hugo-lorenzo-mato/actguard/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/actguard/internal/health"
)

type palette struct {
	status      map[health.Status]lipgloss.Style
	title       lipgloss.Style
	dim         lipgloss.Style
	remediation lipgloss.Style
}

// newPalette binds styles to w so colour is only emitted on terminals.
func newPalette(w io.Writer) palette {
	r := lipgloss.NewRenderer(w)
	return palette{
		status: map[health.Status]lipgloss.Style{
			health.StatusOK:       r.NewStyle().Foreground(lipgloss.Color("#10B981")),
			health.StatusWarning:  r.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Bold(true),
			health.StatusCritical: r.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true),
			health.StatusError:    r.NewStyle().Foreground(lipgloss.Color("#A855F7")).Bold(true),
		},
		title:       r.NewStyle().Bold(true),
		dim:         r.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		remediation: r.NewStyle().Foreground(lipgloss.Color("#3B82F6")),
	}
}

func (p palette) statusCell(s health.Status, width int) string {
	return p.status[s].Width(width).Render(s.String())
}

func renderText(w io.Writer, rep *diagnostics.Report, opts Options) error {
	p := newPalette(w)
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n\n",
		p.title.Render("actguard doctor"),
		p.dim.Render(rep.Timestamp.Format(time.RFC3339)))

	nameWidth := 0
	for _, r := range rep.Results {
		nameWidth = max(nameWidth, len(r.Name))
	}
	nameWidth += 2
	indent := strings.Repeat(" ", 2+10+nameWidth)

	for _, r := range rep.Results {
		fmt.Fprintf(&b, "  %s%s%s\n",
			p.statusCell(r.Status, 10),
			lipgloss.NewStyle().Width(nameWidth).Render(r.Name),
			r.Message)
		if r.Remediation != "" && r.Status != health.StatusOK {
			fmt.Fprintf(&b, "%s%s\n", indent, p.remediation.Render("-> "+r.Remediation))
		}
		if opts.Verbose {
			for _, k := range sortedKeys(r.Details) {
				if k == "stack" {
					continue
				}
				fmt.Fprintf(&b, "%s%s\n", indent, p.dim.Render(fmt.Sprintf("%s: %v", k, r.Details[k])))
			}
		}
	}

	fmt.Fprintf(&b, "\nOverall: %s (%s)\n",
		p.status[rep.OverallStatus].Render(rep.OverallStatus.String()),
		countsLine(rep))

	_, err := io.WriteString(w, b.String())
	return err
}

func countsLine(rep *diagnostics.Report) string {
	counts := rep.Counts()
	var parts []string
	for _, s := range []health.Status{health.StatusOK, health.StatusWarning, health.StatusCritical, health.StatusError} {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, strings.ToLower(s.String())))
		}
	}
	if len(parts) == 0 {
		return "no checks"
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
