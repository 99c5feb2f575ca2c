package diagnostics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/actguard/internal/health"
)

type staticCollector SystemMetrics

func (c staticCollector) Collect(context.Context) SystemMetrics { return SystemMetrics(c) }

func healthyMetrics() SystemMetrics {
	return SystemMetrics{
		CPUThreads:   8,
		MemTotal:     16 << 30,
		MemAvailable: 8 << 30,
		DiskPath:     "/var/lib/docker",
		DiskTotal:    500 << 30,
		DiskFree:     200 << 30,
		LoadAvg5:     1.5,
		OpenFDs:      40,
		MaxFDs:       1024,
	}
}

func TestResourceCheck(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*SystemMetrics)
		want   health.Status
		msg    string
	}{
		{"healthy", func(*SystemMetrics) {}, health.StatusOK, "200 GiB disk free"},
		{"low disk", func(m *SystemMetrics) { m.DiskFree = 1 << 30 }, health.StatusWarning, "1.0 GiB free on /var/lib/docker"},
		{"nearly full disk", func(m *SystemMetrics) { m.DiskFree = 100 << 20 }, health.StatusCritical, "100 MiB free"},
		{"low memory", func(m *SystemMetrics) { m.MemAvailable = 100 << 20 }, health.StatusWarning, "100 MiB memory available"},
		{"overloaded", func(m *SystemMetrics) { m.LoadAvg5 = 40 }, health.StatusWarning, "load average 40.00 on 8 CPUs"},
		{"fd pressure", func(m *SystemMetrics) { m.OpenFDs = 900 }, health.StatusWarning, "900 of 1024 file descriptors"},
		{"fd exhaustion", func(m *SystemMetrics) { m.OpenFDs = 1000 }, health.StatusCritical, "1000 of 1024"},
		{"unknown totals are ignored", func(m *SystemMetrics) {
			m.DiskTotal, m.DiskFree, m.MemTotal, m.MemAvailable, m.MaxFDs = 0, 0, 0, 0, 0
		}, health.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := healthyMetrics()
			tt.mutate(&m)
			r := NewResourceCheck(staticCollector(m), DefaultResourceThresholds()).Run(context.Background())

			assert.Equal(t, CheckSystemResources, r.Name)
			assert.Equal(t, tt.want, r.Status)
			assert.Contains(t, r.Message, tt.msg)
			if tt.want != health.StatusOK {
				assert.NotEmpty(t, r.Remediation)
			}
		})
	}
}

func TestResourceCheck_CombinesProblems(t *testing.T) {
	t.Parallel()
	m := healthyMetrics()
	m.DiskFree = 100 << 20
	m.MemAvailable = 1 << 20
	r := NewResourceCheck(staticCollector(m), DefaultResourceThresholds()).Run(context.Background())

	assert.Equal(t, health.StatusCritical, r.Status)
	assert.Contains(t, r.Message, "; ")
	assert.Contains(t, r.Remediation, "docker system prune")
}

func TestSystemMetricsCollector_Collect(t *testing.T) {
	t.Parallel()
	m := NewSystemMetricsCollector(t.TempDir()).Collect(context.Background())
	assert.Positive(t, m.CPUThreads)
	assert.Positive(t, m.DiskTotal)
	assert.Positive(t, m.MemTotal)
}

func TestCountFDs(t *testing.T) {
	t.Parallel()
	open, _ := CountFDs()
	if open == 0 {
		t.Skip("descriptor count not available on this platform")
	}
	require.Positive(t, open)
}
