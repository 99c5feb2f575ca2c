package diagnostics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/hugo-lorenzo-mato/actguard/internal/health"
)

// CheckSystemResources is the name of the host resource check.
const CheckSystemResources = "system-resources"

// SystemMetrics holds host-wide resource usage.
type SystemMetrics struct {
	CPUModel   string `json:"cpu_model"`
	CPUThreads int    `json:"cpu_threads"`

	MemTotal     uint64  `json:"mem_total"`
	MemAvailable uint64  `json:"mem_available"`
	MemPercent   float64 `json:"mem_percent"`

	DiskPath    string  `json:"disk_path"`
	DiskTotal   uint64  `json:"disk_total"`
	DiskFree    uint64  `json:"disk_free"`
	DiskPercent float64 `json:"disk_percent"`

	LoadAvg1  float64 `json:"load_avg_1"`
	LoadAvg5  float64 `json:"load_avg_5"`
	LoadAvg15 float64 `json:"load_avg_15"`

	OpenFDs int `json:"open_fds"`
	MaxFDs  int `json:"max_fds"`

	// Errors lists the probes that could not be read.
	Errors []string `json:"errors,omitempty"`
}

// FDPercent returns descriptor usage, or 0 when unknown.
func (m SystemMetrics) FDPercent() float64 {
	if m.MaxFDs <= 0 {
		return 0
	}
	return float64(m.OpenFDs) / float64(m.MaxFDs) * 100
}

// Collector reads SystemMetrics.
type Collector interface {
	Collect(ctx context.Context) SystemMetrics
}

// SystemMetricsCollector collects metrics via gopsutil. Hardware info is
// cached after the first call.
type SystemMetricsCollector struct {
	diskPath string

	mu            sync.Mutex
	infoCollected bool
	cpuModel      string
	cpuThreads    int
}

// NewSystemMetricsCollector creates a collector reporting disk usage for
// diskPath (the filesystem holding the runner cache). Empty means the root
// filesystem.
func NewSystemMetricsCollector(diskPath string) *SystemMetricsCollector {
	if diskPath == "" {
		diskPath = rootDiskPath()
	}
	return &SystemMetricsCollector{diskPath: diskPath}
}

// Collect gathers current system statistics. Unreadable probes are listed
// in Errors and leave their fields zero.
func (c *SystemMetricsCollector) Collect(ctx context.Context) SystemMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := SystemMetrics{DiskPath: c.diskPath}
	c.collectHardwareInfo(ctx, &stats)
	c.collectMemoryInfo(ctx, &stats)
	c.collectDiskInfo(ctx, &stats)
	c.collectLoadAvg(ctx, &stats)
	stats.OpenFDs, stats.MaxFDs = CountFDs()
	return stats
}

func (c *SystemMetricsCollector) collectHardwareInfo(ctx context.Context, stats *SystemMetrics) {
	if !c.infoCollected {
		if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
			c.cpuModel = strings.TrimSpace(infos[0].ModelName)
		}
		if threads, err := cpu.CountsWithContext(ctx, true); err == nil && threads > 0 {
			c.cpuThreads = threads
		} else {
			c.cpuThreads = runtime.NumCPU()
		}
		c.infoCollected = true
	}
	stats.CPUModel = c.cpuModel
	stats.CPUThreads = c.cpuThreads
}

func (c *SystemMetricsCollector) collectMemoryInfo(ctx context.Context, stats *SystemMetrics) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		stats.Errors = append(stats.Errors, "memory: "+err.Error())
		return
	}
	stats.MemTotal = vm.Total
	stats.MemAvailable = vm.Available
	stats.MemPercent = vm.UsedPercent
}

func (c *SystemMetricsCollector) collectDiskInfo(ctx context.Context, stats *SystemMetrics) {
	usage, err := disk.UsageWithContext(ctx, c.diskPath)
	if err != nil {
		stats.Errors = append(stats.Errors, "disk: "+err.Error())
		return
	}
	stats.DiskTotal = usage.Total
	stats.DiskFree = usage.Free
	stats.DiskPercent = usage.UsedPercent
}

func (c *SystemMetricsCollector) collectLoadAvg(ctx context.Context, stats *SystemMetrics) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		// not available on every platform
		return
	}
	stats.LoadAvg1 = avg.Load1
	stats.LoadAvg5 = avg.Load5
	stats.LoadAvg15 = avg.Load15
}

func rootDiskPath() string {
	if runtime.GOOS == "windows" {
		drive := os.Getenv("SystemDrive")
		if drive == "" {
			drive = "C:"
		}
		return drive + "\\"
	}
	return "/"
}

// ResourceThresholds are the floors and ceilings of the system-resources
// check. Zero disables a threshold.
type ResourceThresholds struct {
	MinFreeDisk      uint64
	MinFreeMemory    uint64
	MaxLoadPerCPU    float64
	FDWarningPercent float64
}

// DefaultResourceThresholds mirrors the hangup detector floors.
func DefaultResourceThresholds() ResourceThresholds {
	return ResourceThresholds{
		MinFreeDisk:      2 << 30,
		MinFreeMemory:    512 << 20,
		MaxLoadPerCPU:    2.0,
		FDWarningPercent: 80,
	}
}

// ResourceCheck reports host resources that commonly stall container
// workflows: a full cache disk, memory pressure, an overloaded CPU or
// descriptor exhaustion.
type ResourceCheck struct {
	collector  Collector
	thresholds ResourceThresholds
}

// NewResourceCheck creates the system-resources check.
func NewResourceCheck(collector Collector, thresholds ResourceThresholds) *ResourceCheck {
	return &ResourceCheck{collector: collector, thresholds: thresholds}
}

// Name implements health.Check.
func (c *ResourceCheck) Name() string { return CheckSystemResources }

// Run implements health.Check.
func (c *ResourceCheck) Run(ctx context.Context) health.Result {
	m := c.collector.Collect(ctx)
	t := c.thresholds

	var problems, remediation []string
	status := health.StatusOK
	raise := func(s health.Status, problem, fix string) {
		status = health.Max(status, s)
		problems = append(problems, problem)
		remediation = append(remediation, fix)
	}

	if t.MinFreeDisk > 0 && m.DiskTotal > 0 && m.DiskFree < t.MinFreeDisk {
		sev := health.StatusWarning
		if m.DiskFree < t.MinFreeDisk/4 {
			sev = health.StatusCritical
		}
		raise(sev,
			fmt.Sprintf("%s free on %s", humanize.IBytes(m.DiskFree), m.DiskPath),
			"prune images and build cache (`docker system prune`)")
	}
	if t.MinFreeMemory > 0 && m.MemTotal > 0 && m.MemAvailable < t.MinFreeMemory {
		raise(health.StatusWarning,
			fmt.Sprintf("%s memory available", humanize.IBytes(m.MemAvailable)),
			"close other workloads or give the container engine more memory")
	}
	if t.MaxLoadPerCPU > 0 && m.CPUThreads > 0 {
		perCPU := m.LoadAvg5 / float64(m.CPUThreads)
		if perCPU > t.MaxLoadPerCPU {
			raise(health.StatusWarning,
				fmt.Sprintf("load average %.2f on %d CPUs", m.LoadAvg5, m.CPUThreads),
				"expect slow jobs; hangup detection may report silence")
		}
	}
	if t.FDWarningPercent > 0 && m.FDPercent() > t.FDWarningPercent {
		sev := health.StatusWarning
		if m.FDPercent() > 95 {
			sev = health.StatusCritical
		}
		raise(sev,
			fmt.Sprintf("%d of %d file descriptors in use", m.OpenFDs, m.MaxFDs),
			"raise the open-file limit (`ulimit -n`)")
	}

	var r health.Result
	if status == health.StatusOK {
		r = health.OK(CheckSystemResources, fmt.Sprintf("%s disk free, %s memory available",
			humanize.IBytes(m.DiskFree), humanize.IBytes(m.MemAvailable)))
	} else {
		r = health.Result{
			Status:      status,
			Message:     strings.Join(problems, "; "),
			Remediation: strings.Join(remediation, "; "),
		}
	}
	r.Name = CheckSystemResources
	r = r.WithDetail("disk_free", m.DiskFree).
		WithDetail("mem_available", m.MemAvailable).
		WithDetail("load_avg_5", m.LoadAvg5).
		WithDetail("open_fds", m.OpenFDs)
	if len(m.Errors) > 0 {
		r = r.WithDetail("probe_errors", m.Errors)
	}
	return r
}
