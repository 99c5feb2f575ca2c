package hangup

import (
	"context"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemProbe reads resources through gopsutil.
type SystemProbe struct{}

// FreeDisk returns the bytes available on the filesystem holding path.
func (SystemProbe) FreeDisk(ctx context.Context, path string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// AvailableMemory returns the memory available for new allocations.
func (SystemProbe) AvailableMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// SystemInspector reads process status through gopsutil.
type SystemInspector struct{}

// Status returns the OS status codes of pid such as running, sleep, stop or zombie.
func (SystemInspector) Status(ctx context.Context, pid int) ([]string, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, err
	}
	return p.StatusWithContext(ctx)
}
