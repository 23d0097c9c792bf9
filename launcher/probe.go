package launcher

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// Usage is a resource sample of the capture process.
type Usage struct {
	CPUPercent float64
	RSSBytes   uint64
}

// Probe inspects OS processes.
type Probe interface {
	// FindByName returns PIDs whose process name equals name (case-insensitive).
	FindByName(ctx context.Context, name string) ([]int, error)
	// Usage samples CPU and memory of pid.
	Usage(ctx context.Context, pid int) (Usage, error)
}

// SystemProbe implements Probe using gopsutil.
type SystemProbe struct{}

// FindByName scans the live process table.
func (SystemProbe) FindByName(ctx context.Context, name string) ([]int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	var found []int
	for _, p := range procs {
		n, err := p.NameWithContext(ctx)
		if err != nil {
			continue // process may have exited
		}
		if strings.EqualFold(n, name) {
			found = append(found, int(p.Pid))
		}
	}
	return found, nil
}

// Usage reads CPU percent and resident memory for pid.
func (SystemProbe) Usage(ctx context.Context, pid int) (Usage, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Usage{}, err
	}
	var u Usage
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		u.CPUPercent = cpu
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return u, err
	}
	u.RSSBytes = mem.RSS
	return u, nil
}

var _ Probe = SystemProbe{}
