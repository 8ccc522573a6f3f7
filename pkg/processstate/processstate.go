package processstate

import (
	"context"
	"time"

	"github.com/WittorioJaro/localAgents/pkg/errors"

	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is a point in time view of one supervised process
type Snapshot struct {
	PID        int       `json:"pid"`
	Running    bool      `json:"running"`
	Name       string    `json:"name,omitempty"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

func IsProcessRunning(pid int) (bool, error) {
	return IsProcessRunningWithContext(context.Background(), pid)
}

func IsProcessRunningWithContext(ctx context.Context, pid int) (bool, error) {
	if pid <= 0 {
		return false, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}

	exists, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		return false, errors.NewProcessError("failed to check process", err).WithContext("pid", pid)
	}
	if !exists {
		return false, nil
	}

	// a zombie still has a pid entry
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false, nil
	}
	statuses, err := p.StatusWithContext(ctx)
	if err != nil {
		return true, nil
	}
	for _, s := range statuses {
		if s == process.Zombie {
			return false, nil
		}
	}
	return true, nil
}

// Take collects a resource snapshot. A process that is gone yields
// Running=false and no error.
func Take(ctx context.Context, pid int) (Snapshot, error) {
	snapshot := Snapshot{PID: pid}

	running, err := IsProcessRunningWithContext(ctx, pid)
	if err != nil {
		return snapshot, err
	}
	if !running {
		return snapshot, nil
	}
	snapshot.Running = true

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		snapshot.Running = false
		return snapshot, nil
	}

	if name, err := p.NameWithContext(ctx); err == nil {
		snapshot.Name = name
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		snapshot.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		snapshot.RSSBytes = mem.RSS
	}
	if created, err := p.CreateTimeWithContext(ctx); err == nil {
		snapshot.CreatedAt = time.UnixMilli(created)
	}

	return snapshot, nil
}
