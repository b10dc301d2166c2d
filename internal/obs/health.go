package obs

import (
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HealthSnapshot is the per-tick resource reading CycleScheduler logs
// alongside its cycle summary, grounded on the teacher's use of gopsutil
// for host statistics.
type HealthSnapshot struct {
	RSSBytes       uint64
	CPUPercent     float64
	SystemMemUsedPct float64
}

// Snapshot reads the current process's RSS/CPU plus overall system memory
// usage. Any read failure yields a zero-valued field rather than an error,
// since health logging should never interrupt the cycle loop.
func Snapshot() HealthSnapshot {
	var snap HealthSnapshot

	if proc, err := process.NewProcess(int32(currentPID())); err == nil {
		if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
			snap.RSSBytes = mi.RSS
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			snap.CPUPercent = cpu
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.SystemMemUsedPct = vm.UsedPercent
	}
	return snap
}
