package worker

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	SlotsActive   int     `json:"slots_active"`    // Slots currently executing bodies
	SlotsTotal    int     `json:"slots_total"`     // Total configured slots
	QueueDepth    int     `json:"queue_depth"`     // Submissions waiting for a slot
	MemoryUsedGB  float64 `json:"memory_used_gb"`  // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb"` // Total system memory in GB
	MemoryPercent float64 `json:"memory_percent"`  // Memory utilization percentage
}

// calculateSafeSlotCount recommends slot count based on available memory.
// Assumes each concurrent analysis invocation needs ~2GB of headroom.
func calculateSafeSlotCount(availableGB float64) int {
	const memoryPerSlot = 2.0 // GB per concurrent analysis invocation
	const memoryBuffer = 2.0  // GB reserved for the rest of the process

	if availableGB < memoryBuffer {
		return 1 // Always allow at least 1 slot
	}

	recommended := int((availableGB - memoryBuffer) / memoryPerSlot)
	if recommended < 1 {
		return 1
	}
	if recommended > 10 {
		return 10
	}
	return recommended
}

// Metrics returns current pool and system resource usage
func (p *Pool) Metrics() SystemMetrics {
	var memUsedGB, memTotalGB, memPercent float64
	if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
		memTotalGB = float64(vm.Total) / 1024 / 1024 / 1024
		memUsedGB = float64(vm.Used) / 1024 / 1024 / 1024
		memPercent = vm.UsedPercent
	}

	p.mu.Lock()
	active := p.active
	p.mu.Unlock()

	return SystemMetrics{
		SlotsActive:   active,
		SlotsTotal:    p.cfg.Slots,
		QueueDepth:    len(p.queue),
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
	}
}

// checkMemoryPressure validates slot count against available memory.
// Returns a warning message if the slot count may be too high.
func (p *Pool) checkMemoryPressure() string {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return "" // Can't check, assume OK
	}

	availableGB := float64(vm.Available) / 1024 / 1024 / 1024
	totalGB := float64(vm.Total) / 1024 / 1024 / 1024
	recommended := calculateSafeSlotCount(availableGB)

	if p.cfg.Slots > recommended {
		return fmt.Sprintf(
			"Slot count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider reducing slots to prevent memory pressure.",
			p.cfg.Slots, recommended, totalGB-availableGB, totalGB)
	}

	return ""
}
