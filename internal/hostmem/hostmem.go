// Package hostmem samples host and daemon memory so reclamation can be
// verified from logs and status output.
package hostmem

import (
	"context"
	"os"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Sample is a point-in-time memory reading. Zero fields mean the probe failed.
type Sample struct {
	TotalBytes     uint64  `json:"total_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
	ProcessRSS     uint64  `json:"process_rss"`
}

// Probe reads a memory sample.
type Probe func(ctx context.Context) Sample

// Read samples virtual memory and this process's resident set size.
func Read(ctx context.Context) Sample {
	var out Sample
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		out.TotalBytes = vm.Total
		out.AvailableBytes = vm.Available
		out.UsedPercent = vm.UsedPercent
	}
	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if pm, err := p.MemoryInfoWithContext(ctx); err == nil && pm != nil {
			out.ProcessRSS = pm.RSS
		}
	}
	return out
}
