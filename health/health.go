// Package health builds the supplemental system/capacity payload used by
// both the config refresh cycle (§4.5) and, on its own lighter schedule,
// the serve daemon's health tick (§4.6). Grounded in the teacher's
// system.GetSystemInformation and its osrelease-based release detection.
package health

import (
	"fmt"

	"github.com/acobaugh/osrelease"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Report is the point-in-time system health snapshot this agent is
// willing to share with the coordinator. No field here is required by the
// API contract.
type Report struct {
	OSRelease   string  `json:"os_release"`
	KernelVer   string  `json:"kernel_version"`
	CPUThreads  int     `json:"cpu_threads"`
	TotalMemMiB float64 `json:"total_mem_mib"`
	UsedMemPct  float64 `json:"used_mem_pct"`
}

// Collect gathers a Report. Failures collecting any individual field leave
// it zero-valued rather than aborting the whole report - this payload is
// advisory, never required.
func Collect() Report {
	var r Report

	if release, err := osrelease.Read(); err == nil {
		r.OSRelease = fmt.Sprintf("%s %s", release["NAME"], release["VERSION_ID"])
	}
	if info, err := host.Info(); err == nil {
		r.KernelVer = info.KernelVersion
	}
	if counts, err := cpu.Counts(true); err == nil {
		r.CPUThreads = counts
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		r.TotalMemMiB = float64(vm.Total) / (1024 * 1024)
		r.UsedMemPct = vm.UsedPercent
	}

	return r
}
