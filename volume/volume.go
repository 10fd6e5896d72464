// Package volume computes per-volume capacity figures used by placement
// (§4.4) and config refresh (§4.5): total/available space in MiB and a
// device identifier used to deduplicate volumes that share an underlying
// block device.
package volume

// Usage is the runtime capacity view of one configured volume.
type Usage struct {
	Name          string
	Path          string
	DeviceID      uint64
	TotalMiB      float64
	AvailableMiB  float64
	AcceptNew     bool
	HighWaterPct  float64
}

// UsedPct returns the percentage of the volume currently in use.
func (u Usage) UsedPct() float64 {
	if u.TotalMiB <= 0 {
		return 100
	}
	return (1 - u.AvailableMiB/u.TotalMiB) * 100
}

// EligibleForPlacement reports whether this volume can accept a new
// machine right now: accept_new must be true and usage must not exceed
// HighWaterPct.
func (u Usage) EligibleForPlacement() bool {
	return u.AcceptNew && u.UsedPct() <= u.HighWaterPct
}

const mib = 1024 * 1024
