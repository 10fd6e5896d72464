package placement

import (
	"math/rand"
	"testing"
)

func TestChooseDeterministicSingleCandidate(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	got, err := Choose([]Candidate{{Name: "A", Available: 50}}, rng)
	if err != nil {
		t.Fatal(err)
	}
	if got != "A" {
		t.Fatalf("got %s want A", got)
	}
}

func TestChooseScenarioS3HighWaterExclusion(t *testing.T) {
	// B is excluded by the caller (used_pct 95 > high_water 80) before
	// Choose ever sees it; only A remains.
	rng := rand.New(rand.NewSource(1))
	got, err := Choose([]Candidate{{Name: "A", Available: 50}}, rng)
	if err != nil {
		t.Fatal(err)
	}
	if got != "A" {
		t.Fatalf("got %s want A deterministically", got)
	}
}

func TestChooseNoCandidates(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := Choose(nil, rng); err == nil {
		t.Fatal("expected ErrNoSuitableVolume")
	}
}

func TestChooseWeightedFrequency(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	candidates := []Candidate{
		{Name: "A", Available: 75},
		{Name: "B", Available: 25},
	}
	counts := map[string]int{}
	const trials = 20000
	for i := 0; i < trials; i++ {
		got, err := Choose(candidates, rng)
		if err != nil {
			t.Fatal(err)
		}
		counts[got]++
	}

	freqA := float64(counts["A"]) / trials
	if freqA < 0.70 || freqA > 0.80 {
		t.Fatalf("expected ~0.75 frequency for A, got %f (counts=%v)", freqA, counts)
	}
}

func TestChooseZeroAvailabilityFallsBackUniform(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	candidates := []Candidate{
		{Name: "A", Available: 0},
		{Name: "B", Available: 0},
	}
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		got, err := Choose(candidates, rng)
		if err != nil {
			t.Fatal(err)
		}
		seen[got] = true
	}
	if len(seen) != 2 {
		t.Fatalf("expected both volumes to be reachable with zero weights, saw %v", seen)
	}
}
