package cluster

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/identity.report/internal/aggregate"
)

// regionPopulation builds two clearly separated behavioural groups: calm
// regions with low update activity and stressed regions with heavy
// biometric churn.
func regionPopulation() []aggregate.RegionAggregate {
	var aggs []aggregate.RegionAggregate
	for i := 0; i < 6; i++ {
		aggs = append(aggs, aggregate.RegionAggregate{
			Region: fmt.Sprintf("Calm %d", i),
			Totals: aggregate.Totals{
				BioAge17Plus:   int64(10 + i),
				DemoAge17Plus:  int64(50 + i),
				EnrolAge18Plus: int64(500 + i),
			},
		})
	}
	for i := 0; i < 6; i++ {
		aggs = append(aggs, aggregate.RegionAggregate{
			Region: fmt.Sprintf("Stressed %d", i),
			Totals: aggregate.Totals{
				BioAge17Plus:   int64(5000 + 100*i),
				DemoAge17Plus:  int64(100 + i),
				EnrolAge18Plus: int64(10 + i),
			},
		})
	}
	return aggs
}

func TestClusterSeparatesBehaviouralGroups(t *testing.T) {
	c := NewClusterer(2, DefaultSeed)

	result, err := c.Cluster(regionPopulation())
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}
	if len(result.Assignments) != 12 {
		t.Fatalf("got %d assignments, want 12", len(result.Assignments))
	}

	byName := make(map[string]int)
	for _, a := range result.Assignments {
		byName[a.Region] = a.Cluster
	}
	// All calm regions share one cluster, all stressed regions the other.
	for i := 1; i < 6; i++ {
		if byName[fmt.Sprintf("Calm %d", i)] != byName["Calm 0"] {
			t.Errorf("calm regions split across clusters: %v", byName)
		}
		if byName[fmt.Sprintf("Stressed %d", i)] != byName["Stressed 0"] {
			t.Errorf("stressed regions split across clusters: %v", byName)
		}
	}
	if byName["Calm 0"] == byName["Stressed 0"] {
		t.Error("calm and stressed regions merged into one cluster")
	}

	// Ids are ordered by mean IVI: calm cluster must be id 0.
	if byName["Calm 0"] != 0 {
		t.Errorf("calm cluster id = %d, want 0", byName["Calm 0"])
	}
}

func TestClusterIsDeterministicUnderFixedSeed(t *testing.T) {
	aggs := regionPopulation()

	r1, err := NewClusterer(3, DefaultSeed).Cluster(aggs)
	if err != nil {
		t.Fatalf("first Cluster failed: %v", err)
	}
	r2, err := NewClusterer(3, DefaultSeed).Cluster(aggs)
	if err != nil {
		t.Fatalf("second Cluster failed: %v", err)
	}

	if diff := cmp.Diff(r1, r2); diff != "" {
		t.Errorf("repeated runs differ (-first +second):\n%s", diff)
	}
}

func TestClusterInputOrderDoesNotMatter(t *testing.T) {
	aggs := regionPopulation()
	reversed := make([]aggregate.RegionAggregate, len(aggs))
	for i, a := range aggs {
		reversed[len(aggs)-1-i] = a
	}

	r1, err := NewClusterer(2, DefaultSeed).Cluster(aggs)
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}
	r2, err := NewClusterer(2, DefaultSeed).Cluster(reversed)
	if err != nil {
		t.Fatalf("Cluster on reversed input failed: %v", err)
	}

	if diff := cmp.Diff(r1, r2); diff != "" {
		t.Errorf("results depend on input order (-forward +reversed):\n%s", diff)
	}
}

func TestClusterLabelsReflectContent(t *testing.T) {
	result, err := NewClusterer(2, DefaultSeed).Cluster(regionPopulation())
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}

	// The stressed cluster's mean IVI and BSI are both far above the
	// population medians.
	stressed := result.Profiles[1]
	if stressed.Label != "High Stress - High Volatility" {
		t.Errorf("stressed cluster label = %q", stressed.Label)
	}
	calm := result.Profiles[0]
	if calm.Label != "Stable" {
		t.Errorf("calm cluster label = %q", calm.Label)
	}
}

func TestClusterProfiles(t *testing.T) {
	result, err := NewClusterer(2, DefaultSeed).Cluster(regionPopulation())
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}
	if len(result.Profiles) != 2 {
		t.Fatalf("got %d profiles, want 2", len(result.Profiles))
	}

	var members int
	for _, p := range result.Profiles {
		members += len(p.Regions)
		if p.Label == "" {
			t.Errorf("cluster %d has empty label", p.Cluster)
		}
	}
	if members != 12 {
		t.Errorf("profiles cover %d regions, want 12", members)
	}
}

func TestClusterProjectionIsPopulated(t *testing.T) {
	result, err := NewClusterer(2, DefaultSeed).Cluster(regionPopulation())
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}

	// The two groups are genuinely separated, so the first principal
	// component cannot be identically zero for every region.
	var nonZero bool
	for _, a := range result.Assignments {
		if a.X != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		t.Error("all projection X coordinates are zero")
	}
}

func TestClusterInsufficientData(t *testing.T) {
	aggs := regionPopulation()[:3]

	_, err := NewClusterer(4, DefaultSeed).Cluster(aggs)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("error = %v, want ErrInsufficientData", err)
	}
}

func TestClusterRejectsBadK(t *testing.T) {
	if _, err := NewClusterer(1, DefaultSeed).Cluster(regionPopulation()); err == nil {
		t.Error("expected error for K < 2")
	}
}
