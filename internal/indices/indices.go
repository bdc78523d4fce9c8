// Package indices computes the derived decision-support ratios from
// aggregate totals: the Identity Velocity Index (IVI), the Biometric Stress
// Index (BSI), youth-update ratio, stability score, update-probability risk
// score and the discrete risk tier.
//
// This package is the single source of truth for every threshold. Nothing
// else in the repository may restate a tier boundary; callers needing a tier
// call TierFor.
package indices

import (
	"math"
	"sort"

	"github.com/banshee-data/identity.report/internal/aggregate"
)

// Tier is the discrete risk classification of an aggregate.
type Tier string

const (
	TierCritical Tier = "Critical"
	TierHigh     Tier = "High"
	TierStable   Tier = "Stable"
)

// Tier thresholds. The classification is priority-ordered and mutually
// exclusive: Critical is tested first, then High, and everything else is
// Stable, so every (IVI, BSI) pair lands in exactly one tier.
const (
	criticalIVI = 1000.0
	criticalBSI = 3.0
	highIVI     = 500.0
	highBSI     = 1.5
)

// Indexed carries the derived quantities for one aggregate. Values are pure
// functions of the totals they derive from, recomputed on read and never
// stored apart from their source.
type Indexed struct {
	IVI            float64 `json:"ivi"`
	BSI            float64 `json:"bsi"`
	YouthRatio     float64 `json:"youth_ratio"`
	StabilityScore float64 `json:"stability_score"`
	Tier           Tier    `json:"tier"`
}

// Compute derives all indexed quantities from a set of totals.
func Compute(t aggregate.Totals) Indexed {
	ivi := IVI(t)
	bsi := BSI(t)
	return Indexed{
		IVI:            ivi,
		BSI:            bsi,
		YouthRatio:     YouthRatio(t),
		StabilityScore: StabilityScore(ivi, bsi),
		Tier:           TierFor(ivi, bsi),
	}
}

// IVI is the Identity Velocity Index: updates relative to enrolments,
// scaled by 100. The +1 in the denominator is a zero-division guard, not a
// statistical correction; it distorts the index for near-zero-enrolment
// pincodes, where a handful of updates can still read as a very high IVI.
func IVI(t aggregate.Totals) float64 {
	return float64(t.TotalUpdates()) / float64(t.Enrolments()+1) * 100
}

// BSI is the Biometric Stress Index: biometric relative to demographic
// updates. Same +1 guard as IVI.
func BSI(t aggregate.Totals) float64 {
	return float64(t.BioUpdates()) / float64(t.DemoUpdates()+1)
}

// YouthRatio is the 5-17 bracket's share of all updates, 0 when there are no
// updates at all.
func YouthRatio(t aggregate.Totals) float64 {
	total := t.TotalUpdates()
	if total == 0 {
		return 0
	}
	return float64(t.YouthUpdates()) / float64(total)
}

// StabilityScore is a bounded 0-100 composite where higher means calmer:
// score = 100 - min(100, IVI/20 + 10*BSI). The weighting puts the High tier
// boundary (IVI 500 or BSI 1.5) around mid-scale and pins every Critical
// aggregate at or near zero. It is a fixed-scale score: one pincode's score
// never moves because an unrelated pincode changed.
func StabilityScore(ivi, bsi float64) float64 {
	penalty := ivi/20 + 10*bsi
	if penalty > 100 {
		penalty = 100
	}
	if penalty < 0 {
		penalty = 0
	}
	return 100 - penalty
}

// TierFor classifies an (IVI, BSI) pair. Priority order: Critical, High,
// Stable.
func TierFor(ivi, bsi float64) Tier {
	switch {
	case ivi >= criticalIVI || bsi >= criticalBSI:
		return TierCritical
	case ivi >= highIVI || bsi >= highBSI:
		return TierHigh
	default:
		return TierStable
	}
}

// IndexedPincode is a pincode aggregate with its derived indices and
// population-relative update probability.
type IndexedPincode struct {
	aggregate.PincodeAggregate
	Indexed
	UpdateProbability float64 `json:"update_probability"`
}

// IndexedRegion is a region aggregate with its derived indices.
type IndexedRegion struct {
	aggregate.RegionAggregate
	Indexed
}

// IndexPincodes computes indices for a whole pincode population, including
// the update-probability score, which is population-relative: IVI and BSI
// are min-max normalised across all pincodes and combined 0.4/0.4/0.2 with
// the youth ratio. Output order follows the input.
func IndexPincodes(aggs []aggregate.PincodeAggregate) []IndexedPincode {
	out := make([]IndexedPincode, len(aggs))
	iviMin, iviMax := math.Inf(1), math.Inf(-1)
	bsiMin, bsiMax := math.Inf(1), math.Inf(-1)
	for i, a := range aggs {
		out[i] = IndexedPincode{PincodeAggregate: a, Indexed: Compute(a.Totals)}
		iviMin = math.Min(iviMin, out[i].IVI)
		iviMax = math.Max(iviMax, out[i].IVI)
		bsiMin = math.Min(bsiMin, out[i].BSI)
		bsiMax = math.Max(bsiMax, out[i].BSI)
	}
	for i := range out {
		iviNorm := minMax(out[i].IVI, iviMin, iviMax)
		bsiNorm := minMax(out[i].BSI, bsiMin, bsiMax)
		out[i].UpdateProbability = 0.4*iviNorm + 0.4*bsiNorm + 0.2*out[i].YouthRatio
	}
	return out
}

// IndexRegions computes indices for region aggregates. Output order follows
// the input.
func IndexRegions(aggs []aggregate.RegionAggregate) []IndexedRegion {
	out := make([]IndexedRegion, len(aggs))
	for i, a := range aggs {
		out[i] = IndexedRegion{RegionAggregate: a, Indexed: Compute(a.Totals)}
	}
	return out
}

// TopByUpdateProbability returns the n highest-probability pincodes, ties
// broken by pincode ascending for reproducible output.
func TopByUpdateProbability(indexed []IndexedPincode, n int) []IndexedPincode {
	out := make([]IndexedPincode, len(indexed))
	copy(out, indexed)
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdateProbability != out[j].UpdateProbability {
			return out[i].UpdateProbability > out[j].UpdateProbability
		}
		return out[i].Pincode < out[j].Pincode
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// minMax normalises v into [0, 1] over the observed range. A degenerate
// range (all values equal) maps to 0.
func minMax(v, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	return (v - lo) / (hi - lo)
}
