package anomaly

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/identity.report/internal/aggregate"
	"github.com/banshee-data/identity.report/internal/ingest"
)

// DefaultZScoreThreshold is the absolute z-score above which a day counts
// as a temporal anomaly.
const DefaultZScoreThreshold = 2.5

// TemporalAnomaly is one flagged day in a family's daily series: its total
// deviated from the series mean by more than the threshold in standard
// deviations.
type TemporalAnomaly struct {
	Family ingest.Family `json:"family"`
	Date   time.Time     `json:"date"`
	Count  int64         `json:"count"`
	ZScore float64       `json:"z_score"`
}

// DetectTemporal scans each family's daily series for days whose totals are
// statistical outliers against that series' own history. Unlike the
// isolation forest, which compares pincodes against each other, this
// compares days against the timeline, so it catches bulk-upload spikes and
// outage troughs that every pincode shares.
//
// Z-scores use the population standard deviation over the full series. A
// series with fewer than three days, or with zero variance, yields no
// anomalies. Threshold <= 0 selects DefaultZScoreThreshold. Results are
// ordered by family (canonical order) then date.
func DetectTemporal(daily map[ingest.Family][]aggregate.DailyCount, threshold float64) []TemporalAnomaly {
	if threshold <= 0 {
		threshold = DefaultZScoreThreshold
	}

	var out []TemporalAnomaly
	for _, family := range ingest.Families {
		series := daily[family]
		if len(series) < 3 {
			continue
		}

		values := make([]float64, len(series))
		for i, d := range series {
			values[i] = float64(d.Count)
		}
		mean := stat.Mean(values, nil)
		std := stat.PopStdDev(values, nil)
		if std == 0 {
			continue
		}

		for i, d := range series {
			z := (values[i] - mean) / std
			if z < 0 {
				z = -z
			}
			if z > threshold {
				out = append(out, TemporalAnomaly{
					Family: family,
					Date:   d.Date,
					Count:  d.Count,
					ZScore: z,
				})
			}
		}
	}

	// Daily series arrive date-sorted per family; keep that order stable
	// within each family block regardless of input.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Family != out[j].Family {
			return familyRank(out[i].Family) < familyRank(out[j].Family)
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

func familyRank(f ingest.Family) int {
	for i, fam := range ingest.Families {
		if fam == f {
			return i
		}
	}
	return len(ingest.Families)
}
