// Package cluster groups regions into a small number of behavioural
// segments from their aggregated index vectors, and produces a 2-D
// principal-component projection for visualisation.
//
// Partitioning is k-means over standardized features with seeded centroid
// initialisation; output is deterministic for a fixed seed. The projection
// is fit on the same features but is presentation-only and never feeds back
// into assignment.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/identity.report/internal/aggregate"
	"github.com/banshee-data/identity.report/internal/indices"
)

// ErrInsufficientData is returned when there are fewer regions than
// requested clusters.
var ErrInsufficientData = errors.New("not enough regions to cluster")

// Model defaults, matching the documented pipeline configuration.
const (
	DefaultK       = 4
	DefaultMaxIter = 100
	DefaultSeed    = 42
)

// featureDim is the feature vector width: IVI, BSI, youth ratio, total
// updates.
const featureDim = 4

// Clusterer configures one clustering run.
type Clusterer struct {
	K       int
	MaxIter int
	Seed    int64
}

// NewClusterer returns a Clusterer with the given cluster count and seed
// and the default iteration cap.
func NewClusterer(k int, seed int64) *Clusterer {
	return &Clusterer{K: k, MaxIter: DefaultMaxIter, Seed: seed}
}

// Assignment is one region's cluster membership and projection coordinate.
type Assignment struct {
	Region  string  `json:"region"`
	Cluster int     `json:"cluster"`
	Label   string  `json:"label"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// Profile summarises one cluster's content for labelling and display.
type Profile struct {
	Cluster      int      `json:"cluster"`
	Label        string   `json:"label"`
	Regions      []string `json:"regions"`
	MeanIVI      float64  `json:"mean_ivi"`
	MeanBSI      float64  `json:"mean_bsi"`
	TotalUpdates int64    `json:"total_updates"`
}

// Result is a complete clustering of the region population.
type Result struct {
	Assignments []Assignment `json:"assignments"`
	Profiles    []Profile    `json:"profiles"`
}

// Cluster partitions the regions into K behavioural segments.
//
// Cluster ids are relabelled by ascending mean IVI (ties by mean BSI), so
// id 0 is always the calmest segment regardless of initialisation order.
func (c *Clusterer) Cluster(regionAggs []aggregate.RegionAggregate) (*Result, error) {
	if c.K < 2 {
		return nil, fmt.Errorf("cluster count must be at least 2, got %d", c.K)
	}
	if len(regionAggs) < c.K {
		return nil, fmt.Errorf("%w: have %d regions, need at least %d", ErrInsufficientData, len(regionAggs), c.K)
	}

	// Deterministic input order regardless of caller.
	aggs := make([]aggregate.RegionAggregate, len(regionAggs))
	copy(aggs, regionAggs)
	sort.Slice(aggs, func(i, j int) bool { return aggs[i].Region < aggs[j].Region })

	idx := make([]indices.Indexed, len(aggs))
	features := make([][]float64, len(aggs))
	for i, a := range aggs {
		idx[i] = indices.Compute(a.Totals)
		features[i] = []float64{
			idx[i].IVI,
			idx[i].BSI,
			idx[i].YouthRatio,
			float64(a.TotalUpdates()),
		}
	}
	standardize(features)

	assignment := c.kmeans(features)
	assignment = relabelByMeanIVI(assignment, idx, c.K)

	coords := project2D(features)

	labels := clusterLabels(assignment, idx, c.K)

	result := &Result{
		Assignments: make([]Assignment, len(aggs)),
		Profiles:    make([]Profile, c.K),
	}
	for i, a := range aggs {
		cl := assignment[i]
		result.Assignments[i] = Assignment{
			Region:  a.Region,
			Cluster: cl,
			Label:   labels[cl],
			X:       coords[i][0],
			Y:       coords[i][1],
		}
	}
	for cl := 0; cl < c.K; cl++ {
		p := Profile{Cluster: cl, Label: labels[cl]}
		var sumIVI, sumBSI float64
		for i, a := range aggs {
			if assignment[i] != cl {
				continue
			}
			p.Regions = append(p.Regions, a.Region)
			p.TotalUpdates += a.TotalUpdates()
			sumIVI += idx[i].IVI
			sumBSI += idx[i].BSI
		}
		if n := len(p.Regions); n > 0 {
			p.MeanIVI = sumIVI / float64(n)
			p.MeanBSI = sumBSI / float64(n)
		}
		result.Profiles[cl] = p
	}
	return result, nil
}

// kmeans runs seeded k-means++ initialisation followed by Lloyd iterations
// until assignments stabilise or MaxIter is reached.
func (c *Clusterer) kmeans(rows [][]float64) []int {
	rng := rand.New(rand.NewSource(c.Seed))
	centroids := c.seedCentroids(rows, rng)

	assignment := make([]int, len(rows))
	maxIter := c.MaxIter
	if maxIter <= 0 {
		maxIter = DefaultMaxIter
	}
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, row := range rows {
			best := nearestCentroid(row, centroids)
			if best != assignment[i] {
				assignment[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		// Recompute centroids; an emptied cluster keeps its old centroid.
		counts := make([]int, c.K)
		next := make([][]float64, c.K)
		for k := range next {
			next[k] = make([]float64, featureDim)
		}
		for i, row := range rows {
			k := assignment[i]
			counts[k]++
			for j, v := range row {
				next[k][j] += v
			}
		}
		for k := range next {
			if counts[k] == 0 {
				copy(next[k], centroids[k])
				continue
			}
			for j := range next[k] {
				next[k][j] /= float64(counts[k])
			}
		}
		centroids = next
	}
	return assignment
}

// seedCentroids is k-means++: the first centroid is a uniform pick, each
// further centroid is drawn with probability proportional to squared
// distance from the nearest chosen centroid.
func (c *Clusterer) seedCentroids(rows [][]float64, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, c.K)
	centroids = append(centroids, rows[rng.Intn(len(rows))])

	dist := make([]float64, len(rows))
	for len(centroids) < c.K {
		var total float64
		for i, row := range rows {
			d := math.Inf(1)
			for _, cen := range centroids {
				if v := sqDist(row, cen); v < d {
					d = v
				}
			}
			dist[i] = d
			total += d
		}
		if total == 0 {
			// All remaining points coincide with a centroid; any pick works.
			centroids = append(centroids, rows[rng.Intn(len(rows))])
			continue
		}
		target := rng.Float64() * total
		picked := len(rows) - 1
		var cum float64
		for i, d := range dist {
			cum += d
			if cum >= target {
				picked = i
				break
			}
		}
		centroids = append(centroids, rows[picked])
	}

	// Copy so centroid updates never alias feature rows.
	out := make([][]float64, len(centroids))
	for i, cen := range centroids {
		out[i] = append([]float64(nil), cen...)
	}
	return out
}

func nearestCentroid(row []float64, centroids [][]float64) int {
	best := 0
	bestDist := math.Inf(1)
	for k, cen := range centroids {
		if d := sqDist(row, cen); d < bestDist {
			bestDist = d
			best = k
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// relabelByMeanIVI renumbers cluster ids so they are ordered by ascending
// mean IVI (ties by mean BSI), independent of initialisation order.
func relabelByMeanIVI(assignment []int, idx []indices.Indexed, k int) []int {
	type clusterMean struct {
		id       int
		ivi, bsi float64
		n        int
	}
	means := make([]clusterMean, k)
	for i := range means {
		means[i].id = i
	}
	for i, cl := range assignment {
		means[cl].ivi += idx[i].IVI
		means[cl].bsi += idx[i].BSI
		means[cl].n++
	}
	for i := range means {
		if means[i].n > 0 {
			means[i].ivi /= float64(means[i].n)
			means[i].bsi /= float64(means[i].n)
		}
	}
	sort.Slice(means, func(i, j int) bool {
		if means[i].ivi != means[j].ivi {
			return means[i].ivi < means[j].ivi
		}
		return means[i].bsi < means[j].bsi
	})
	remap := make([]int, k)
	for newID, m := range means {
		remap[m.id] = newID
	}
	out := make([]int, len(assignment))
	for i, cl := range assignment {
		out[i] = remap[cl]
	}
	return out
}

// clusterLabels derives a human-meaningful label per cluster from its mean
// IVI/BSI relative to the population medians. Pure function of cluster
// statistics; no id-to-label table to drift.
func clusterLabels(assignment []int, idx []indices.Indexed, k int) []string {
	ivis := make([]float64, len(idx))
	bsis := make([]float64, len(idx))
	for i, v := range idx {
		ivis[i] = v.IVI
		bsis[i] = v.BSI
	}
	sort.Float64s(ivis)
	sort.Float64s(bsis)
	medianIVI := stat.Quantile(0.5, stat.Empirical, ivis, nil)
	medianBSI := stat.Quantile(0.5, stat.Empirical, bsis, nil)

	sumIVI := make([]float64, k)
	sumBSI := make([]float64, k)
	counts := make([]int, k)
	for i, cl := range assignment {
		sumIVI[cl] += idx[i].IVI
		sumBSI[cl] += idx[i].BSI
		counts[cl]++
	}

	labels := make([]string, k)
	for cl := 0; cl < k; cl++ {
		if counts[cl] == 0 {
			labels[cl] = "Empty"
			continue
		}
		meanIVI := sumIVI[cl] / float64(counts[cl])
		meanBSI := sumBSI[cl] / float64(counts[cl])
		switch {
		case meanIVI > medianIVI && meanBSI > medianBSI:
			labels[cl] = "High Stress - High Volatility"
		case meanIVI > medianIVI:
			labels[cl] = "High Volatility"
		case meanBSI > medianBSI:
			labels[cl] = "High Biometric Stress"
		default:
			labels[cl] = "Stable"
		}
	}
	return labels
}

// project2D fits a principal-component decomposition on the standardized
// features and returns each row's coordinates along the first two
// components. Visualisation only.
func project2D(rows [][]float64) [][2]float64 {
	n := len(rows)
	out := make([][2]float64, n)
	if n < 2 {
		return out
	}

	data := mat.NewDense(n, featureDim, nil)
	for i, row := range rows {
		data.SetRow(i, row)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(data, nil); !ok {
		return out
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	var proj mat.Dense
	proj.Mul(data, vecs.Slice(0, featureDim, 0, 2))
	for i := 0; i < n; i++ {
		out[i] = [2]float64{proj.At(i, 0), proj.At(i, 1)}
	}
	return out
}

// standardize z-scores each column in place; constant columns become zero.
func standardize(rows [][]float64) {
	if len(rows) == 0 {
		return
	}
	col := make([]float64, len(rows))
	for j := 0; j < featureDim; j++ {
		for i, row := range rows {
			col[i] = row[j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		for i := range rows {
			if std > 0 {
				rows[i][j] = (rows[i][j] - mean) / std
			} else {
				rows[i][j] = 0
			}
		}
	}
}
