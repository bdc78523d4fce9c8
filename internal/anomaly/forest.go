// Package anomaly flags pincodes whose aggregated behaviour is statistically
// unusual relative to the whole pincode population.
//
// The model is an isolation forest: an ensemble of random partitioning trees
// where points isolated in few splits score as anomalous. The forest is
// rebuilt from scratch on every call, holds no state across refreshes, and
// is fully deterministic for a fixed seed.
package anomaly

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/identity.report/internal/aggregate"
	"github.com/banshee-data/identity.report/internal/indices"
)

// ErrInsufficientData is returned when the population is too small to score.
var ErrInsufficientData = errors.New("not enough pincodes to fit anomaly model")

// Model defaults, matching the documented pipeline configuration.
const (
	DefaultContamination = 0.05
	DefaultTrees         = 100
	DefaultSampleSize    = 256
	DefaultSeed          = 42
)

// featureDim is the feature vector width: bio total, demo total, enrol
// total, IVI, BSI.
const featureDim = 5

// Detector configures one isolation forest fit.
type Detector struct {
	Contamination float64 // expected anomaly fraction, used for the flag threshold
	Trees         int
	SampleSize    int // per-tree subsample; capped at the population size
	Seed          int64
}

// NewDetector returns a Detector with the given contamination and seed and
// default ensemble parameters.
func NewDetector(contamination float64, seed int64) *Detector {
	return &Detector{
		Contamination: contamination,
		Trees:         DefaultTrees,
		SampleSize:    DefaultSampleSize,
		Seed:          seed,
	}
}

// Score is one pincode's anomaly result. Higher scores are more anomalous.
type Score struct {
	Pincode string  `json:"pincode"`
	Region  string  `json:"region"`
	Score   float64 `json:"score"`
	Anomaly bool    `json:"anomaly"`
}

// Detect fits a fresh forest over the pincode population and scores every
// pincode. Results are sorted by descending score, ties broken by pincode
// ascending, so "top N anomalies" is reproducible.
func (d *Detector) Detect(aggs []aggregate.PincodeAggregate) ([]Score, error) {
	if len(aggs) < 2 {
		return nil, fmt.Errorf("%w: have %d, need at least 2", ErrInsufficientData, len(aggs))
	}
	if d.Contamination <= 0 || d.Contamination >= 0.5 {
		return nil, fmt.Errorf("contamination must be in (0, 0.5), got %v", d.Contamination)
	}

	features := featureMatrix(aggs)
	standardize(features)

	n := len(features)
	sample := d.SampleSize
	if sample > n {
		sample = n
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sample)))) + 1

	rng := rand.New(rand.NewSource(d.Seed))
	scores := make([]float64, n)
	for t := 0; t < d.Trees; t++ {
		idx := rng.Perm(n)[:sample]
		tree := buildTree(features, idx, 0, maxDepth, rng)
		for i, row := range features {
			scores[i] += pathLength(tree, row, 0)
		}
	}

	norm := avgPathLength(float64(sample))
	for i := range scores {
		mean := scores[i] / float64(d.Trees)
		scores[i] = math.Pow(2, -mean/norm)
	}

	threshold := flagThreshold(scores, d.Contamination)

	out := make([]Score, n)
	for i, a := range aggs {
		out[i] = Score{
			Pincode: a.Pincode,
			Region:  a.Region,
			Score:   scores[i],
			Anomaly: scores[i] >= threshold,
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Pincode < out[j].Pincode
	})
	return out, nil
}

// featureMatrix extracts the 5-dimensional feature vector per pincode.
func featureMatrix(aggs []aggregate.PincodeAggregate) [][]float64 {
	out := make([][]float64, len(aggs))
	for i, a := range aggs {
		out[i] = []float64{
			float64(a.BioUpdates()),
			float64(a.DemoUpdates()),
			float64(a.Enrolments()),
			indices.IVI(a.Totals),
			indices.BSI(a.Totals),
		}
	}
	return out
}

// standardize z-scores each column in place. A constant column (zero
// standard deviation) is left at zero rather than dividing by zero.
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

// treeNode is one node of an isolation tree. Leaves have splitFeature -1 and
// carry the number of points that landed there.
type treeNode struct {
	splitFeature int
	splitValue   float64
	left, right  *treeNode
	size         int
}

// buildTree grows an isolation tree over the rows named by idx, splitting on
// a random feature at a random threshold until points are isolated, a depth
// cap is reached, or the node is constant.
func buildTree(rows [][]float64, idx []int, depth, maxDepth int, rng *rand.Rand) *treeNode {
	if len(idx) <= 1 || depth >= maxDepth {
		return &treeNode{splitFeature: -1, size: len(idx)}
	}

	// Pick among features that still vary within this node.
	var splitable []int
	for j := 0; j < featureDim; j++ {
		lo, hi := nodeRange(rows, idx, j)
		if hi > lo {
			splitable = append(splitable, j)
		}
	}
	if len(splitable) == 0 {
		return &treeNode{splitFeature: -1, size: len(idx)}
	}

	feature := splitable[rng.Intn(len(splitable))]
	lo, hi := nodeRange(rows, idx, feature)
	split := lo + rng.Float64()*(hi-lo)

	var left, right []int
	for _, i := range idx {
		if rows[i][feature] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &treeNode{splitFeature: -1, size: len(idx)}
	}

	return &treeNode{
		splitFeature: feature,
		splitValue:   split,
		left:         buildTree(rows, left, depth+1, maxDepth, rng),
		right:        buildTree(rows, right, depth+1, maxDepth, rng),
	}
}

// pathLength walks a point down a tree; leaves holding multiple points add
// the expected further depth avgPathLength(size).
func pathLength(node *treeNode, row []float64, depth int) float64 {
	if node.splitFeature < 0 {
		return float64(depth) + avgPathLength(float64(node.size))
	}
	if row[node.splitFeature] < node.splitValue {
		return pathLength(node.left, row, depth+1)
	}
	return pathLength(node.right, row, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search over n points; the isolation forest normalising constant.
func avgPathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	const eulerGamma = 0.5772156649
	h := math.Log(n-1) + eulerGamma
	return 2*h - 2*(n-1)/n
}

// nodeRange returns the min and max of one feature over the node's points.
func nodeRange(rows [][]float64, idx []int, feature int) (lo, hi float64) {
	lo, hi = rows[idx[0]][feature], rows[idx[0]][feature]
	for _, i := range idx[1:] {
		v := rows[i][feature]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// flagThreshold returns the score above which a point counts as anomalous:
// the empirical (1 - contamination) quantile of the population's scores.
func flagThreshold(scores []float64, contamination float64) float64 {
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)
	return stat.Quantile(1-contamination, stat.Empirical, sorted, nil)
}
