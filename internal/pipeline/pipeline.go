// Package pipeline orchestrates the analytics rebuild: load the three
// record families, aggregate, verify invariants, and atomically publish a
// snapshot. It also exposes the read-side query interface consumed by the
// API layer.
//
// A refresh is all-or-nothing. Partial aggregates from a failed refresh are
// never published; readers keep the previous snapshot until a complete new
// one swaps in.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/identity.report/internal/aggregate"
	"github.com/banshee-data/identity.report/internal/anomaly"
	"github.com/banshee-data/identity.report/internal/cluster"
	"github.com/banshee-data/identity.report/internal/config"
	"github.com/banshee-data/identity.report/internal/forecast"
	"github.com/banshee-data/identity.report/internal/indices"
	"github.com/banshee-data/identity.report/internal/ingest"
	"github.com/banshee-data/identity.report/internal/monitoring"
	"github.com/banshee-data/identity.report/internal/regions"
)

var (
	// ErrNoSnapshot is returned by queries before the first successful refresh.
	ErrNoSnapshot = errors.New("no aggregate snapshot published yet")
	// ErrNotFound is returned for an unknown pincode.
	ErrNotFound = errors.New("pincode not found")
	// ErrUnknownMetric is returned for a forecast metric outside the three
	// record families.
	ErrUnknownMetric = errors.New("unknown forecast metric")
)

// Source subdirectory per family, matching the upstream export layout.
var familyDirs = map[ingest.Family]string{
	ingest.Biometric:   "api_data_aadhar_biometric",
	ingest.Demographic: "api_data_aadhar_demographic",
	ingest.Enrolment:   "api_data_aadhar_enrolment",
}

// Pipeline wires the loader, aggregator, models and snapshot store.
type Pipeline struct {
	loader *ingest.Loader
	store  *aggregate.Store
	cfg    *config.PipelineConfig
}

// New builds a Pipeline from configuration. The region table is injected
// here; tests substitute their own.
func New(cfg *config.PipelineConfig, table regions.Table) (*Pipeline, error) {
	normalizer, err := regions.NewNormalizer(table, cfg.GetFuzzyThreshold())
	if err != nil {
		return nil, fmt.Errorf("building region normalizer: %w", err)
	}
	return &Pipeline{
		loader: ingest.NewLoader(normalizer),
		store:  &aggregate.Store{},
		cfg:    cfg,
	}, nil
}

// RefreshSummary reports one refresh's outcome, including the data-quality
// reject counters per family and reason.
type RefreshSummary struct {
	ID        string                                `json:"id"`
	Duration  time.Duration                         `json:"duration"`
	Pincodes  int                                   `json:"pincodes"`
	Regions   int                                   `json:"regions"`
	RowCounts map[ingest.Family]int64               `json:"row_counts"`
	Rejects   map[ingest.Family]ingest.RejectCounts `json:"rejects"`
}

// Refresh rebuilds all aggregates from the source directory and publishes
// the result. The three families load and aggregate in parallel into
// partial builders merged by commutative summation, so the published totals
// are independent of scheduling.
func (p *Pipeline) Refresh(ctx context.Context, dataDir string) (*RefreshSummary, error) {
	start := time.Now()

	type familyResult struct {
		builder *aggregate.Builder
		rows    int64
		rejects ingest.RejectCounts
	}
	results := make(map[ingest.Family]*familyResult, len(ingest.Families))
	for _, family := range ingest.Families {
		results[family] = &familyResult{}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, family := range ingest.Families {
		g.Go(func() error {
			dir := filepath.Join(dataDir, familyDirs[family])
			records, rejects, err := p.loader.LoadFamily(gctx, dir, family)
			if err != nil {
				return fmt.Errorf("refresh stage load: %w", err)
			}
			b := aggregate.NewBuilder()
			b.AddAll(records)
			res := results[family]
			res.builder = b
			res.rows = int64(len(records))
			res.rejects = rejects
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := aggregate.NewBuilder()
	for _, family := range ingest.Families {
		merged.Merge(results[family].builder)
	}

	pincodes := merged.Pincodes()
	regionAggs := merged.Regions()
	if err := aggregate.VerifyReconciliation(pincodes, regionAggs); err != nil {
		// Invariant violation: a defect, not a data condition. Abort without
		// publishing so readers keep the previous good snapshot.
		return nil, fmt.Errorf("refresh stage reconcile: %w", err)
	}

	snap := &aggregate.Snapshot{
		ID:        uuid.NewString(),
		BuiltAt:   time.Now(),
		Pincodes:  pincodes,
		Regions:   regionAggs,
		Daily:     merged.Daily(),
		Monthly:   merged.Monthly(),
		Weekly:    merged.Weekly(),
		Weekdays:  merged.Weekdays(),
		RowCounts: make(map[ingest.Family]int64, len(results)),
		Rejects:   make(map[ingest.Family]ingest.RejectCounts, len(results)),
	}
	for family, res := range results {
		snap.RowCounts[family] = res.rows
		snap.Rejects[family] = res.rejects
	}

	p.store.Publish(snap)

	summary := &RefreshSummary{
		ID:        snap.ID,
		Duration:  time.Since(start),
		Pincodes:  len(pincodes),
		Regions:   len(regionAggs),
		RowCounts: snap.RowCounts,
		Rejects:   snap.Rejects,
	}
	monitoring.Logf("pipeline: refresh %s published %d pincodes, %d regions in %v",
		summary.ID, summary.Pincodes, summary.Regions, summary.Duration.Round(time.Millisecond))
	return summary, nil
}

// Snapshot returns the current published snapshot, or ErrNoSnapshot.
func (p *Pipeline) Snapshot() (*aggregate.Snapshot, error) {
	snap := p.store.Current()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	return snap, nil
}

// PincodeAggregate returns one pincode's indexed aggregate.
func (p *Pipeline) PincodeAggregate(code string) (indices.IndexedPincode, error) {
	snap, err := p.Snapshot()
	if err != nil {
		return indices.IndexedPincode{}, err
	}
	agg, ok := snap.PincodeByCode(code)
	if !ok {
		return indices.IndexedPincode{}, fmt.Errorf("pincode %q: %w", code, ErrNotFound)
	}
	// Update probability is population-relative, so index the full
	// population and pick the requested entry.
	indexed := indices.IndexPincodes(snap.Pincodes)
	for _, ip := range indexed {
		if ip.Pincode == agg.Pincode {
			return ip, nil
		}
	}
	return indices.IndexedPincode{}, fmt.Errorf("pincode %q: %w", code, ErrNotFound)
}

// RegionAggregates returns all regions' indexed aggregates, sorted by
// region name.
func (p *Pipeline) RegionAggregates() ([]indices.IndexedRegion, error) {
	snap, err := p.Snapshot()
	if err != nil {
		return nil, err
	}
	return indices.IndexRegions(snap.Regions), nil
}

// IndexedPincodes returns the full indexed pincode population.
func (p *Pipeline) IndexedPincodes() ([]indices.IndexedPincode, error) {
	snap, err := p.Snapshot()
	if err != nil {
		return nil, err
	}
	return indices.IndexPincodes(snap.Pincodes), nil
}

// Anomalies fits the anomaly model on the current population and returns
// the limit highest-scoring pincodes (all of them when limit <= 0).
func (p *Pipeline) Anomalies(limit int) ([]anomaly.Score, error) {
	snap, err := p.Snapshot()
	if err != nil {
		return nil, err
	}
	detector := anomaly.NewDetector(p.cfg.GetContamination(), p.cfg.GetAnomalySeed())
	detector.Trees = p.cfg.GetAnomalyTrees()
	detector.SampleSize = p.cfg.GetAnomalySampleSize()

	scores, err := detector.Detect(snap.Pincodes)
	if err != nil {
		return nil, fmt.Errorf("anomaly model: %w", err)
	}
	if limit > 0 && limit < len(scores) {
		scores = scores[:limit]
	}
	return scores, nil
}

// TemporalAnomalies scans the current snapshot's daily series for outlier
// days, per family.
func (p *Pipeline) TemporalAnomalies() ([]anomaly.TemporalAnomaly, error) {
	snap, err := p.Snapshot()
	if err != nil {
		return nil, err
	}
	return anomaly.DetectTemporal(snap.Daily, anomaly.DefaultZScoreThreshold), nil
}

// Clusters runs the cluster model on the current region population.
func (p *Pipeline) Clusters() (*cluster.Result, error) {
	snap, err := p.Snapshot()
	if err != nil {
		return nil, err
	}
	clusterer := cluster.NewClusterer(p.cfg.GetClusterCount(), p.cfg.GetClusterSeed())
	clusterer.MaxIter = p.cfg.GetClusterMaxIter()

	result, err := clusterer.Cluster(snap.Regions)
	if err != nil {
		return nil, fmt.Errorf("cluster model: %w", err)
	}
	return result, nil
}

// Forecast projects one family's daily totals horizon days forward.
func (p *Pipeline) Forecast(metric ingest.Family, horizonDays int) (*forecast.Series, error) {
	snap, err := p.Snapshot()
	if err != nil {
		return nil, err
	}
	history, ok := snap.Daily[metric]
	if !ok {
		if _, known := familyDirs[metric]; !known {
			return nil, fmt.Errorf("metric %q: %w", metric, ErrUnknownMetric)
		}
		history = nil
	}
	f := &forecast.Forecaster{
		Window:  p.cfg.GetForecastWindow(),
		Damping: p.cfg.GetForecastDamping(),
		BandPct: p.cfg.GetForecastBandPct(),
	}
	series, err := f.Forecast(history, horizonDays)
	if err != nil {
		return nil, fmt.Errorf("forecast model, metric %s: %w", metric, err)
	}
	return series, nil
}
