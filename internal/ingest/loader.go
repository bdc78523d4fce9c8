package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/identity.report/internal/monitoring"
	"github.com/banshee-data/identity.report/internal/regions"
)

// DateFormat is the single expected textual date layout in source files
// (day-month-year, e.g. "31-01-2025").
const DateFormat = "02-01-2006"

// Column names shared by all families.
const (
	colDate     = "date"
	colState    = "state"
	colDistrict = "district"
	colPincode  = "pincode"
)

// Per-family count columns, matching the upstream export headers.
var familyCountColumns = map[Family][]string{
	Biometric:   {"bio_age_5_17", "bio_age_17_"},
	Demographic: {"demo_age_5_17", "demo_age_17_"},
	Enrolment:   {"age_0_5", "age_5_17", "age_18_greater"},
}

// Loader reads and normalises source CSV files.
type Loader struct {
	normalizer *regions.Normalizer
}

// NewLoader returns a Loader that resolves region labels through n.
func NewLoader(n *regions.Normalizer) *Loader {
	return &Loader{normalizer: n}
}

// LoadFamily reads every *.csv file under dir as rows of the given family
// and returns the surviving normalised records plus reject counters.
//
// Files are parsed concurrently but results are concatenated in sorted
// file-name order, so the logical sequence is stable. Bad rows are counted
// and skipped; the only fatal conditions are an unreadable directory, no
// CSV files, or zero surviving rows across all files.
func (l *Loader) LoadFamily(ctx context.Context, dir string, family Family) ([]Record, RejectCounts, error) {
	countCols, ok := familyCountColumns[family]
	if !ok {
		return nil, RejectCounts{}, fmt.Errorf("unknown record family %q", family)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, RejectCounts{}, fmt.Errorf("family %s: listing %s: %w: %v", family, dir, ErrSourceUnavailable, err)
	}
	if len(paths) == 0 {
		return nil, RejectCounts{}, fmt.Errorf("family %s: no CSV files in %s: %w", family, dir, ErrSourceUnavailable)
	}
	sort.Strings(paths)

	type partial struct {
		records []Record
		rejects RejectCounts
	}
	parts := make([]partial, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			records, rejects, err := l.loadFile(path, family, countCols)
			if err != nil {
				return fmt.Errorf("family %s: file %s: %w", family, filepath.Base(path), err)
			}
			parts[i] = partial{records: records, rejects: rejects}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, RejectCounts{}, err
	}

	var all []Record
	var rejects RejectCounts
	for _, p := range parts {
		all = append(all, p.records...)
		rejects.Add(p.rejects)
	}

	if len(all) == 0 {
		return nil, rejects, fmt.Errorf("family %s: zero parseable rows across %d files in %s: %w",
			family, len(paths), dir, ErrSourceUnavailable)
	}

	if n := rejects.Total(); n > 0 {
		monitoring.Logf("ingest: family %s dropped %d rows (bad_date=%d bad_count=%d invalid_region=%d unresolved_region=%d)",
			family, n, rejects.BadDate, rejects.BadCount, rejects.InvalidRegion, rejects.UnresolvedRegion)
	}
	return all, rejects, nil
}

// loadFile parses one CSV file. The header row is mapped by name so column
// order in the export does not matter; missing count cells read as zero.
func (l *Loader) loadFile(path string, family Family, countCols []string) ([]Record, RejectCounts, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, RejectCounts{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1 // ragged rows handled per-field below

	header, err := r.Read()
	if err != nil {
		return nil, RejectCounts{}, fmt.Errorf("reading header: %w: %v", ErrSourceUnavailable, err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range []string{colDate, colState, colDistrict, colPincode} {
		if _, ok := col[required]; !ok {
			return nil, RejectCounts{}, fmt.Errorf("missing column %q: %w", required, ErrSourceUnavailable)
		}
	}

	var records []Record
	var rejects RejectCounts
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A malformed line is a data-quality problem, not a load failure.
			rejects.BadCount++
			continue
		}

		rec, reason := l.parseRow(row, col, family, countCols)
		switch reason {
		case rejectNone:
			records = append(records, rec)
		case rejectBadDate:
			rejects.BadDate++
		case rejectBadCount:
			rejects.BadCount++
		case rejectInvalidRegion:
			rejects.InvalidRegion++
		case rejectUnresolvedRegion:
			rejects.UnresolvedRegion++
		}
	}
	return records, rejects, nil
}

type rejectReason int

const (
	rejectNone rejectReason = iota
	rejectBadDate
	rejectBadCount
	rejectInvalidRegion
	rejectUnresolvedRegion
)

func (l *Loader) parseRow(row []string, col map[string]int, family Family, countCols []string) (Record, rejectReason) {
	field := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	date, err := time.Parse(DateFormat, field(colDate))
	if err != nil {
		return Record{}, rejectBadDate
	}

	region, err := l.normalizer.Normalize(field(colState))
	if err != nil {
		if errors.Is(err, regions.ErrInvalidRegion) {
			return Record{}, rejectInvalidRegion
		}
		return Record{}, rejectUnresolvedRegion
	}

	counts := make([]int64, len(countCols))
	for i, name := range countCols {
		raw := field(name)
		if raw == "" {
			// Missing count fields are zero by contract.
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return Record{}, rejectBadCount
		}
		counts[i] = v
	}

	_, week := date.ISOWeek()
	rec := Record{
		Family:   family,
		Date:     date,
		Year:     date.Year(),
		Month:    date.Month(),
		ISOWeek:  week,
		Weekday:  date.Weekday(),
		Region:   region,
		District: field(colDistrict),
		Pincode:  field(colPincode),
	}
	switch family {
	case Biometric:
		rec.Bio = BioCounts{Age5to17: counts[0], Age17Plus: counts[1]}
	case Demographic:
		rec.Demo = DemoCounts{Age5to17: counts[0], Age17Plus: counts[1]}
	case Enrolment:
		rec.Enrol = EnrolCounts{Age0to5: counts[0], Age5to17: counts[1], Age18Plus: counts[2]}
	}
	return rec, rejectNone
}
