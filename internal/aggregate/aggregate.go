// Package aggregate rolls normalised records up into the two fixed
// granularities the models operate on: per-pincode and per-region totals.
// Aggregation is a full rebuild per refresh; partial aggregates merge by
// commutative summation so input ordering and load parallelism never change
// the result.
package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/banshee-data/identity.report/internal/ingest"
)

// ErrReconciliation means the pincode and region totals disagree. This is an
// internal invariant violation: it indicates a defect in aggregation, not a
// data condition, and aborts the refresh.
var ErrReconciliation = errors.New("pincode/region totals do not reconcile")

// Totals is the shared count shape of both aggregate granularities: the
// three families' sums split by age bracket.
type Totals struct {
	BioAge5to17    int64 `json:"bio_age_5_17"`
	BioAge17Plus   int64 `json:"bio_age_17_plus"`
	DemoAge5to17   int64 `json:"demo_age_5_17"`
	DemoAge17Plus  int64 `json:"demo_age_17_plus"`
	EnrolAge0to5   int64 `json:"enrol_age_0_5"`
	EnrolAge5to17  int64 `json:"enrol_age_5_17"`
	EnrolAge18Plus int64 `json:"enrol_age_18_plus"`
}

// BioUpdates returns total biometric updates across brackets.
func (t Totals) BioUpdates() int64 { return t.BioAge5to17 + t.BioAge17Plus }

// DemoUpdates returns total demographic updates across brackets.
func (t Totals) DemoUpdates() int64 { return t.DemoAge5to17 + t.DemoAge17Plus }

// Enrolments returns total new enrolments across brackets.
func (t Totals) Enrolments() int64 { return t.EnrolAge0to5 + t.EnrolAge5to17 + t.EnrolAge18Plus }

// TotalUpdates returns biometric plus demographic updates (enrolments are
// registrations, not updates).
func (t Totals) TotalUpdates() int64 { return t.BioUpdates() + t.DemoUpdates() }

// YouthUpdates returns the 5-17 bracket share of updates.
func (t Totals) YouthUpdates() int64 { return t.BioAge5to17 + t.DemoAge5to17 }

func (t *Totals) add(o Totals) {
	t.BioAge5to17 += o.BioAge5to17
	t.BioAge17Plus += o.BioAge17Plus
	t.DemoAge5to17 += o.DemoAge5to17
	t.DemoAge17Plus += o.DemoAge17Plus
	t.EnrolAge0to5 += o.EnrolAge0to5
	t.EnrolAge5to17 += o.EnrolAge5to17
	t.EnrolAge18Plus += o.EnrolAge18Plus
}

// PincodeAggregate holds one pincode's summed counts. ActiveDays is the
// number of distinct dates the pincode reported anything, a set cardinality
// rather than a sum.
type PincodeAggregate struct {
	Pincode  string `json:"pincode"`
	Region   string `json:"region"`
	District string `json:"district"`
	Totals
	ActiveDays int `json:"active_days"`
}

// RegionAggregate holds one region's counts summed across its pincodes.
type RegionAggregate struct {
	Region string `json:"region"`
	Totals
	Pincodes   int `json:"pincodes"`
	ActiveDays int `json:"active_days"`
}

// DailyCount is one day's total for a record family, summed over all
// regions. Daily series feed the forecast model.
type DailyCount struct {
	Date  time.Time `json:"date"`
	Count int64     `json:"count"`
}

// MonthlyCount is one calendar month's total for a record family.
type MonthlyCount struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
	Count int64      `json:"count"`
}

// WeeklyCount is one ISO week's total for a record family. Year is the ISO
// week-numbering year, which differs from the calendar year at the
// boundary.
type WeeklyCount struct {
	Year  int   `json:"year"`
	Week  int   `json:"week"`
	Count int64 `json:"count"`
}

// WeekdayCount is one weekday's total for a record family, summed across
// the whole history. Surfaces weekly reporting rhythm (enrolment centres
// are closed on Sundays in most states).
type WeekdayCount struct {
	Weekday time.Weekday `json:"weekday"`
	Count   int64        `json:"count"`
}

type pincodeAcc struct {
	region   string
	district string
	totals   Totals
	dates    map[time.Time]struct{}
}

// Builder accumulates records into partial aggregates. Builders for separate
// files or families can be filled concurrently and merged; every operation
// is a commutative sum or set insertion, so merge order is irrelevant.
type Builder struct {
	pincodes map[string]*pincodeAcc
	daily    map[ingest.Family]map[time.Time]int64
	monthly  map[ingest.Family]map[monthKey]int64
	weekly   map[ingest.Family]map[weekKey]int64
	weekdays map[ingest.Family]*[7]int64
}

type monthKey struct {
	year  int
	month time.Month
}

type weekKey struct {
	year int // ISO week-numbering year
	week int
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		pincodes: make(map[string]*pincodeAcc),
		daily:    make(map[ingest.Family]map[time.Time]int64),
		monthly:  make(map[ingest.Family]map[monthKey]int64),
		weekly:   make(map[ingest.Family]map[weekKey]int64),
		weekdays: make(map[ingest.Family]*[7]int64),
	}
}

// Add folds one normalised record into the partial aggregate.
//
// Grouping is by pincode. When source rows disagree on a pincode's region or
// district label, the lexicographically smallest (region, district) pair
// wins. That is the deterministic reading of "first seen": files load in
// parallel, so arrival order cannot define the policy, ordering does.
func (b *Builder) Add(rec ingest.Record) {
	acc, ok := b.pincodes[rec.Pincode]
	if !ok {
		acc = &pincodeAcc{
			region:   rec.Region,
			district: rec.District,
			dates:    make(map[time.Time]struct{}),
		}
		b.pincodes[rec.Pincode] = acc
	} else if rec.Region < acc.region || (rec.Region == acc.region && rec.District < acc.district) {
		acc.region = rec.Region
		acc.district = rec.District
	}

	var t Totals
	switch rec.Family {
	case ingest.Biometric:
		t.BioAge5to17 = rec.Bio.Age5to17
		t.BioAge17Plus = rec.Bio.Age17Plus
	case ingest.Demographic:
		t.DemoAge5to17 = rec.Demo.Age5to17
		t.DemoAge17Plus = rec.Demo.Age17Plus
	case ingest.Enrolment:
		t.EnrolAge0to5 = rec.Enrol.Age0to5
		t.EnrolAge5to17 = rec.Enrol.Age5to17
		t.EnrolAge18Plus = rec.Enrol.Age18Plus
	}
	acc.totals.add(t)

	day := rec.Date.Truncate(24 * time.Hour)
	acc.dates[day] = struct{}{}

	series, ok := b.daily[rec.Family]
	if !ok {
		series = make(map[time.Time]int64)
		b.daily[rec.Family] = series
	}
	total := rec.Total()
	series[day] += total

	months, ok := b.monthly[rec.Family]
	if !ok {
		months = make(map[monthKey]int64)
		b.monthly[rec.Family] = months
	}
	months[monthKey{rec.Year, rec.Month}] += total

	// rec.ISOWeek is the week component of Date.ISOWeek(); the year
	// component must come from the same call, not the calendar year, or the
	// days around new year land in the wrong bucket.
	isoYear, _ := rec.Date.ISOWeek()
	weeks, ok := b.weekly[rec.Family]
	if !ok {
		weeks = make(map[weekKey]int64)
		b.weekly[rec.Family] = weeks
	}
	weeks[weekKey{isoYear, rec.ISOWeek}] += total

	wd, ok := b.weekdays[rec.Family]
	if !ok {
		wd = new([7]int64)
		b.weekdays[rec.Family] = wd
	}
	wd[rec.Weekday] += total
}

// AddAll folds a record sequence into the builder.
func (b *Builder) AddAll(records []ingest.Record) {
	for _, rec := range records {
		b.Add(rec)
	}
}

// Merge folds another builder's partial aggregates into this one.
func (b *Builder) Merge(other *Builder) {
	for pincode, oacc := range other.pincodes {
		acc, ok := b.pincodes[pincode]
		if !ok {
			b.pincodes[pincode] = oacc
			continue
		}
		if oacc.region < acc.region || (oacc.region == acc.region && oacc.district < acc.district) {
			acc.region = oacc.region
			acc.district = oacc.district
		}
		acc.totals.add(oacc.totals)
		for day := range oacc.dates {
			acc.dates[day] = struct{}{}
		}
	}
	for family, oseries := range other.daily {
		series, ok := b.daily[family]
		if !ok {
			b.daily[family] = oseries
			continue
		}
		for day, count := range oseries {
			series[day] += count
		}
	}
	for family, omonths := range other.monthly {
		months, ok := b.monthly[family]
		if !ok {
			b.monthly[family] = omonths
			continue
		}
		for key, count := range omonths {
			months[key] += count
		}
	}
	for family, oweeks := range other.weekly {
		weeks, ok := b.weekly[family]
		if !ok {
			b.weekly[family] = oweeks
			continue
		}
		for key, count := range oweeks {
			weeks[key] += count
		}
	}
	for family, owd := range other.weekdays {
		wd, ok := b.weekdays[family]
		if !ok {
			b.weekdays[family] = owd
			continue
		}
		for i, count := range owd {
			wd[i] += count
		}
	}
}

// Pincodes materialises the pincode aggregates, sorted by pincode.
func (b *Builder) Pincodes() []PincodeAggregate {
	out := make([]PincodeAggregate, 0, len(b.pincodes))
	for pincode, acc := range b.pincodes {
		out = append(out, PincodeAggregate{
			Pincode:    pincode,
			Region:     acc.region,
			District:   acc.district,
			Totals:     acc.totals,
			ActiveDays: len(acc.dates),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pincode < out[j].Pincode })
	return out
}

// Regions runs the second aggregation pass: region totals are sums of the
// pincode aggregates, never re-derived from raw records, so the two
// granularities reconcile by construction. Region ActiveDays is the distinct
// date count across the whole region.
func (b *Builder) Regions() []RegionAggregate {
	type regionAcc struct {
		totals   Totals
		pincodes int
		dates    map[time.Time]struct{}
	}
	accs := make(map[string]*regionAcc)
	for _, acc := range b.pincodes {
		r, ok := accs[acc.region]
		if !ok {
			r = &regionAcc{dates: make(map[time.Time]struct{})}
			accs[acc.region] = r
		}
		r.totals.add(acc.totals)
		r.pincodes++
		for day := range acc.dates {
			r.dates[day] = struct{}{}
		}
	}

	out := make([]RegionAggregate, 0, len(accs))
	for region, acc := range accs {
		out = append(out, RegionAggregate{
			Region:     region,
			Totals:     acc.totals,
			Pincodes:   acc.pincodes,
			ActiveDays: len(acc.dates),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out
}

// Daily materialises the per-family daily total series, sorted by date.
func (b *Builder) Daily() map[ingest.Family][]DailyCount {
	out := make(map[ingest.Family][]DailyCount, len(b.daily))
	for family, series := range b.daily {
		counts := make([]DailyCount, 0, len(series))
		for day, count := range series {
			counts = append(counts, DailyCount{Date: day, Count: count})
		}
		sort.Slice(counts, func(i, j int) bool { return counts[i].Date.Before(counts[j].Date) })
		out[family] = counts
	}
	return out
}

// Monthly materialises the per-family calendar-month total series, sorted
// chronologically.
func (b *Builder) Monthly() map[ingest.Family][]MonthlyCount {
	out := make(map[ingest.Family][]MonthlyCount, len(b.monthly))
	for family, months := range b.monthly {
		counts := make([]MonthlyCount, 0, len(months))
		for key, count := range months {
			counts = append(counts, MonthlyCount{Year: key.year, Month: key.month, Count: count})
		}
		sort.Slice(counts, func(i, j int) bool {
			if counts[i].Year != counts[j].Year {
				return counts[i].Year < counts[j].Year
			}
			return counts[i].Month < counts[j].Month
		})
		out[family] = counts
	}
	return out
}

// Weekly materialises the per-family ISO-week total series, sorted
// chronologically.
func (b *Builder) Weekly() map[ingest.Family][]WeeklyCount {
	out := make(map[ingest.Family][]WeeklyCount, len(b.weekly))
	for family, weeks := range b.weekly {
		counts := make([]WeeklyCount, 0, len(weeks))
		for key, count := range weeks {
			counts = append(counts, WeeklyCount{Year: key.year, Week: key.week, Count: count})
		}
		sort.Slice(counts, func(i, j int) bool {
			if counts[i].Year != counts[j].Year {
				return counts[i].Year < counts[j].Year
			}
			return counts[i].Week < counts[j].Week
		})
		out[family] = counts
	}
	return out
}

// Weekdays materialises the per-family weekday distribution, Sunday first.
// Weekdays with no activity are included at zero so the distribution always
// has seven entries.
func (b *Builder) Weekdays() map[ingest.Family][]WeekdayCount {
	out := make(map[ingest.Family][]WeekdayCount, len(b.weekdays))
	for family, wd := range b.weekdays {
		counts := make([]WeekdayCount, 7)
		for i, count := range wd {
			counts[i] = WeekdayCount{Weekday: time.Weekday(i), Count: count}
		}
		out[family] = counts
	}
	return out
}

// VerifyReconciliation checks that every region's totals equal the sum of
// its pincodes' totals, exactly, for every metric field. A mismatch is a
// defect in aggregation code, reported as ErrReconciliation.
func VerifyReconciliation(pincodes []PincodeAggregate, regions []RegionAggregate) error {
	sums := make(map[string]Totals, len(regions))
	counts := make(map[string]int, len(regions))
	for _, p := range pincodes {
		t := sums[p.Region]
		t.add(p.Totals)
		sums[p.Region] = t
		counts[p.Region]++
	}
	if len(sums) != len(regions) {
		return fmt.Errorf("%w: %d regions from pincodes, %d region aggregates", ErrReconciliation, len(sums), len(regions))
	}
	for _, r := range regions {
		if sums[r.Region] != r.Totals {
			return fmt.Errorf("%w: region %s: pincode sum %+v != region totals %+v", ErrReconciliation, r.Region, sums[r.Region], r.Totals)
		}
		if counts[r.Region] != r.Pincodes {
			return fmt.Errorf("%w: region %s: %d pincodes summed, aggregate says %d", ErrReconciliation, r.Region, counts[r.Region], r.Pincodes)
		}
	}
	return nil
}
