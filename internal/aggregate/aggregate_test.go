package aggregate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/identity.report/internal/ingest"
)

func day(d int) time.Time {
	return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC)
}

// stamp fills in the calendar fields the loader derives from the date.
func stamp(rec ingest.Record) ingest.Record {
	rec.Year = rec.Date.Year()
	rec.Month = rec.Date.Month()
	_, rec.ISOWeek = rec.Date.ISOWeek()
	rec.Weekday = rec.Date.Weekday()
	return rec
}

func bioRecord(pincode, region, district string, d int, young, old int64) ingest.Record {
	return stamp(ingest.Record{
		Family:   ingest.Biometric,
		Date:     day(d),
		Region:   region,
		District: district,
		Pincode:  pincode,
		Bio:      ingest.BioCounts{Age5to17: young, Age17Plus: old},
	})
}

func demoRecord(pincode, region, district string, d int, young, old int64) ingest.Record {
	return stamp(ingest.Record{
		Family:   ingest.Demographic,
		Date:     day(d),
		Region:   region,
		District: district,
		Pincode:  pincode,
		Demo:     ingest.DemoCounts{Age5to17: young, Age17Plus: old},
	})
}

func enrolRecord(pincode, region, district string, d int, a, b, c int64) ingest.Record {
	return stamp(ingest.Record{
		Family:   ingest.Enrolment,
		Date:     day(d),
		Region:   region,
		District: district,
		Pincode:  pincode,
		Enrol:    ingest.EnrolCounts{Age0to5: a, Age5to17: b, Age18Plus: c},
	})
}

func sampleRecords() []ingest.Record {
	return []ingest.Record{
		bioRecord("110001", "Delhi", "New Delhi", 1, 60, 40),
		bioRecord("110001", "Delhi", "New Delhi", 2, 10, 5),
		demoRecord("110001", "Delhi", "New Delhi", 1, 8, 12),
		enrolRecord("110001", "Delhi", "New Delhi", 1, 2, 2, 1),
		bioRecord("700001", "West Bengal", "Kolkata", 1, 30, 20),
		demoRecord("700001", "West Bengal", "Kolkata", 3, 4, 6),
		enrolRecord("700001", "West Bengal", "Kolkata", 3, 1, 1, 1),
		bioRecord("700019", "West Bengal", "Kolkata", 2, 7, 3),
	}
}

func TestBuilderPincodeAggregation(t *testing.T) {
	b := NewBuilder()
	b.AddAll(sampleRecords())

	pincodes := b.Pincodes()
	if len(pincodes) != 3 {
		t.Fatalf("got %d pincode aggregates, want 3", len(pincodes))
	}

	// Sorted by pincode: 110001, 700001, 700019
	p := pincodes[0]
	if p.Pincode != "110001" || p.Region != "Delhi" {
		t.Fatalf("unexpected first aggregate: %+v", p)
	}
	if p.BioUpdates() != 115 || p.DemoUpdates() != 20 || p.Enrolments() != 5 {
		t.Errorf("totals = bio %d demo %d enrol %d", p.BioUpdates(), p.DemoUpdates(), p.Enrolments())
	}
	// Two distinct dates for 110001, not four record rows.
	if p.ActiveDays != 2 {
		t.Errorf("ActiveDays = %d, want 2", p.ActiveDays)
	}
}

func TestBuilderRegionSecondPass(t *testing.T) {
	b := NewBuilder()
	b.AddAll(sampleRecords())

	regions := b.Regions()
	if len(regions) != 2 {
		t.Fatalf("got %d region aggregates, want 2", len(regions))
	}

	wb := regions[1]
	if wb.Region != "West Bengal" {
		t.Fatalf("unexpected region order: %+v", regions)
	}
	if wb.Pincodes != 2 {
		t.Errorf("Pincodes = %d, want 2", wb.Pincodes)
	}
	if wb.BioUpdates() != 60 || wb.DemoUpdates() != 10 || wb.Enrolments() != 3 {
		t.Errorf("region totals = bio %d demo %d enrol %d", wb.BioUpdates(), wb.DemoUpdates(), wb.Enrolments())
	}
	// Days 1, 2, 3 seen across the region's pincodes.
	if wb.ActiveDays != 3 {
		t.Errorf("ActiveDays = %d, want 3", wb.ActiveDays)
	}
}

func TestReconciliationInvariantHolds(t *testing.T) {
	b := NewBuilder()
	b.AddAll(sampleRecords())

	if err := VerifyReconciliation(b.Pincodes(), b.Regions()); err != nil {
		t.Errorf("VerifyReconciliation failed: %v", err)
	}
}

func TestReconciliationDetectsMismatch(t *testing.T) {
	b := NewBuilder()
	b.AddAll(sampleRecords())

	regions := b.Regions()
	regions[0].BioAge5to17++ // corrupt one field

	if err := VerifyReconciliation(b.Pincodes(), regions); err == nil {
		t.Error("expected reconciliation error for corrupted region totals")
	}
}

func TestAggregationIsOrderIndependent(t *testing.T) {
	records := sampleRecords()

	b1 := NewBuilder()
	b1.AddAll(records)

	shuffled := make([]ingest.Record, len(records))
	copy(shuffled, records)
	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	b2 := NewBuilder()
	b2.AddAll(shuffled)

	if diff := cmp.Diff(b1.Pincodes(), b2.Pincodes()); diff != "" {
		t.Errorf("pincode aggregates differ under permutation (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(b1.Regions(), b2.Regions()); diff != "" {
		t.Errorf("region aggregates differ under permutation (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(b1.Daily(), b2.Daily()); diff != "" {
		t.Errorf("daily series differ under permutation (-want +got):\n%s", diff)
	}
}

func TestMergeMatchesSequentialBuild(t *testing.T) {
	records := sampleRecords()

	sequential := NewBuilder()
	sequential.AddAll(records)

	left := NewBuilder()
	left.AddAll(records[:3])
	right := NewBuilder()
	right.AddAll(records[3:])
	left.Merge(right)

	if diff := cmp.Diff(sequential.Pincodes(), left.Pincodes()); diff != "" {
		t.Errorf("merged pincodes differ from sequential (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(sequential.Daily(), left.Daily()); diff != "" {
		t.Errorf("merged daily series differ from sequential (-want +got):\n%s", diff)
	}
}

func TestConflictingDistrictResolvesDeterministically(t *testing.T) {
	a := bioRecord("560001", "Karnataka", "Bengaluru Urban", 1, 1, 1)
	b := bioRecord("560001", "Karnataka", "Bangalore", 2, 1, 1)

	// Both insertion orders must land on the same (region, district) pair.
	b1 := NewBuilder()
	b1.Add(a)
	b1.Add(b)
	b2 := NewBuilder()
	b2.Add(b)
	b2.Add(a)

	p1 := b1.Pincodes()[0]
	p2 := b2.Pincodes()[0]
	if p1.District != p2.District {
		t.Fatalf("district differs by order: %q vs %q", p1.District, p2.District)
	}
	if p1.District != "Bangalore" {
		t.Errorf("district = %q, want lexicographically smallest %q", p1.District, "Bangalore")
	}
	// Counts from both rows are kept regardless of label conflict.
	if p1.BioUpdates() != 4 {
		t.Errorf("BioUpdates = %d, want 4", p1.BioUpdates())
	}
}

func TestDailySeries(t *testing.T) {
	b := NewBuilder()
	b.AddAll(sampleRecords())

	daily := b.Daily()
	bio := daily[ingest.Biometric]
	if len(bio) != 2 {
		t.Fatalf("got %d biometric days, want 2", len(bio))
	}
	if !bio[0].Date.Before(bio[1].Date) {
		t.Error("daily series not sorted by date")
	}
	// Day 1: 100 (110001) + 50 (700001); day 2: 15 + 10.
	if bio[0].Count != 150 || bio[1].Count != 25 {
		t.Errorf("biometric daily counts = %d, %d", bio[0].Count, bio[1].Count)
	}
}

func TestMonthlyRollup(t *testing.T) {
	b := NewBuilder()
	b.AddAll(sampleRecords())
	// day(32) normalises to 1 February.
	b.Add(bioRecord("110001", "Delhi", "New Delhi", 32, 3, 7))

	monthly := b.Monthly()
	bio := monthly[ingest.Biometric]
	if len(bio) != 2 {
		t.Fatalf("got %d biometric months, want 2", len(bio))
	}
	jan, feb := bio[0], bio[1]
	if jan.Year != 2025 || jan.Month != time.January || jan.Count != 175 {
		t.Errorf("January bucket = %+v, want 2025/January/175", jan)
	}
	if feb.Month != time.February || feb.Count != 10 {
		t.Errorf("February bucket = %+v, want February/10", feb)
	}
	if demo := monthly[ingest.Demographic]; len(demo) != 1 || demo[0].Count != 30 {
		t.Errorf("demographic months = %+v, want one January bucket of 30", demo)
	}
}

func TestWeeklyRollupSpansYearBoundary(t *testing.T) {
	// 31 December 2024 and 1 January 2025 are both in ISO week 1 of 2025;
	// bucketing by calendar year would split them.
	b := NewBuilder()
	b.Add(stamp(ingest.Record{
		Family:  ingest.Biometric,
		Date:    time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		Region:  "Delhi",
		Pincode: "110001",
		Bio:     ingest.BioCounts{Age5to17: 10, Age17Plus: 20},
	}))
	b.Add(stamp(ingest.Record{
		Family:  ingest.Biometric,
		Date:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Region:  "Delhi",
		Pincode: "110001",
		Bio:     ingest.BioCounts{Age5to17: 5, Age17Plus: 15},
	}))

	weekly := b.Weekly()[ingest.Biometric]
	if len(weekly) != 1 {
		t.Fatalf("got %d weekly buckets, want 1: %+v", len(weekly), weekly)
	}
	w := weekly[0]
	if w.Year != 2025 || w.Week != 1 || w.Count != 50 {
		t.Errorf("weekly bucket = %+v, want 2025/1/50", w)
	}
}

func TestWeekdayRollup(t *testing.T) {
	b := NewBuilder()
	b.AddAll(sampleRecords())

	// January 2025: day 1 is a Wednesday, day 2 a Thursday.
	wd := b.Weekdays()[ingest.Biometric]
	if len(wd) != 7 {
		t.Fatalf("got %d weekday buckets, want 7", len(wd))
	}
	if wd[0].Weekday != time.Sunday {
		t.Errorf("first bucket = %v, want Sunday", wd[0].Weekday)
	}
	if wd[time.Wednesday].Count != 150 || wd[time.Thursday].Count != 25 {
		t.Errorf("weekday counts = Wed %d Thu %d, want 150, 25", wd[time.Wednesday].Count, wd[time.Thursday].Count)
	}
	if wd[time.Sunday].Count != 0 {
		t.Errorf("Sunday count = %d, want 0", wd[time.Sunday].Count)
	}
}

func TestRollupsMergeMatchesSequential(t *testing.T) {
	records := sampleRecords()

	sequential := NewBuilder()
	sequential.AddAll(records)

	left := NewBuilder()
	left.AddAll(records[:4])
	right := NewBuilder()
	right.AddAll(records[4:])
	left.Merge(right)

	if diff := cmp.Diff(sequential.Monthly(), left.Monthly()); diff != "" {
		t.Errorf("merged monthly rollup differs from sequential (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(sequential.Weekly(), left.Weekly()); diff != "" {
		t.Errorf("merged weekly rollup differs from sequential (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(sequential.Weekdays(), left.Weekdays()); diff != "" {
		t.Errorf("merged weekday rollup differs from sequential (-want +got):\n%s", diff)
	}
}

func TestSnapshotLookupAndStore(t *testing.T) {
	b := NewBuilder()
	b.AddAll(sampleRecords())

	snap := &Snapshot{Pincodes: b.Pincodes(), Regions: b.Regions()}

	if _, ok := snap.PincodeByCode("700001"); !ok {
		t.Error("PincodeByCode failed to find known pincode")
	}
	if _, ok := snap.PincodeByCode("999999"); ok {
		t.Error("PincodeByCode found a pincode that does not exist")
	}

	var store Store
	if store.Current() != nil {
		t.Error("empty store should have nil current snapshot")
	}
	store.Publish(snap)
	if store.Current() != snap {
		t.Error("Current() did not return the published snapshot")
	}
}
