package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/banshee-data/identity.report/internal/regions"
	"github.com/banshee-data/identity.report/internal/testutil"
)

const bioHeader = "date,state,district,pincode,bio_age_5_17,bio_age_17_\n"

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	n, err := regions.NewNormalizer(regions.DefaultTable(), 0.85)
	if err != nil {
		t.Fatalf("NewNormalizer failed: %v", err)
	}
	return NewLoader(n)
}

func TestLoadFamilyParsesAndNormalises(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteCSV(t, dir, "jan.csv", bioHeader+
		"15-01-2025,WESTBENGAL,Kolkata,700001,10,20\n"+
		"16-01-2025,Delhi,New Delhi,110001,5,7\n")

	loader := newTestLoader(t)
	records, rejects, err := loader.LoadFamily(context.Background(), dir, Biometric)
	if err != nil {
		t.Fatalf("LoadFamily failed: %v", err)
	}
	if rejects.Total() != 0 {
		t.Errorf("unexpected rejects: %+v", rejects)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	first := records[0]
	if first.Region != "West Bengal" {
		t.Errorf("region = %q, want West Bengal", first.Region)
	}
	if first.Bio != (BioCounts{Age5to17: 10, Age17Plus: 20}) {
		t.Errorf("counts = %+v", first.Bio)
	}
	if first.Total() != 30 {
		t.Errorf("Total() = %d, want 30", first.Total())
	}

	wantDate := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	if !first.Date.Equal(wantDate) {
		t.Errorf("date = %v, want %v", first.Date, wantDate)
	}
	if first.Year != 2025 || first.Month != time.January {
		t.Errorf("calendar fields = %d/%v", first.Year, first.Month)
	}
	if first.Weekday != time.Wednesday {
		t.Errorf("weekday = %v, want Wednesday", first.Weekday)
	}
	if first.ISOWeek != 3 {
		t.Errorf("ISO week = %d, want 3", first.ISOWeek)
	}
}

func TestLoadFamilyCountsRejectsAndContinues(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteCSV(t, dir, "jan.csv", bioHeader+
		"15-01-2025,Delhi,New Delhi,110001,1,2\n"+
		"2025-01-15,Delhi,New Delhi,110001,1,2\n"+ // wrong date layout
		"15-01-2025,100000,New Delhi,110001,1,2\n"+ // invalid region list
		"15-01-2025,Atlantis,New Delhi,110001,1,2\n"+ // unresolvable region
		"15-01-2025,Delhi,New Delhi,110001,-1,2\n") // negative count

	loader := newTestLoader(t)
	records, rejects, err := loader.LoadFamily(context.Background(), dir, Biometric)
	if err != nil {
		t.Fatalf("LoadFamily should succeed with partial rejects: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d surviving records, want 1", len(records))
	}
	if rejects.BadDate != 1 || rejects.InvalidRegion != 1 || rejects.UnresolvedRegion != 1 || rejects.BadCount != 1 {
		t.Errorf("rejects = %+v", rejects)
	}
	if rejects.Total() != 4 {
		t.Errorf("rejects.Total() = %d, want 4", rejects.Total())
	}
}

func TestLoadFamilyConcatenatesFilesInNameOrder(t *testing.T) {
	dir := t.TempDir()
	// Written out of order; loader must still yield feb after jan.
	testutil.WriteCSV(t, dir, "2025-02.csv", bioHeader+"01-02-2025,Delhi,New Delhi,110001,3,3\n")
	testutil.WriteCSV(t, dir, "2025-01.csv", bioHeader+"01-01-2025,Delhi,New Delhi,110001,1,1\n")

	loader := newTestLoader(t)
	records, _, err := loader.LoadFamily(context.Background(), dir, Biometric)
	if err != nil {
		t.Fatalf("LoadFamily failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if !records[0].Date.Before(records[1].Date) {
		t.Errorf("records out of order: %v then %v", records[0].Date, records[1].Date)
	}
}

func TestLoadFamilyMissingCountFieldsAreZero(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteCSV(t, dir, "jan.csv", bioHeader+
		"15-01-2025,Delhi,New Delhi,110001,,\n")

	loader := newTestLoader(t)
	records, _, err := loader.LoadFamily(context.Background(), dir, Biometric)
	if err != nil {
		t.Fatalf("LoadFamily failed: %v", err)
	}
	if records[0].Total() != 0 {
		t.Errorf("Total() = %d, want 0 for empty count cells", records[0].Total())
	}
}

func TestLoadFamilyEnrolmentBrackets(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteCSV(t, dir, "jan.csv",
		"date,state,district,pincode,age_0_5,age_5_17,age_18_greater\n"+
			"15-01-2025,Kerala,Ernakulam,682001,4,5,6\n")

	loader := newTestLoader(t)
	records, _, err := loader.LoadFamily(context.Background(), dir, Enrolment)
	if err != nil {
		t.Fatalf("LoadFamily failed: %v", err)
	}
	want := EnrolCounts{Age0to5: 4, Age5to17: 5, Age18Plus: 6}
	if records[0].Enrol != want {
		t.Errorf("enrol counts = %+v, want %+v", records[0].Enrol, want)
	}
	if records[0].Total() != 15 {
		t.Errorf("Total() = %d, want 15", records[0].Total())
	}
}

func TestLoadFamilyFatalOnEmptyDirectory(t *testing.T) {
	loader := newTestLoader(t)

	_, _, err := loader.LoadFamily(context.Background(), t.TempDir(), Biometric)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("error = %v, want ErrSourceUnavailable", err)
	}
}

func TestLoadFamilyFatalWhenAllRowsBad(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteCSV(t, dir, "jan.csv", bioHeader+
		"not-a-date,Delhi,New Delhi,110001,1,2\n")

	loader := newTestLoader(t)
	_, _, err := loader.LoadFamily(context.Background(), dir, Biometric)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("error = %v, want ErrSourceUnavailable for zero surviving rows", err)
	}
}

func TestLoadFamilyFatalOnMissingColumns(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteCSV(t, dir, "jan.csv", "date,pincode\n15-01-2025,110001\n")

	loader := newTestLoader(t)
	_, _, err := loader.LoadFamily(context.Background(), dir, Biometric)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("error = %v, want ErrSourceUnavailable for missing columns", err)
	}
}
