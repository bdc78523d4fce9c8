// Package ingest loads raw per-pincode-per-day identity update records from
// CSV source files, normalises their region labels and derives calendar
// fields. Rows that fail date parsing or region resolution are dropped and
// counted, never fatal; a family whose source yields nothing at all is.
package ingest

import (
	"errors"
	"time"
)

// Family selects one of the three record families.
type Family string

const (
	Biometric   Family = "biometric"
	Demographic Family = "demographic"
	Enrolment   Family = "enrolment"
)

// Families lists all record families in canonical order.
var Families = []Family{Biometric, Demographic, Enrolment}

// ErrSourceUnavailable is returned when a family's source location is
// unreadable, contains no CSV files, or yields zero surviving rows. It
// aborts the refresh; per-row problems never do.
var ErrSourceUnavailable = errors.New("record source unavailable")

// BioCounts is the biometric-update age split.
type BioCounts struct {
	Age5to17  int64
	Age17Plus int64
}

// DemoCounts is the demographic-update age split.
type DemoCounts struct {
	Age5to17  int64
	Age17Plus int64
}

// EnrolCounts is the new-enrolment age split.
type EnrolCounts struct {
	Age0to5   int64
	Age5to17  int64
	Age18Plus int64
}

// Record is one normalised source row. Family tags which count set is
// populated; the other two stay zero. Region always holds a canonical name.
type Record struct {
	Family   Family
	Date     time.Time
	Year     int
	Month    time.Month
	ISOWeek  int
	Weekday  time.Weekday
	Region   string
	District string
	Pincode  string

	Bio   BioCounts
	Demo  DemoCounts
	Enrol EnrolCounts
}

// Total returns the record's summed count across age brackets.
func (r Record) Total() int64 {
	switch r.Family {
	case Biometric:
		return r.Bio.Age5to17 + r.Bio.Age17Plus
	case Demographic:
		return r.Demo.Age5to17 + r.Demo.Age17Plus
	case Enrolment:
		return r.Enrol.Age0to5 + r.Enrol.Age5to17 + r.Enrol.Age18Plus
	}
	return 0
}

// RejectCounts accumulates per-reason drop counters for one load. These are
// the data-quality signal surfaced in the refresh summary.
type RejectCounts struct {
	BadDate          int64 `json:"bad_date"`
	BadCount         int64 `json:"bad_count"`
	InvalidRegion    int64 `json:"invalid_region"`
	UnresolvedRegion int64 `json:"unresolved_region"`
}

// Total returns the number of rows dropped for any reason.
func (c RejectCounts) Total() int64 {
	return c.BadDate + c.BadCount + c.InvalidRegion + c.UnresolvedRegion
}

// Add merges another counter set into this one.
func (c *RejectCounts) Add(other RejectCounts) {
	c.BadDate += other.BadDate
	c.BadCount += other.BadCount
	c.InvalidRegion += other.InvalidRegion
	c.UnresolvedRegion += other.UnresolvedRegion
}
