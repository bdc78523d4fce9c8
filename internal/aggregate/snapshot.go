package aggregate

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/banshee-data/identity.report/internal/ingest"
)

// Snapshot is one complete, immutable aggregate build. A refresh constructs
// a Snapshot off to the side and publishes it in a single pointer swap, so
// readers never observe a partial rebuild and never need locks.
type Snapshot struct {
	ID      string    `json:"id"`
	BuiltAt time.Time `json:"built_at"`

	Pincodes []PincodeAggregate `json:"pincodes"` // sorted by pincode
	Regions  []RegionAggregate  `json:"regions"`  // sorted by region

	Daily    map[ingest.Family][]DailyCount   `json:"daily"`    // sorted by date
	Monthly  map[ingest.Family][]MonthlyCount `json:"monthly"`  // sorted by year, month
	Weekly   map[ingest.Family][]WeeklyCount  `json:"weekly"`   // sorted by ISO year, week
	Weekdays map[ingest.Family][]WeekdayCount `json:"weekdays"` // Sunday first, always 7 entries

	RowCounts map[ingest.Family]int64               `json:"row_counts"`
	Rejects   map[ingest.Family]ingest.RejectCounts `json:"rejects"`
}

// PincodeByCode finds a pincode aggregate by binary search over the sorted
// slice. The second return is false when the pincode is unknown.
func (s *Snapshot) PincodeByCode(code string) (PincodeAggregate, bool) {
	i := sort.Search(len(s.Pincodes), func(i int) bool { return s.Pincodes[i].Pincode >= code })
	if i < len(s.Pincodes) && s.Pincodes[i].Pincode == code {
		return s.Pincodes[i], true
	}
	return PincodeAggregate{}, false
}

// Store holds the currently published Snapshot. Publish replaces the whole
// snapshot atomically; Current may return nil before the first successful
// refresh.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// Publish makes snap the current snapshot.
func (s *Store) Publish(snap *Snapshot) {
	s.current.Store(snap)
}

// Current returns the published snapshot, or nil if none exists yet.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}
