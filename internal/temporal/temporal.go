// Package temporal computes causal rolling features over a chronologically
// ordered record stream.
package temporal

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/Yates-Labs/sevmine/internal/record"
)

var (
	// ErrUnsorted is returned when timestamps decrease along the stream.
	ErrUnsorted = errors.New("records are not in chronological order")
	// ErrMissingTimestamp is returned for records with a zero commit time.
	ErrMissingTimestamp = errors.New("record has no timestamp")
)

// Default window sizes in days.
const (
	DefaultChurnWindowDays  = 60
	DefaultSevereWindowDays = 30
)

const day = 24 * time.Hour

// Aggregator computes file age, churn and recent severe counts.
type Aggregator struct {
	ChurnWindowDays  int
	SevereWindowDays int
}

// DefaultAggregator uses 60 day churn and 30 day severe windows.
func DefaultAggregator() Aggregator {
	return Aggregator{ChurnWindowDays: DefaultChurnWindowDays, SevereWindowDays: DefaultSevereWindowDays}
}

// fileIndex holds one file's prior timestamps in stream order. Both slices
// are append-only and non-decreasing.
type fileIndex struct {
	changes []time.Time
	severe  []time.Time
}

// countSince counts entries in [from, before).
func countSince(times []time.Time, from, before time.Time) int {
	lo := sort.Search(len(times), func(i int) bool { return !times[i].Before(from) })
	hi := sort.Search(len(times), func(i int) bool { return !times[i].Before(before) })
	return hi - lo
}

// Compute fills TemporalFeatures for every record in place. Records must be
// ordered by non-decreasing CommitTime and carry a timestamp. Only records at
// earlier stream positions with a strictly earlier timestamp contribute, so
// records sharing a timestamp never see each other.
func (a Aggregator) Compute(records []record.CommitFileRecord) error {
	if a.ChurnWindowDays < 0 || a.SevereWindowDays < 0 {
		return fmt.Errorf("window sizes must be non-negative: churn=%d severe=%d",
			a.ChurnWindowDays, a.SevereWindowDays)
	}
	if err := checkOrder(records); err != nil {
		return err
	}

	churnWindow := time.Duration(a.ChurnWindowDays) * day
	severeWindow := time.Duration(a.SevereWindowDays) * day
	index := make(map[string]*fileIndex)

	for i := range records {
		rec := &records[i]
		t := rec.CommitTime

		idx, ok := index[rec.FilePath]
		if !ok {
			idx = &fileIndex{}
			index[rec.FilePath] = idx
		}

		features := record.TemporalFeatures{
			ChurnWindowDays:  a.ChurnWindowDays,
			SevereWindowDays: a.SevereWindowDays,
		}
		if len(idx.changes) > 0 && idx.changes[0].Before(t) {
			features.FileAgeDays = int(t.Sub(idx.changes[0]) / day)
		}
		features.Churn = countSince(idx.changes, t.Add(-churnWindow), t)
		features.RecentSevere = countSince(idx.severe, t.Add(-severeWindow), t)
		rec.TemporalFeatures = features

		idx.changes = append(idx.changes, t)
		if rec.Label == record.SeverityHigh {
			idx.severe = append(idx.severe, t)
		}
	}

	return nil
}

func checkOrder(records []record.CommitFileRecord) error {
	for i := range records {
		if records[i].CommitTime.IsZero() {
			return fmt.Errorf("%w: %s %s", ErrMissingTimestamp, records[i].CommitSHA, records[i].FilePath)
		}
		if i > 0 && records[i].CommitTime.Before(records[i-1].CommitTime) {
			return fmt.Errorf("%w: record %d (%s) precedes record %d", ErrUnsorted,
				i, records[i].CommitTime.Format(time.RFC3339), i-1)
		}
	}
	return nil
}

// SortChronological orders records by ascending CommitTime. The sort is
// stable so equal timestamps keep their stream order.
func SortChronological(records []record.CommitFileRecord) {
	slices.SortStableFunc(records, func(a, b record.CommitFileRecord) int {
		return a.CommitTime.Compare(b.CommitTime)
	})
}

// DropUntimed removes records without a timestamp and reports how many were
// dropped.
func DropUntimed(records []record.CommitFileRecord) ([]record.CommitFileRecord, int) {
	kept := records[:0]
	for _, rec := range records {
		if !rec.CommitTime.IsZero() {
			kept = append(kept, rec)
		}
	}
	return kept, len(records) - len(kept)
}
