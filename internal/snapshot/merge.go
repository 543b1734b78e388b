package snapshot

import (
	"sort"

	"github.com/rotisserie/eris"
)

// MergeStats summarizes what a merge did to the table.
type MergeStats struct {
	Appended  int // new keys added
	Filled    int // previously-null columns populated on existing keys
	Refreshed int // volatile columns overwritten with a newer observation
	Rejected  int // malformed incoming rows dropped (missing key)
}

// Merge combines an existing snapshot with freshly harvested rows and
// returns a new snapshot; existing is never mutated.
//
// Growth is append-only by key: keys never seen before are added, keys a
// provider stops listing are kept. For keys already present, populated
// columns win on first observation: an incoming value only lands in a
// column that is currently null, so a flaky harvest with missing optional
// fields cannot erase previously captured data.
//
// Incoming rows without a key are rejected and counted, and the rest of
// the batch proceeds. A duplicate key inside the incoming batch, or any
// duplicate in the merged result, returns ErrDuplicateKey: that is a
// harvester defect and the result must not be persisted.
//
// Runs in O(n+m) after the two sorts; snapshots can hold millions of rows
// so there is no per-row lookup into the existing table.
func Merge(existing *Snapshot, incoming []Record) (*Snapshot, MergeStats, error) {
	return MergeVolatile(existing, incoming, nil)
}

// MergeVolatile is Merge with an escape hatch for observation columns.
// Columns named in volatile hold the result of re-checking an upstream
// fact (availability flags, review scores, checked-at timestamps), so for
// those the latest non-null observation overwrites the stored one. Nulls
// still never overwrite anything, and every other column keeps the
// first-observed-wins rule.
func MergeVolatile(existing *Snapshot, incoming []Record, volatile []string) (*Snapshot, MergeStats, error) {
	var stats MergeStats

	vol := make(map[string]struct{}, len(volatile))
	for _, col := range volatile {
		vol[col] = struct{}{}
	}

	if existing == nil {
		existing = New("")
	}

	merged := &Snapshot{
		KeyColumn: existing.KeyColumn,
		Columns:   append([]string(nil), existing.Columns...),
	}

	rows := make([]Record, 0, len(incoming))
	for _, rec := range incoming {
		if rec.Key == "" {
			stats.Rejected++
			continue
		}
		rows = append(rows, rec)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return CompareKeys(rows[i].Key, rows[j].Key) < 0
	})
	for i := 1; i < len(rows); i++ {
		if rows[i].Key == rows[i-1].Key {
			return nil, stats, eris.Wrapf(ErrDuplicateKey, "incoming key %q", rows[i].Key)
		}
	}

	merged.Records = make([]Record, 0, len(existing.Records)+len(rows))

	i, j := 0, 0
	for i < len(existing.Records) && j < len(rows) {
		switch c := CompareKeys(existing.Records[i].Key, rows[j].Key); {
		case c < 0:
			merged.Records = append(merged.Records, existing.Records[i])
			i++
		case c > 0:
			merged.appendRow(rows[j])
			stats.Appended++
			j++
		default:
			filled, refreshed := merged.fillRow(existing.Records[i], rows[j], vol)
			stats.Filled += filled
			stats.Refreshed += refreshed
			i++
			j++
		}
	}
	for ; i < len(existing.Records); i++ {
		merged.Records = append(merged.Records, existing.Records[i])
	}
	for ; j < len(rows); j++ {
		merged.appendRow(rows[j])
		stats.Appended++
	}

	merged.sortRecords()
	if err := merged.validate(); err != nil {
		return nil, stats, err
	}
	return merged, stats, nil
}

// appendRow adds a brand-new record, extending the schema with any columns
// the existing table has not seen yet.
func (s *Snapshot) appendRow(rec Record) {
	values := make(map[string]Value, len(rec.Values))
	for col, v := range rec.Values {
		if v.Valid {
			values[col] = v
			s.addColumn(col)
		}
	}
	s.Records = append(s.Records, Record{Key: rec.Key, Values: values})
}

// fillRow merges an incoming row into an existing record: null columns are
// populated, volatile columns are overwritten, populated stable columns
// are kept. Returns the counts of columns filled and refreshed.
func (s *Snapshot) fillRow(old, incoming Record, volatile map[string]struct{}) (filled, refreshed int) {
	values := make(map[string]Value, len(old.Values))
	for col, v := range old.Values {
		if v.Valid {
			values[col] = v
		}
	}
	for col, v := range incoming.Values {
		if !v.Valid {
			continue
		}
		if cur, ok := values[col]; ok {
			if _, isVol := volatile[col]; !isVol {
				continue // first-observed-wins: keep the populated value
			}
			if cur != v {
				refreshed++
			}
			values[col] = v
			continue
		}
		values[col] = v
		s.addColumn(col)
		filled++
	}
	s.Records = append(s.Records, Record{Key: old.Key, Values: values})
	return filled, refreshed
}
