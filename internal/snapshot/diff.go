package snapshot

import "sort"

// Change is a single column whose value differs between two snapshots for
// the same key. Null vs non-null counts as a change; null vs null does not.
type Change struct {
	Key    string
	Column string
	Old    Value
	New    Value
}

// Delta classifies the difference between two snapshots. All three slices
// are ordered by key ascending; Changed additionally orders columns by the
// union schema, so identical inputs always produce an identical Delta.
type Delta struct {
	Added   []Record
	Removed []Record
	Changed []Change
}

// Empty reports whether the delta carries no differences.
func (d *Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// ChangedKeys returns the distinct keys with at least one column change,
// in delta order.
func (d *Delta) ChangedKeys() []string {
	var keys []string
	for _, c := range d.Changed {
		if len(keys) == 0 || keys[len(keys)-1] != c.Key {
			keys = append(keys, c.Key)
		}
	}
	return keys
}

// Diff computes a full outer join of before and after on their key and
// classifies every key: only in after = added, only in before = removed,
// in both with differing value columns = changed, one Change per column.
// Both inputs are read-only; Diff has no side effects. Reconciliation
// reuses this same join for its missing-value computation, so the ordering
// semantics here are the single source of truth.
func Diff(before, after *Snapshot) *Delta {
	if before == nil {
		before = New("")
	}
	if after == nil {
		after = New("")
	}

	cols := unionColumns(before.Columns, after.Columns)
	d := &Delta{}

	bs := sortedCopy(before.Records)
	as := sortedCopy(after.Records)

	i, j := 0, 0
	for i < len(bs) && j < len(as) {
		switch c := CompareKeys(bs[i].Key, as[j].Key); {
		case c < 0:
			d.Removed = append(d.Removed, bs[i])
			i++
		case c > 0:
			d.Added = append(d.Added, as[j])
			j++
		default:
			for _, col := range cols {
				ov, nv := bs[i].Value(col), as[j].Value(col)
				if !ov.Equal(nv) {
					d.Changed = append(d.Changed, Change{Key: bs[i].Key, Column: col, Old: ov, New: nv})
				}
			}
			i++
			j++
		}
	}
	d.Removed = append(d.Removed, bs[i:]...)
	d.Added = append(d.Added, as[j:]...)

	return d
}

// sortedCopy returns the records in canonical key order without touching
// the input, so Diff is deterministic even for callers that hand it
// unsorted record slices.
func sortedCopy(recs []Record) []Record {
	out := append([]Record(nil), recs...)
	sort.SliceStable(out, func(i, j int) bool {
		return CompareKeys(out[i].Key, out[j].Key) < 0
	})
	return out
}

func unionColumns(a, b []string) []string {
	out := append([]string(nil), a...)
	seen := make(map[string]struct{}, len(a))
	for _, c := range a {
		seen[c] = struct{}{}
	}
	for _, c := range b {
		if _, ok := seen[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}
