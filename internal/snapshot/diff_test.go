package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(keyCol string, cols []string, recs ...Record) *Snapshot {
	s := New(keyCol, cols...)
	s.Records = recs
	s.sortRecords()
	return s
}

func TestDiff_Classification(t *testing.T) {
	before := snap("id", []string{"title", "imdb_id"},
		rec("1", map[string]Value{"title": String("A"), "imdb_id": String("tt1")}),
		rec("2", map[string]Value{"title": String("B")}),
		rec("3", map[string]Value{"title": String("C")}),
	)
	after := snap("id", []string{"title", "imdb_id"},
		rec("1", map[string]Value{"title": String("A"), "imdb_id": String("tt9")}),
		rec("3", map[string]Value{"title": String("C")}),
		rec("4", map[string]Value{"title": String("D")}),
	)

	d := Diff(before, after)

	require.Len(t, d.Added, 1)
	assert.Equal(t, "4", d.Added[0].Key)
	require.Len(t, d.Removed, 1)
	assert.Equal(t, "2", d.Removed[0].Key)
	require.Len(t, d.Changed, 1)
	assert.Equal(t, Change{Key: "1", Column: "imdb_id", Old: String("tt1"), New: String("tt9")}, d.Changed[0])
}

func TestDiff_ReportsEveryChangedColumn(t *testing.T) {
	before := snap("id", []string{"title", "score"},
		rec("1", map[string]Value{"title": String("A"), "score": String("50")}),
	)
	after := snap("id", []string{"title", "score"},
		rec("1", map[string]Value{"title": String("B"), "score": String("60")}),
	)

	d := Diff(before, after)
	require.Len(t, d.Changed, 2)
	assert.Equal(t, "title", d.Changed[0].Column)
	assert.Equal(t, "score", d.Changed[1].Column)
	assert.Equal(t, []string{"1"}, d.ChangedKeys())
}

func TestDiff_NullSemantics(t *testing.T) {
	before := snap("id", []string{"a", "b"},
		rec("1", map[string]Value{"a": Null, "b": String("x")}),
	)
	after := snap("id", []string{"a", "b"},
		rec("1", map[string]Value{"a": Null, "b": Null}),
	)

	d := Diff(before, after)
	// null vs null is equal; non-null vs null is a change.
	require.Len(t, d.Changed, 1)
	assert.Equal(t, "b", d.Changed[0].Column)
	assert.False(t, d.Changed[0].New.Valid)
}

func TestDiff_PartitionsKeyUnion(t *testing.T) {
	before := snap("id", []string{"v"},
		rec("1", map[string]Value{"v": String("a")}),
		rec("2", map[string]Value{"v": String("b")}),
		rec("4", map[string]Value{"v": String("d")}),
	)
	after := snap("id", []string{"v"},
		rec("2", map[string]Value{"v": String("B")}),
		rec("3", map[string]Value{"v": String("c")}),
		rec("4", map[string]Value{"v": String("d")}),
	)

	d := Diff(before, after)

	seen := map[string]int{}
	for _, r := range d.Added {
		seen[r.Key]++
	}
	for _, r := range d.Removed {
		seen[r.Key]++
	}
	for _, k := range d.ChangedKeys() {
		seen[k]++
	}
	// Unchanged keys are the remainder of the union.
	unchanged := 0
	union := map[string]struct{}{}
	for _, r := range before.Records {
		union[r.Key] = struct{}{}
	}
	for _, r := range after.Records {
		union[r.Key] = struct{}{}
	}
	for k := range union {
		if seen[k] == 0 {
			unchanged++
		} else {
			assert.Equal(t, 1, seen[k], "key %s classified more than once", k)
		}
	}
	assert.Equal(t, 1, unchanged) // key 4
}

func TestDiff_DeterministicAcrossInputOrder(t *testing.T) {
	a1 := snap("id", []string{"v"},
		rec("1", map[string]Value{"v": String("a")}),
		rec("2", map[string]Value{"v": String("b")}),
	)
	a2 := New("id", "v")
	// Deliberately out of order; Diff must not depend on record order.
	a2.Records = []Record{
		rec("2", map[string]Value{"v": String("b")}),
		rec("1", map[string]Value{"v": String("a")}),
	}

	b := snap("id", []string{"v"},
		rec("2", map[string]Value{"v": String("B")}),
		rec("3", map[string]Value{"v": String("c")}),
	)

	assert.Equal(t, Diff(a1, b), Diff(a2, b))
	assert.Equal(t, Diff(a1, b), Diff(a1, b))
}

func TestDiff_NilAndEmptyInputs(t *testing.T) {
	after := snap("id", []string{"v"}, rec("1", map[string]Value{"v": String("a")}))

	d := Diff(nil, after)
	assert.Len(t, d.Added, 1)
	assert.Empty(t, d.Removed)

	d = Diff(after, nil)
	assert.Len(t, d.Removed, 1)

	assert.True(t, Diff(nil, nil).Empty())
	assert.True(t, Diff(after, after).Empty())
}
