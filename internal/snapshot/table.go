// Package snapshot implements the keyed, ordered, deduplicated table that
// holds the last known state of an external catalog, plus the incremental
// merge and diff operations over it. Everything in this package is pure and
// in-memory; persistence lives in snapstore.
package snapshot

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrDuplicateKey indicates two records with the same key reached a merged
// table. It means the harvester (or the merge itself) is broken, so callers
// must abort the run rather than persist the result.
var ErrDuplicateKey = eris.New("snapshot: duplicate key")

// Value is an optional column value. The zero Value is absent.
type Value struct {
	Str   string
	Valid bool
}

// Null is the absent Value.
var Null = Value{}

// String returns a present Value holding s.
func String(s string) Value {
	return Value{Str: s, Valid: true}
}

// Equal reports exact equality: absent == absent, absent != present.
func (v Value) Equal(o Value) bool {
	if v.Valid != o.Valid {
		return false
	}
	return !v.Valid || v.Str == o.Str
}

// MarshalJSON encodes an absent Value as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.Str)
}

// UnmarshalJSON decodes null as an absent Value.
func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Null
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return eris.Wrap(err, "snapshot: unmarshal value")
	}
	*v = String(s)
	return nil
}

// Record is one row of a Snapshot: a key plus optional value columns.
// A column missing from Values is absent, same as an explicit Null.
type Record struct {
	Key    string           `json:"key"`
	Values map[string]Value `json:"values,omitempty"`
}

// Value returns the record's value for col, Null when unset.
func (r Record) Value(col string) Value {
	return r.Values[col]
}

// Snapshot is a sorted, deduplicated, keyed table. Records are ordered by
// CompareKeys ascending so two snapshots with the same logical content
// serialize identically.
type Snapshot struct {
	KeyColumn string   `json:"key_column"`
	Columns   []string `json:"columns"`
	Records   []Record `json:"records"`
}

// New returns an empty snapshot with the given key column and value columns.
func New(keyColumn string, columns ...string) *Snapshot {
	return &Snapshot{KeyColumn: keyColumn, Columns: columns}
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// Get returns the record for key, using binary search over the sorted order.
func (s *Snapshot) Get(key string) (Record, bool) {
	if s == nil {
		return Record{}, false
	}
	i := sort.Search(len(s.Records), func(i int) bool {
		return CompareKeys(s.Records[i].Key, key) >= 0
	})
	if i < len(s.Records) && s.Records[i].Key == key {
		return s.Records[i], true
	}
	return Record{}, false
}

// hasColumn reports whether col is one of the snapshot's value columns.
func (s *Snapshot) hasColumn(col string) bool {
	for _, c := range s.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// addColumn appends col to the schema if not already present.
func (s *Snapshot) addColumn(col string) {
	if !s.hasColumn(col) {
		s.Columns = append(s.Columns, col)
	}
}

// sortRecords re-establishes canonical record order.
func (s *Snapshot) sortRecords() {
	sort.SliceStable(s.Records, func(i, j int) bool {
		return CompareKeys(s.Records[i].Key, s.Records[j].Key) < 0
	})
}

// validate checks key uniqueness after sorting.
func (s *Snapshot) validate() error {
	for i := 1; i < len(s.Records); i++ {
		if s.Records[i].Key == s.Records[i-1].Key {
			return eris.Wrapf(ErrDuplicateKey, "key %q", s.Records[i].Key)
		}
	}
	return nil
}

// CompareKeys orders snapshot keys. All-digit keys sort as a class before
// every other key and compare numerically within it (so "99" sorts before
// "100"); non-digit keys compare lexicographically. The two classes never
// interleave, keeping the order total when a catalog mixes both shapes.
func CompareKeys(a, b string) int {
	ad, bd := isDigits(a), isDigits(b)
	switch {
	case ad && bd:
		at, bt := strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
		if len(at) != len(bt) {
			if len(at) < len(bt) {
				return -1
			}
			return 1
		}
		if c := strings.Compare(at, bt); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	case ad:
		return -1
	case bd:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
