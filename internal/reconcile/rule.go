// Package reconcile cross-references a provider snapshot against the
// knowledge base's recorded identifier assignments and synthesizes the
// candidate statements for the gap. One generic algorithm, parameterized
// per provider by a Rule.
package reconcile

import (
	"regexp"
	"sort"
	"time"

	"github.com/mediagraph/catalog-cli/internal/snapshot"
	"github.com/mediagraph/catalog-cli/internal/statement"
)

// Extract column names. A knowledge-base extract is snapshot-shaped: keyed
// by the anchor that identifies the entity (an IMDb id, an iTunes id, …),
// with the owning item and the already-recorded provider value as columns.
// A null value column means the item exists but carries no claim yet.
const (
	ExtractItemColumn  = "item"
	ExtractValueColumn = "value"
)

// ExtractRow is one assignment fact from the knowledge base.
type ExtractRow struct {
	Item   string // e.g. Q172241
	Anchor string // join key against the provider snapshot
	Value  snapshot.Value
}

// NewExtract builds the snapshot-shaped extract view from assignment rows.
// Rows without an item or anchor are dropped; a duplicate anchor keeps the
// first row so the view stays deterministic.
func NewExtract(rows []ExtractRow) *snapshot.Snapshot {
	ex := snapshot.New("anchor", ExtractItemColumn, ExtractValueColumn)
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if row.Item == "" || row.Anchor == "" {
			continue
		}
		if _, ok := seen[row.Anchor]; ok {
			continue
		}
		seen[row.Anchor] = struct{}{}
		ex.Records = append(ex.Records, snapshot.Record{
			Key: row.Anchor,
			Values: map[string]snapshot.Value{
				ExtractItemColumn:  snapshot.String(row.Item),
				ExtractValueColumn: row.Value,
			},
		})
	}
	sort.SliceStable(ex.Records, func(i, j int) bool {
		return snapshot.CompareKeys(ex.Records[i].Key, ex.Records[j].Key) < 0
	})
	return ex
}

// QualifierColumn maps a snapshot column onto a statement qualifier.
type QualifierColumn struct {
	Property string
	Column   string
}

// Rule is the per-provider mapping configuration: how a snapshot record
// maps to a knowledge-base property and value, and how aggressively the
// provider's absence claims may be trusted.
type Rule struct {
	Provider string
	Property string

	// AnchorColumn names the snapshot column joined against extract
	// anchors; empty means the record key itself is the anchor.
	AnchorColumn string

	// ValueColumn names the snapshot column holding the value to record;
	// empty means the record key is the value.
	ValueColumn string

	// AvailableColumn optionally gates the value: when set, a record only
	// contributes its value while that column equals "true".
	AvailableColumn string

	// AuthoritativeRemoval enables deprecations for recorded values the
	// provider no longer lists. Most providers are append-only evidence,
	// so this defaults to off.
	AuthoritativeRemoval bool

	// UpdateInPlace replaces the deprecate+assert pair for a changed value
	// with a single update statement. Used for score-like properties that
	// are refreshed rather than contradicted.
	UpdateInPlace bool

	// ValuePattern and Sentinels feed the policy filter's sanity check:
	// values not matching the pattern, or equal to a sentinel, are
	// rejected before emission.
	ValuePattern *regexp.Regexp
	Sentinels    []string

	AssertSummary    string
	DeprecateSummary string

	// ExtractQuery is the knowledge-base query producing this provider's
	// extract, scoped to Property.
	ExtractQuery string

	// Qualifiers and ConstQualifiers are attached to assert/update
	// statements; PointInTime additionally stamps the run time.
	Qualifiers      []QualifierColumn
	ConstQualifiers []statement.Qualifier
	PointInTime     bool
}

// anchor returns the join key for a provider record under this rule.
func (r Rule) anchor(rec snapshot.Record) string {
	if r.AnchorColumn == "" {
		return rec.Key
	}
	return rec.Value(r.AnchorColumn).Str
}

// mappedValue returns the value this record contributes, Null when the
// record is gated unavailable.
func (r Rule) mappedValue(rec snapshot.Record) snapshot.Value {
	if r.AvailableColumn != "" && rec.Value(r.AvailableColumn).Str != "true" {
		return snapshot.Null
	}
	if r.ValueColumn == "" {
		return snapshot.String(rec.Key)
	}
	return rec.Value(r.ValueColumn)
}

// qualifiersFor assembles the qualifiers for an assert or update statement
// derived from rec.
func (r Rule) qualifiersFor(rec snapshot.Record, now time.Time) []statement.Qualifier {
	var quals []statement.Qualifier
	quals = append(quals, r.ConstQualifiers...)
	for _, qc := range r.Qualifiers {
		if v := rec.Value(qc.Column); v.Valid {
			quals = append(quals, statement.Qualifier{Property: qc.Property, Value: v.Str})
		}
	}
	if r.PointInTime {
		quals = append(quals, statement.Qualifier{
			Property: "P585",
			Value:    now.UTC().Format("+2006-01-02T00:00:00Z") + "/11",
		})
	}
	return quals
}
