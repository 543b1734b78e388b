package reconcile

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/mediagraph/catalog-cli/internal/snapshot"
	"github.com/mediagraph/catalog-cli/internal/statement"
)

// ErrEmptyExtract means the knowledge-base extract came back with no rows
// where rows were expected. Synthesizing against a truncated extract would
// mass-reassert recorded facts (or deprecate everything), so the run is
// refused instead.
var ErrEmptyExtract = eris.New("reconcile: empty knowledge-base extract")

// Stats counts what synthesis decided.
type Stats struct {
	Asserts    int
	Deprecates int
	Updates    int
	Conflicts  int // recorded value contradicted by the provider
	Unresolved int // provider anchors unknown to the knowledge base
	Unverified int // records carrying no availability observation yet
}

// Synthesize compares a provider snapshot against the knowledge-base
// extract and returns the candidate statements for the gap, ordered by
// item then property. Repeated runs against an extract that has already
// absorbed the output produce an empty set.
//
// Both inputs are projected to anchor→value views and joined with
// snapshot.Diff, which is the single shared join/ordering implementation:
//   - value recorded but missing upstream: deprecate, only when the rule
//     marks the provider authoritative for removals;
//   - value upstream but unrecorded: assert;
//   - contradiction (different value recorded from this provider's fact
//     set): deprecate-old + assert-new pair, or one update statement when
//     the rule refreshes in place. The recorded statement is never simply
//     dropped.
//
// Provider anchors the extract does not know resolve to no item and are
// only counted.
//
// For rules with an AvailableColumn, deprecation requires an explicit
// negative observation. A record whose availability was never checked
// (seeded keys, harvest caps) is no evidence either way: it is skipped
// and counted, never deprecated. The same holds for recorded anchors
// absent from the snapshot entirely.
func Synthesize(provider, extract *snapshot.Snapshot, rule Rule, now time.Time) ([]statement.Statement, Stats, error) {
	var stats Stats

	if extract.Len() == 0 {
		return nil, stats, eris.Wrapf(ErrEmptyExtract, "provider %s property %s", rule.Provider, rule.Property)
	}

	itemByAnchor := make(map[string]string, extract.Len())
	extractView := snapshot.New("anchor", ExtractValueColumn)
	for _, rec := range extract.Records {
		item := rec.Value(ExtractItemColumn).Str
		if item == "" {
			continue
		}
		itemByAnchor[rec.Key] = item
		extractView.Records = append(extractView.Records, snapshot.Record{
			Key:    rec.Key,
			Values: map[string]snapshot.Value{ExtractValueColumn: rec.Value(ExtractValueColumn)},
		})
	}

	providerView := snapshot.New("anchor", ExtractValueColumn)
	recByAnchor := make(map[string]snapshot.Record)
	if provider != nil {
		for _, rec := range provider.Records {
			anchor := rule.anchor(rec)
			if anchor == "" {
				continue
			}
			if _, ok := recByAnchor[anchor]; ok {
				continue // provider listed the same anchor twice; first record wins
			}
			if rule.AvailableColumn != "" && !rec.Value(rule.AvailableColumn).Valid {
				stats.Unverified++
				continue
			}
			recByAnchor[anchor] = rec
			providerView.Records = append(providerView.Records, snapshot.Record{
				Key:    anchor,
				Values: map[string]snapshot.Value{ExtractValueColumn: rule.mappedValue(rec)},
			})
		}
	}

	d := snapshot.Diff(extractView, providerView)

	var out []statement.Statement

	stats.Unresolved = len(d.Added)

	for _, rec := range d.Removed {
		recorded := rec.Value(ExtractValueColumn)
		if !recorded.Valid || !rule.AuthoritativeRemoval {
			continue
		}
		// Availability-gated rules only learn of absence through a checked
		// record; an anchor missing from the snapshot was never observed.
		if rule.AvailableColumn != "" {
			continue
		}
		out = append(out, statement.Statement{
			Item:     itemByAnchor[rec.Key],
			Property: rule.Property,
			Value:    recorded.Str,
			Op:       statement.OpDeprecate,
			Summary:  rule.DeprecateSummary,
		})
		stats.Deprecates++
	}

	for _, ch := range d.Changed {
		item := itemByAnchor[ch.Key]
		rec := recByAnchor[ch.Key]

		switch {
		case !ch.Old.Valid && ch.New.Valid:
			out = append(out, statement.Statement{
				Item:       item,
				Property:   rule.Property,
				Value:      ch.New.Str,
				Op:         statement.OpAssert,
				Qualifiers: rule.qualifiersFor(rec, now),
				Summary:    rule.AssertSummary,
			})
			stats.Asserts++

		case ch.Old.Valid && !ch.New.Valid:
			if !rule.AuthoritativeRemoval {
				continue
			}
			out = append(out, statement.Statement{
				Item:     item,
				Property: rule.Property,
				Value:    ch.Old.Str,
				Op:       statement.OpDeprecate,
				Summary:  rule.DeprecateSummary,
			})
			stats.Deprecates++

		default:
			stats.Conflicts++
			if rule.UpdateInPlace {
				out = append(out, statement.Statement{
					Item:       item,
					Property:   rule.Property,
					Value:      ch.New.Str,
					Op:         statement.OpUpdate,
					Qualifiers: rule.qualifiersFor(rec, now),
					Summary:    rule.AssertSummary,
				})
				stats.Updates++
				continue
			}
			out = append(out, statement.Statement{
				Item:     item,
				Property: rule.Property,
				Value:    ch.Old.Str,
				Op:       statement.OpDeprecate,
				Summary:  rule.DeprecateSummary,
			}, statement.Statement{
				Item:       item,
				Property:   rule.Property,
				Value:      ch.New.Str,
				Op:         statement.OpAssert,
				Qualifiers: rule.qualifiersFor(rec, now),
				Summary:    rule.AssertSummary,
			})
			stats.Deprecates++
			stats.Asserts++
		}
	}

	statement.Sort(out)
	return out, stats, nil
}
