// Package policy applies the blocklist and per-provider sanity checks to
// candidate statements before they are handed to the application layer.
// The filter is purely subtractive: it never mutates or reorders what it
// accepts.
package policy

import (
	"github.com/mediagraph/catalog-cli/internal/reconcile"
	"github.com/mediagraph/catalog-cli/internal/statement"
)

// Blocklist is the set of items (and optional item/property pairs) that
// must never receive synthesized statements. It is fetched fresh each run
// and authoritative for that run only.
type Blocklist struct {
	items map[string]struct{}
	pairs map[string]struct{}
}

// NewBlocklist builds a blocklist from item identifiers.
func NewBlocklist(items []string) *Blocklist {
	b := &Blocklist{
		items: make(map[string]struct{}, len(items)),
		pairs: make(map[string]struct{}),
	}
	for _, item := range items {
		b.items[item] = struct{}{}
	}
	return b
}

// Add blocks every statement targeting item.
func (b *Blocklist) Add(item string) {
	b.items[item] = struct{}{}
}

// AddPair blocks a single property on an item instead of the whole item.
func (b *Blocklist) AddPair(item, property string) {
	b.pairs[item+"|"+property] = struct{}{}
}

// Blocked reports whether statements targeting item/property are vetoed.
func (b *Blocklist) Blocked(item, property string) bool {
	if b == nil {
		return false
	}
	if _, ok := b.items[item]; ok {
		return true
	}
	_, ok := b.pairs[item+"|"+property]
	return ok
}

// Len returns the number of blocked items.
func (b *Blocklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.items)
}

// Dropped counts why candidates were rejected.
type Dropped struct {
	Blocked   int
	Empty     int
	Malformed int // value does not match the provider's shape
	Sentinel  int // value is the provider's "unknown" marker
}

// Total returns the number of dropped candidates.
func (d Dropped) Total() int {
	return d.Blocked + d.Empty + d.Malformed + d.Sentinel
}

// Filter returns the candidates that survive the blocklist and the rule's
// sanity predicate. The result is always a subsequence of candidates, in
// the same relative order, and the surviving statements are returned
// untouched.
func Filter(candidates []statement.Statement, bl *Blocklist, rule reconcile.Rule) ([]statement.Statement, Dropped) {
	var dropped Dropped
	accepted := make([]statement.Statement, 0, len(candidates))

	for _, st := range candidates {
		if bl.Blocked(st.Item, st.Property) {
			dropped.Blocked++
			continue
		}
		if st.Value == "" {
			dropped.Empty++
			continue
		}
		if isSentinel(st.Value, rule.Sentinels) {
			dropped.Sentinel++
			continue
		}
		if rule.ValuePattern != nil && !rule.ValuePattern.MatchString(st.Value) {
			dropped.Malformed++
			continue
		}
		accepted = append(accepted, st)
	}

	return accepted, dropped
}

func isSentinel(value string, sentinels []string) bool {
	for _, s := range sentinels {
		if value == s {
			return true
		}
	}
	return false
}
