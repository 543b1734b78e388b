// Package provider defines the external catalogs we keep snapshots of and
// the harvesters that pull fresh rows from them. Each provider maps onto
// one knowledge-base property via its reconciliation Rule.
package provider

import (
	"context"
	"sort"
	"time"

	"github.com/mediagraph/catalog-cli/internal/fetcher"
	"github.com/mediagraph/catalog-cli/internal/reconcile"
	"github.com/mediagraph/catalog-cli/internal/snapshot"
)

// Cadence describes how often a catalog should be re-harvested.
type Cadence string

const (
	Daily   Cadence = "daily"
	Weekly  Cadence = "weekly"
	Monthly Cadence = "monthly"
)

// interval returns the minimum gap between harvests for the cadence.
func (c Cadence) interval() time.Duration {
	switch c {
	case Daily:
		return 24 * time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	case Monthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Due is the default scheduling rule: run when never run before, or when
// the cadence interval has elapsed.
func (c Cadence) Due(now time.Time, lastRun *time.Time) bool {
	return lastRun == nil || now.Sub(*lastRun) >= c.interval()
}

// Provider is one external catalog. Harvest returns freshly fetched rows
// in Record shape; the pipeline owns merging them into the persisted
// snapshot, so Harvest never mutates prior.
type Provider interface {
	// Name returns the unique identifier for this provider (e.g. "tmdb_movie").
	Name() string

	// Property returns the knowledge-base property this provider's keys
	// map to (e.g. "P4947").
	Property() string

	// Cadence returns how often the catalog changes upstream.
	Cadence() Cadence

	// ShouldRun decides if this provider needs harvesting given the
	// current time and the last successful run (nil if never run).
	ShouldRun(now time.Time, lastRun *time.Time) bool

	// KeyColumn and Columns fix the snapshot schema for this provider.
	KeyColumn() string
	Columns() []string

	// VolatileColumns names the observation columns whose latest value
	// wins on merge; all others keep the first observed value.
	VolatileColumns() []string

	// Harvest fetches the provider's current rows. prior is the persisted
	// snapshot from the previous run, read-only; harvesters use it to
	// limit refresh work to keys with missing or stale columns.
	Harvest(ctx context.Context, f fetcher.Fetcher, prior *snapshot.Snapshot) ([]snapshot.Record, error)

	// Rule returns the reconciliation mapping for this provider.
	Rule() reconcile.Rule
}

// sortRecordsByKey orders harvested records canonically before they are
// handed to the merge.
func sortRecordsByKey(recs []snapshot.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return snapshot.CompareKeys(recs[i].Key, recs[j].Key) < 0
	})
}
