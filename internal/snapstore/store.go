// Package snapstore persists provider snapshots and the run log. Each
// save creates a new snapshot generation; the previous generation is kept
// so a diff can always be computed against what the last run saw.
package snapstore

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/mediagraph/catalog-cli/internal/config"
	"github.com/mediagraph/catalog-cli/internal/snapshot"
)

// Generations kept per provider. The latest is authoritative; the one
// before it feeds diff reports.
const keepGenerations = 2

// RunKind distinguishes run-log entries.
type RunKind string

const (
	RunHarvest   RunKind = "harvest"
	RunReconcile RunKind = "reconcile"
	RunSeed      RunKind = "seed"
)

// RunStatus is the lifecycle state of a logged run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunSummary captures what a completed run did.
type RunSummary struct {
	Harvested  int `json:"harvested,omitempty"`
	Appended   int `json:"appended,omitempty"`
	Filled     int `json:"filled,omitempty"`
	Refreshed  int `json:"refreshed,omitempty"`
	Rejected   int `json:"rejected,omitempty"`
	Statements int `json:"statements,omitempty"`
	Dropped    int `json:"dropped,omitempty"`
	Unresolved int `json:"unresolved,omitempty"`
}

// Run is one run-log entry.
type Run struct {
	ID         string      `json:"id"`
	Provider   string      `json:"provider"`
	Kind       RunKind     `json:"kind"`
	Status     RunStatus   `json:"status"`
	Summary    *RunSummary `json:"summary,omitempty"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Provider string
	Kind     RunKind
	Status   RunStatus
	Limit    int
}

// Store is the persistence interface for snapshots and the run log.
type Store interface {
	// LoadSnapshot returns the latest snapshot generation for a provider,
	// or nil when none has been saved yet.
	LoadSnapshot(ctx context.Context, provider string) (*snapshot.Snapshot, error)

	// PreviousSnapshot returns the generation before the latest, or nil.
	PreviousSnapshot(ctx context.Context, provider string) (*snapshot.Snapshot, error)

	// SaveSnapshot persists a new generation and prunes generations past
	// the retention window.
	SaveSnapshot(ctx context.Context, provider string, snap *snapshot.Snapshot) error

	// Run log.
	StartRun(ctx context.Context, provider string, kind RunKind) (string, error)
	CompleteRun(ctx context.Context, runID string, summary RunSummary) error
	FailRun(ctx context.Context, runID string, message string) error
	LastSuccess(ctx context.Context, provider string, kind RunKind) (*time.Time, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the store selected by configuration.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("snapstore: unknown driver %q", cfg.Driver)
	}
}
