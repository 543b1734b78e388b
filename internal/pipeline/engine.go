// Package pipeline orchestrates the harvest and reconcile runs: it walks
// the selected providers, moves data between the fetch layer, the snapshot
// store and the knowledge base, and records every run in the run log.
package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mediagraph/catalog-cli/internal/config"
	"github.com/mediagraph/catalog-cli/internal/fetcher"
	"github.com/mediagraph/catalog-cli/internal/kb"
	"github.com/mediagraph/catalog-cli/internal/policy"
	"github.com/mediagraph/catalog-cli/internal/provider"
	"github.com/mediagraph/catalog-cli/internal/reconcile"
	"github.com/mediagraph/catalog-cli/internal/report"
	"github.com/mediagraph/catalog-cli/internal/snapshot"
	"github.com/mediagraph/catalog-cli/internal/snapstore"
	"github.com/mediagraph/catalog-cli/internal/statement"
)

// diffTableRows caps the per-provider diff table in terminal output.
const diffTableRows = 50

// KB is the knowledge-base surface the engine needs; kb.Client implements it.
type KB interface {
	FetchExtract(ctx context.Context, query string) (*snapshot.Snapshot, error)
	FetchBlocklist(ctx context.Context) (*policy.Blocklist, error)
}

// Engine orchestrates runs across the registered providers.
type Engine struct {
	store   snapstore.Store
	fetcher fetcher.Fetcher
	kb      KB
	reg     *provider.Registry
	cfg     *config.Config

	// Statements and reports go to separate streams so the statement
	// output stays machine-readable.
	statementsOut io.Writer
	reportOut     io.Writer
}

// RunOpts configures which providers to run and how.
type RunOpts struct {
	Providers []string // restrict to specific provider names
	Force     bool     // ignore cadence scheduling
}

// NewEngine creates an engine over the given collaborators.
func NewEngine(store snapstore.Store, f fetcher.Fetcher, kbClient KB, reg *provider.Registry, cfg *config.Config, statementsOut, reportOut io.Writer) *Engine {
	return &Engine{
		store:         store,
		fetcher:       f,
		kb:            kbClient,
		reg:           reg,
		cfg:           cfg,
		statementsOut: statementsOut,
		reportOut:     reportOut,
	}
}

// RunHarvest pulls fresh rows from each due provider and merges them into
// the persisted snapshot. A provider failure leaves its previous snapshot
// authoritative and does not stop the others.
func (e *Engine) RunHarvest(ctx context.Context, opts RunOpts) error {
	log := zap.L().With(zap.String("component", "pipeline.harvest"))
	now := time.Now().UTC()

	providers, err := e.reg.Select(opts.Providers)
	if err != nil {
		return err
	}

	var harvested, skipped, failed int

	for _, p := range providers {
		if err := ctx.Err(); err != nil {
			return err
		}

		pLog := log.With(zap.String("provider", p.Name()))

		if !opts.Force {
			lastRun, err := e.store.LastSuccess(ctx, p.Name(), snapstore.RunHarvest)
			if err != nil {
				return eris.Wrapf(err, "pipeline: check last harvest for %s", p.Name())
			}
			if !p.ShouldRun(now, lastRun) {
				pLog.Debug("skipping (not due)")
				skipped++
				continue
			}
		}

		pLog.Info("starting harvest")
		runID, err := e.store.StartRun(ctx, p.Name(), snapstore.RunHarvest)
		if err != nil {
			return eris.Wrapf(err, "pipeline: start run for %s", p.Name())
		}

		summary, err := e.harvestOne(ctx, p)
		if err != nil {
			pLog.Error("harvest failed", zap.Error(err))
			if logErr := e.store.FailRun(ctx, runID, err.Error()); logErr != nil {
				pLog.Error("failed to record harvest failure", zap.Error(logErr))
			}
			failed++
			continue
		}

		if err := e.store.CompleteRun(ctx, runID, summary); err != nil {
			pLog.Error("failed to record harvest completion", zap.Error(err))
		}
		pLog.Info("harvest complete",
			zap.Int("harvested", summary.Harvested),
			zap.Int("appended", summary.Appended),
			zap.Int("rejected", summary.Rejected),
		)
		harvested++
	}

	log.Info("harvest run complete",
		zap.Int("harvested", harvested),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)
	if failed > 0 {
		return eris.Errorf("pipeline: %d provider harvest(s) failed", failed)
	}
	return nil
}

func (e *Engine) harvestOne(ctx context.Context, p provider.Provider) (snapstore.RunSummary, error) {
	var summary snapstore.RunSummary

	prior, err := e.store.LoadSnapshot(ctx, p.Name())
	if err != nil {
		return summary, err
	}

	recs, err := p.Harvest(ctx, e.fetcher, prior)
	if err != nil {
		return summary, err
	}
	summary.Harvested = len(recs)

	base := prior
	if base == nil {
		base = snapshot.New(p.KeyColumn(), p.Columns()...)
	}

	merged, stats, err := snapshot.MergeVolatile(base, recs, p.VolatileColumns())
	if err != nil {
		return summary, err
	}
	summary.Appended = stats.Appended
	summary.Filled = stats.Filled
	summary.Refreshed = stats.Refreshed
	summary.Rejected = stats.Rejected

	if err := e.store.SaveSnapshot(ctx, p.Name(), merged); err != nil {
		return summary, err
	}

	if e.reportOut != nil {
		report.WriteDiffTable(e.reportOut, p.Name(), *snapshot.Diff(prior, merged), diffTableRows)
	}
	return summary, nil
}

// RunReconcile cross-references each provider snapshot against the
// knowledge base and emits the accepted statements. The blocklist is
// fetched fresh first; if that fails nothing is synthesized.
func (e *Engine) RunReconcile(ctx context.Context, opts RunOpts) error {
	log := zap.L().With(zap.String("component", "pipeline.reconcile"))

	providers, err := e.reg.Select(opts.Providers)
	if err != nil {
		return err
	}

	bl, err := e.kb.FetchBlocklist(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: fetch blocklist")
	}
	if path := e.cfg.KB.BlocklistFile; path != "" {
		if err := kb.ApplyBlocklistFile(bl, path); err != nil {
			return eris.Wrap(err, "pipeline: apply blocklist file")
		}
	}
	log.Info("blocklist loaded", zap.Int("entries", bl.Len()))

	now := time.Now().UTC()
	var failed int

	for _, p := range providers {
		if err := ctx.Err(); err != nil {
			return err
		}

		pLog := log.With(zap.String("provider", p.Name()))

		runID, err := e.store.StartRun(ctx, p.Name(), snapstore.RunReconcile)
		if err != nil {
			return eris.Wrapf(err, "pipeline: start run for %s", p.Name())
		}

		summary, err := e.reconcileOne(ctx, p, bl, now)
		if err != nil {
			pLog.Error("reconcile failed", zap.Error(err))
			if logErr := e.store.FailRun(ctx, runID, err.Error()); logErr != nil {
				pLog.Error("failed to record reconcile failure", zap.Error(logErr))
			}
			failed++
			continue
		}

		if err := e.store.CompleteRun(ctx, runID, summary); err != nil {
			pLog.Error("failed to record reconcile completion", zap.Error(err))
		}
		pLog.Info("reconcile complete",
			zap.Int("statements", summary.Statements),
			zap.Int("dropped", summary.Dropped),
			zap.Int("unresolved", summary.Unresolved),
		)
	}

	if failed > 0 {
		return eris.Errorf("pipeline: %d provider reconcile(s) failed", failed)
	}
	return nil
}

func (e *Engine) reconcileOne(ctx context.Context, p provider.Provider, bl *policy.Blocklist, now time.Time) (snapstore.RunSummary, error) {
	var summary snapstore.RunSummary

	snap, err := e.store.LoadSnapshot(ctx, p.Name())
	if err != nil {
		return summary, err
	}
	if snap == nil {
		return summary, eris.Errorf("pipeline: no snapshot for %s, harvest or seed first", p.Name())
	}

	rule := p.Rule()
	extract, err := e.kb.FetchExtract(ctx, rule.ExtractQuery)
	if err != nil {
		return summary, err
	}

	candidates, stats, err := reconcile.Synthesize(snap, extract, rule, now)
	if err != nil {
		return summary, err
	}
	summary.Unresolved = stats.Unresolved

	accepted, dropped := policy.Filter(candidates, bl, rule)
	summary.Statements = len(accepted)
	summary.Dropped = dropped.Total()

	// Statements are buffered in memory and only written once the whole
	// provider pass succeeded, so a partial failure emits nothing.
	if e.statementsOut != nil && len(accepted) > 0 {
		if err := statement.Write(e.statementsOut, accepted); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// RunSeed populates key-anchored provider snapshots from the identifiers
// the knowledge base already records, so availability checkers have keys
// to verify before they ever harvest.
func (e *Engine) RunSeed(ctx context.Context, opts RunOpts) error {
	log := zap.L().With(zap.String("component", "pipeline.seed"))

	providers, err := e.reg.Select(opts.Providers)
	if err != nil {
		return err
	}

	var failed int
	for _, p := range providers {
		if err := ctx.Err(); err != nil {
			return err
		}

		pLog := log.With(zap.String("provider", p.Name()))
		if p.Rule().AnchorColumn != "" {
			pLog.Debug("skipping (keys discovered by harvest)")
			continue
		}

		runID, err := e.store.StartRun(ctx, p.Name(), snapstore.RunSeed)
		if err != nil {
			return eris.Wrapf(err, "pipeline: start run for %s", p.Name())
		}

		summary, err := e.seedOne(ctx, p)
		if err != nil {
			pLog.Error("seed failed", zap.Error(err))
			if logErr := e.store.FailRun(ctx, runID, err.Error()); logErr != nil {
				pLog.Error("failed to record seed failure", zap.Error(logErr))
			}
			failed++
			continue
		}

		if err := e.store.CompleteRun(ctx, runID, summary); err != nil {
			pLog.Error("failed to record seed completion", zap.Error(err))
		}
		pLog.Info("seed complete", zap.Int("appended", summary.Appended))
	}

	if failed > 0 {
		return eris.Errorf("pipeline: %d provider seed(s) failed", failed)
	}
	return nil
}

func (e *Engine) seedOne(ctx context.Context, p provider.Provider) (snapstore.RunSummary, error) {
	var summary snapstore.RunSummary

	extract, err := e.kb.FetchExtract(ctx, p.Rule().ExtractQuery)
	if err != nil {
		return summary, err
	}

	recs := make([]snapshot.Record, 0, extract.Len())
	for _, row := range extract.Records {
		recs = append(recs, snapshot.Record{Key: row.Key, Values: map[string]snapshot.Value{}})
	}
	summary.Harvested = len(recs)

	prior, err := e.store.LoadSnapshot(ctx, p.Name())
	if err != nil {
		return summary, err
	}
	base := prior
	if base == nil {
		base = snapshot.New(p.KeyColumn(), p.Columns()...)
	}

	merged, stats, err := snapshot.Merge(base, recs)
	if err != nil {
		return summary, err
	}
	summary.Appended = stats.Appended

	if err := e.store.SaveSnapshot(ctx, p.Name(), merged); err != nil {
		return summary, err
	}
	return summary, nil
}
