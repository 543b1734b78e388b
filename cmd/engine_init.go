package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mediagraph/catalog-cli/internal/fetcher"
	"github.com/mediagraph/catalog-cli/internal/kb"
	"github.com/mediagraph/catalog-cli/internal/pipeline"
	"github.com/mediagraph/catalog-cli/internal/provider"
	"github.com/mediagraph/catalog-cli/internal/snapstore"
)

// catalogEnv holds the initialized store and engine needed by the
// harvest/reconcile/seed commands.
type catalogEnv struct {
	Store  snapstore.Store
	Engine *pipeline.Engine

	statements io.WriteCloser
}

// Close releases resources held by the environment.
func (ce *catalogEnv) Close() {
	if ce.statements != nil && ce.statements != os.Stdout {
		_ = ce.statements.Close()
	}
	if ce.Store != nil {
		_ = ce.Store.Close()
	}
}

// initEngine sets up the store, fetcher, knowledge-base client and provider
// registry, and builds the engine. Callers should defer env.Close().
func initEngine(ctx context.Context) (*catalogEnv, error) {
	st, err := snapstore.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  cfg.Fetch.UserAgent,
		Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Fetch.MaxRetries,
	})

	kbClient := kb.NewClient(f, kb.Options{
		QueryEndpoint:   cfg.KB.QueryEndpoint,
		APIEndpoint:     cfg.KB.APIEndpoint,
		BlocklistPageID: cfg.KB.BlocklistPageID,
	})

	// Statement stream: a file when configured, stdout otherwise. Diff
	// tables always go to stderr so the stream stays machine-readable.
	var statements io.WriteCloser = os.Stdout
	if cfg.Statements.OutPath != "" {
		statements, err = os.Create(cfg.Statements.OutPath)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrapf(err, "create statement output %s", cfg.Statements.OutPath)
		}
		zap.L().Info("writing statements to file", zap.String("path", cfg.Statements.OutPath))
	}

	reg := provider.NewRegistry(cfg)
	engine := pipeline.NewEngine(st, f, kbClient, reg, cfg, statements, os.Stderr)

	return &catalogEnv{Store: st, Engine: engine, statements: statements}, nil
}
