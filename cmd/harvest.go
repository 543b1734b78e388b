package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mediagraph/catalog-cli/internal/pipeline"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Harvest external catalogs into snapshots",
	Long: `Harvest pulls fresh rows from each due provider and merges them into
the persisted snapshot. Snapshots are append-only by key: a key once
observed is never dropped, and a column once filled keeps its first
observed value unless the provider marks it volatile.

By default every provider whose cadence is due runs. Use --providers to
restrict the run, or --force to ignore cadence scheduling.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := parseRunOpts(cmd)
		zap.L().Info("starting harvest",
			zap.Strings("providers", opts.Providers),
			zap.Bool("force", opts.Force),
		)

		if err := env.Engine.RunHarvest(ctx, opts); err != nil {
			return eris.Wrap(err, "harvest")
		}

		fmt.Println("Harvest complete")
		return nil
	},
}

func init() {
	harvestCmd.Flags().String("providers", "", "comma-separated provider names (e.g., imdb,tmdb_movie)")
	harvestCmd.Flags().Bool("force", false, "ignore cadence scheduling")
	rootCmd.AddCommand(harvestCmd)
}

// parseRunOpts extracts pipeline.RunOpts from the cobra command flags.
func parseRunOpts(cmd *cobra.Command) pipeline.RunOpts {
	providersStr, _ := cmd.Flags().GetString("providers")
	force, _ := cmd.Flags().GetBool("force")

	opts := pipeline.RunOpts{Force: force}
	if providersStr != "" {
		opts.Providers = strings.Split(providersStr, ",")
		for i := range opts.Providers {
			opts.Providers[i] = strings.TrimSpace(opts.Providers[i])
		}
	}
	return opts
}
