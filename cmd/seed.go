package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed snapshots from identifiers the knowledge base records",
	Long: `Seed populates key-anchored provider snapshots (imdb, itunes,
opencritic) from the identifiers the knowledge base already records, so
availability checkers have keys to verify before their first harvest.
Providers that discover keys upstream are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := parseRunOpts(cmd)
		zap.L().Info("starting seed", zap.Strings("providers", opts.Providers))

		if err := env.Engine.RunSeed(ctx, opts); err != nil {
			return eris.Wrap(err, "seed")
		}

		fmt.Println("Seed complete")
		return nil
	},
}

func init() {
	seedCmd.Flags().String("providers", "", "comma-separated provider names (e.g., imdb,itunes)")
	rootCmd.AddCommand(seedCmd)
}
