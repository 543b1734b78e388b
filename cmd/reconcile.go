package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Synthesize statements from snapshots vs the knowledge base",
	Long: `Reconcile cross-references each provider snapshot against the
knowledge base's recorded assignments and emits the statement stream for
the gap. The blocklist is fetched fresh first; when that fails nothing
is synthesized. Statements go to the configured output path, or stdout.

Repeated runs against a knowledge base that has absorbed the previous
output produce an empty stream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		opts := parseRunOpts(cmd)
		zap.L().Info("starting reconcile", zap.Strings("providers", opts.Providers))

		if err := env.Engine.RunReconcile(ctx, opts); err != nil {
			return eris.Wrap(err, "reconcile")
		}

		fmt.Fprintln(cmd.ErrOrStderr(), "Reconcile complete")
		return nil
	},
}

func init() {
	reconcileCmd.Flags().String("providers", "", "comma-separated provider names (e.g., imdb,tmdb_movie)")
	rootCmd.AddCommand(reconcileCmd)
}
