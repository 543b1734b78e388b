package main

import (
	"github.com/spf13/cobra"

	"github.com/mediagraph/catalog-cli/internal/report"
	"github.com/mediagraph/catalog-cli/internal/snapstore"
)

var (
	statusProvider string
	statusLimit    int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := snapstore.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(ctx, snapstore.RunFilter{
			Provider: statusProvider,
			Limit:    statusLimit,
		})
		if err != nil {
			return err
		}

		report.WriteRunsTable(cmd.OutOrStdout(), runs)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusProvider, "provider", "", "restrict to one provider")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "maximum runs to list")
	rootCmd.AddCommand(statusCmd)
}
