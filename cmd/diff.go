package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/mediagraph/catalog-cli/internal/report"
	"github.com/mediagraph/catalog-cli/internal/snapshot"
	"github.com/mediagraph/catalog-cli/internal/snapstore"
)

var (
	diffMaxRows int
	diffSummary bool
)

var diffCmd = &cobra.Command{
	Use:   "diff <provider>",
	Short: "Show the diff between the last two snapshot generations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name := args[0]

		st, err := snapstore.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()

		latest, err := st.LoadSnapshot(ctx, name)
		if err != nil {
			return err
		}
		if latest == nil {
			return eris.Errorf("diff: no snapshot for %s", name)
		}
		previous, err := st.PreviousSnapshot(ctx, name)
		if err != nil {
			return err
		}

		d := snapshot.Diff(previous, latest)

		if diffSummary {
			out := cmd.OutOrStdout()
			if path := cfg.Statements.SummaryPath; path != "" {
				f, err := os.Create(path)
				if err != nil {
					return eris.Wrapf(err, "diff: create summary %s", path)
				}
				defer f.Close()
				out = f
			}
			report.WriteStepSummary(out, name, *d)
			return nil
		}

		report.WriteDiffTable(cmd.OutOrStdout(), name, *d, diffMaxRows)
		fmt.Fprintln(cmd.OutOrStdout(), report.DiffLine(*d))
		return nil
	},
}

func init() {
	diffCmd.Flags().IntVar(&diffMaxRows, "max-rows", 50, "maximum diff rows to print")
	diffCmd.Flags().BoolVar(&diffSummary, "summary", false, "emit a markdown step summary instead of a table")
	rootCmd.AddCommand(diffCmd)
}
