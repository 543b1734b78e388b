package report

import (
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/mediagraph/catalog-cli/internal/snapstore"
)

// WriteRunsTable renders run-log entries for the status command.
func WriteRunsTable(w io.Writer, runs []snapstore.Run) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Provider", "Kind", "Status", "Started", "Duration", "Summary"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})

	for _, r := range runs {
		tw.AppendRow(table.Row{
			r.Provider,
			string(r.Kind),
			string(r.Status),
			r.StartedAt.Format(time.RFC3339),
			runDuration(r),
			runSummary(r),
		})
	}
	tw.Render()
}

func runDuration(r snapstore.Run) string {
	if r.FinishedAt == nil {
		return ""
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
}

func runSummary(r snapstore.Run) string {
	if r.Status == snapstore.RunStatusFailed {
		return r.Error
	}
	s := r.Summary
	if s == nil {
		return ""
	}
	switch {
	case s.Statements > 0 || s.Dropped > 0 || s.Unresolved > 0:
		return np.Sprintf("%d statements, %d dropped, %d unresolved", s.Statements, s.Dropped, s.Unresolved)
	default:
		return np.Sprintf("%d new, %d filled, %d refreshed of %d harvested", s.Appended, s.Filled, s.Refreshed, s.Harvested)
	}
}
