// Package report renders human-facing summaries of harvest and reconcile
// runs: terminal tables for the CLI and a markdown digest for CI step
// summaries.
package report

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/mediagraph/catalog-cli/internal/snapshot"
)

var np = message.NewPrinter(language.English)

// DiffLine is the one-line digest of a snapshot delta: comma-grouped
// added/removed/changed counts.
func DiffLine(d snapshot.Delta) string {
	return np.Sprintf("+%d -%d ~%d", len(d.Added), len(d.Removed), len(d.Changed))
}

// WriteDiffTable renders the per-key changes of a delta. Long deltas are
// truncated to keep terminal output usable; the digest line always carries
// the full counts.
func WriteDiffTable(w io.Writer, provider string, d snapshot.Delta, maxRows int) {
	fmt.Fprintf(w, "%s: %s\n", provider, DiffLine(d))
	if d.Empty() {
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Key", "Column", "Old", "New"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
	})

	rows := 0
	appendRow := func(r table.Row) bool {
		if maxRows > 0 && rows >= maxRows {
			return false
		}
		tw.AppendRow(r)
		rows++
		return true
	}

	for _, rec := range d.Added {
		if !appendRow(table.Row{rec.Key, "", "", "(added)"}) {
			break
		}
	}
	for _, rec := range d.Removed {
		if !appendRow(table.Row{rec.Key, "", "(removed)", ""}) {
			break
		}
	}
	for _, ch := range d.Changed {
		if !appendRow(table.Row{ch.Key, ch.Column, renderValue(ch.Old), renderValue(ch.New)}) {
			break
		}
	}
	tw.Render()

	total := len(d.Added) + len(d.Removed) + len(d.Changed)
	if maxRows > 0 && total > maxRows {
		np.Fprintf(w, "… and %d more\n", total-maxRows)
	}
}

// WriteStepSummary writes the markdown digest for a run, in the shape CI
// step summaries expect.
func WriteStepSummary(w io.Writer, title string, d snapshot.Delta) {
	fmt.Fprintf(w, "## %s\n", title)
	fmt.Fprintf(w, "%s\n", DiffLine(d))
}

func renderValue(v snapshot.Value) string {
	if !v.Valid {
		return "∅"
	}
	return v.Str
}
