package state

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RenderSnapshot prints snapshot as a table.
func RenderSnapshot(w io.Writer, snapshot Snapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("LEDGER @ %s", time.Unix(0, snapshot.Timestamp).UTC().Format(time.RFC3339)))
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{"Symbol", "Qty", "Avg Price", "Realized", "Unrealized"})
	for _, entry := range snapshot.Positions {
		avg, unrealized := "-", "-"
		if entry.AvgPrice != nil {
			avg = entry.AvgPrice.String()
		}
		if entry.UnrealizedPnL != nil {
			unrealized = entry.UnrealizedPnL.String()
		}
		t.AppendRow(table.Row{entry.Symbol, entry.Qty.String(), avg, entry.RealizedPnL.String(), unrealized})
	}

	status := "active"
	if snapshot.Halted {
		status = "SAFE MODE"
	}
	t.AppendFooter(table.Row{
		"Open " + fmt.Sprint(snapshot.OpenPositions),
		"Fills " + fmt.Sprint(snapshot.DailyFills),
		"Daily P&L",
		snapshot.DailyRealizedPnL.String(),
		status,
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})

	t.Render()
}
