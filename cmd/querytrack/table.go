package main

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/hanpama/querystore/internal/querystore"
)

// renderRecords formats records as a table ordered by id.
func renderRecords(records map[querystore.ID]querystore.Record) string {
	ids := make([]querystore.ID, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "STATUS", "VARIABLES", "ERRORS"})
	for _, id := range ids {
		rec := records[id]
		tw.AppendRow(table.Row{string(id), rec.Status.String(), formatVariables(rec.Variables), errorSummary(rec)})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 3, Align: text.AlignLeft, AlignHeader: text.AlignLeft, WidthMax: 48},
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func formatVariables(vars querystore.Variables) string {
	if len(vars) == 0 {
		return "-"
	}
	b, err := json.Marshal(vars)
	if err != nil {
		return "?"
	}
	return string(b)
}

func errorSummary(rec querystore.Record) string {
	if rec.NetworkError != nil {
		return rec.NetworkError.Error()
	}
	if n := len(rec.GraphQLErrors); n > 0 {
		return strconv.Itoa(n)
	}
	return "-"
}
