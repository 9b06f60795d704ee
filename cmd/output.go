package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/icco/trendwatch/lib/trends"
)

type table struct {
	table  *tablewriter.Table
	header []string
	rows   [][]string
}

func newTable(w io.Writer, header ...string) *table {
	t := tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoWrap: tw.WrapNone},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Separators: tw.Separators{ShowHeader: tw.Off},
			},
		}),
	)
	return &table{table: t, header: header}
}

func (t *table) add(row ...string) {
	t.rows = append(t.rows, row)
}

func (t *table) render() error {
	t.table.Header(t.header)
	if err := t.table.Bulk(t.rows); err != nil {
		return fmt.Errorf("failed to add table rows: %w", err)
	}
	return t.table.Render()
}

func colorize(c *color.Color, s string) string {
	if noColor {
		return s
	}
	return c.Sprint(s)
}

var (
	upColor   = color.New(color.FgGreen)
	downColor = color.New(color.FgRed)
	headColor = color.New(color.Bold)
)

func changeCell(r trends.TrendRecord) string {
	s := fmt.Sprintf("%+.1f%%", r.ChangePercent)
	if r.TrendType.Up() {
		return colorize(upColor, s)
	}
	return colorize(downColor, s)
}

func heading(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, colorize(headColor, fmt.Sprintf(format, args...)))
}
