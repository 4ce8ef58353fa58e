package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/vincentbai/gazetrace-agent/internal/database"
	"github.com/vincentbai/gazetrace-agent/internal/models"
)

func exportsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "exports",
		Short: "List stored session exports",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.NewDatabase(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			exports, err := db.ListExports(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(exports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No exports found")
				return nil
			}
			renderExports(cmd.OutOrStdout(), exports)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of exports to list")
	return cmd
}

func renderExports(out io.Writer, exports []models.StoredExport) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Session", "Created", "Points", "Size", "Calibrated"})
	for _, e := range exports {
		t.AppendRow(table.Row{
			e.ID,
			e.SessionID,
			humanize.Time(time.Unix(e.CreatedUTC, 0)),
			humanize.Comma(int64(e.Points)),
			humanize.Bytes(uint64(e.Bytes)),
			e.Calibrated,
		})
	}
	t.AppendFooter(table.Row{"", "", "Total", len(exports)})
	t.Render()
}
