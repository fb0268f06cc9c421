package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hospq/queue/internal/domain/queue"
	"github.com/hospq/queue/internal/platform/db"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect queues",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "board <departmentId>",
		Short: "Print today's queue for a department in service order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deptID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid department id %q", args[0])
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, cfg.Timezone)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := queue.NewService(queue.NewPGStore(pool), nil, queue.Options{
				Location: cfg.Location(),
				Logger:   zerolog.Nop(),
			})
			entries, err := svc.DepartmentQueue(ctx, deptID)
			if err != nil {
				return err
			}
			renderBoard(os.Stdout, entries)
			return nil
		},
	})

	return cmd
}

func renderBoard(out io.Writer, entries []*queue.QueueEntry) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"#", "Ticket", "Patient", "Visit", "Status", "Issued", "Skipped", "Score", "Position"})
	for i, e := range entries {
		pos := "-"
		if e.Position != nil {
			pos = strconv.Itoa(*e.Position)
		}
		skipped := ""
		if e.IsSkipped {
			skipped = "yes"
		}
		tw.AppendRow(table.Row{i + 1, e.TicketNumber, e.PatientName, e.VisitNumber, e.Status,
			e.IssuedTimeDisplay, skipped, e.PriorityScore, pos})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "", "", "", "Total", len(entries)})
	tw.Render()
}
