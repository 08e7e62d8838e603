package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ferry/internal/ingest"
	"ferry/internal/journal"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		limit     int
		pruneDays int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded upload and delete runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			j, err := journal.Open(cfg)
			if err != nil {
				return fmt.Errorf("open run journal: %w", err)
			}
			defer j.Close()

			out := cmd.OutOrStdout()
			if pruneDays > 0 {
				removed, err := j.Prune(cmd.Context(), time.Now().AddDate(0, 0, -pruneDays))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d runs older than %d days\n", removed, pruneDays)
			}

			runs, err := j.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					shortID(run.ID),
					titleCaser.String(run.Kind),
					run.Mode,
					run.StartedAt.Local().Format("2006-01-02 15:04:05"),
					runDuration(run),
					strconv.Itoa(run.Attempted),
					strconv.Itoa(run.Succeeded),
					strconv.Itoa(run.Failed),
					runOutcome(run),
				})
			}
			headers := []string{"Run", "Kind", "Mode", "Started", "Duration", "Attempted", "Succeeded", "Failed", "Outcome"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft}
			fmt.Fprintln(out, renderTable(headers, rows, aligns))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show (0 for all)")
	cmd.Flags().IntVar(&pruneDays, "prune-days", 0, "First remove finished runs older than this many days")
	return cmd
}

func runDuration(run journal.Run) string {
	if !run.Finished() {
		return "-"
	}
	return run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
}

func runOutcome(run journal.Run) string {
	switch {
	case !run.Finished():
		return "unfinished"
	case run.Cancelled:
		return "cancelled"
	case run.Failed > 0:
		return "with errors"
	default:
		return "ok"
	}
}

func newReportCommand(ctx *commandContext) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "report RUN_ID",
		Short: "Write the CSV report of a recorded run",
		Long:  "Report regenerates the CSV report of a run from the journal. RUN_ID may be any unique\nprefix of the id shown by `ferry history`.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			j, err := journal.Open(cfg)
			if err != nil {
				return fmt.Errorf("open run journal: %w", err)
			}
			defer j.Close()

			run, err := j.FindRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			entries, err := j.Entries(cmd.Context(), run.ID)
			if err != nil {
				return err
			}

			path := strings.TrimSpace(outputPath)
			if path == "" || path == "-" {
				return ingest.WriteReport(cmd.OutOrStdout(), entries)
			}
			if err := writeReportFile(path, entries); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Report for run %s written to %s\n", shortID(run.ID), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Report file (default stdout)")
	return cmd
}
