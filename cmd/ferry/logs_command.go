package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ferry/internal/logs"
)

const followWait = time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		runID  string
		follow bool
		raw    bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the most recent log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			path, err := logs.Latest(cfg.Paths.LogDir)
			if err != nil {
				if errors.Is(err, logs.ErrNoLogs) {
					fmt.Fprintf(out, "No logs in %s\n", cfg.Paths.LogDir)
					return nil
				}
				return err
			}

			opts := logs.TailOptions{Offset: -1, Limit: lines}
			if runID != "" {
				opts.Match = logs.MatchRun(runID)
			}
			result, err := logs.Tail(cmd.Context(), path, opts)
			if err != nil {
				return err
			}
			printLogLines(out, result.Lines, raw)
			if !follow {
				return nil
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			offset := result.Offset
			for runCtx.Err() == nil {
				next, err := logs.Tail(runCtx, path, logs.TailOptions{Offset: offset, Follow: true, Wait: followWait, Match: opts.Match})
				if err != nil {
					if runCtx.Err() != nil {
						return nil
					}
					return err
				}
				printLogLines(out, next.Lines, raw)
				offset = next.Offset
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&runID, "run", "", "Only show lines from this run (id or prefix)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print JSON lines as written")
	return cmd
}

func printLogLines(out io.Writer, lines []string, raw bool) {
	for _, line := range lines {
		if !raw {
			line = logs.Format(line)
		}
		fmt.Fprintln(out, line)
	}
}
